// Package chunking splits text into overlapping, boundary-aware segments.
package chunking

import (
	"strings"
	"unicode"
)

// Lookback is the maximum number of characters searched on either side of a
// cut point for a word boundary.
const Lookback = 100

// TextChunk is one segment of a larger text.
//
// CharStart and CharEnd are rune offsets into the original text such that
// Text equals the trimmed runes in [CharStart, CharEnd).
type TextChunk struct {
	Order     int    `json:"order"`
	Text      string `json:"text"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// Chunk splits text into segments of at most chunkChars characters, with
// consecutive segments overlapping by up to overlap characters.
//
// Cuts are moved back to the end of the nearest whitespace or punctuation
// run within Lookback characters. The next segment starts just past the first
// whitespace run after the overlap point. The cursor always advances by at
// least one character, so any overlap value terminates.
func Chunk(text string, chunkChars, overlap int) []TextChunk {
	if text == "" {
		return nil
	}
	if chunkChars <= 0 {
		chunkChars = 1
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	chunks := make([]TextChunk, 0, n/chunkChars+1)

	start := 0
	for start < n {
		end := min(start+chunkChars, n)

		if end < n {
			searchStart := max(start, end-Lookback)
			if b := lastBoundaryEnd(runes, searchStart, end); b > 0 {
				end = b
			}
		}

		chunks = appendTrimmed(chunks, runes, start, end)

		if end >= n {
			break
		}

		overlapStart := max(end-overlap, start+1)
		next := end
		if ws := nextWhitespaceEnd(runes, overlapStart, min(overlapStart+Lookback, n)); ws > 0 && ws <= end {
			next = ws
		}
		start = next
	}

	return chunks
}

// Texts returns just the text of each chunk.
func Texts(chunks []TextChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// appendTrimmed appends runes[start:end] with surrounding whitespace removed.
// A segment that starts where the previous one did only widens it.
func appendTrimmed(chunks []TextChunk, runes []rune, start, end int) []TextChunk {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start == end {
		return chunks
	}

	if last := len(chunks) - 1; last >= 0 && start <= chunks[last].CharStart {
		if end > chunks[last].CharEnd {
			chunks[last].CharEnd = end
			chunks[last].Text = string(runes[chunks[last].CharStart:end])
		}
		return chunks
	}

	return append(chunks, TextChunk{
		Order:     len(chunks),
		Text:      string(runes[start:end]),
		CharStart: start,
		CharEnd:   end,
	})
}

// lastBoundaryEnd returns the index just past the last boundary character in
// runes[from:to], or 0 when there is none.
func lastBoundaryEnd(runes []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if isBoundary(runes[i]) {
			return i + 1
		}
	}
	return 0
}

// nextWhitespaceEnd returns the index just past the first whitespace run in
// runes[from:to], or 0 when there is none.
func nextWhitespaceEnd(runes []rune, from, to int) int {
	i := from
	for i < to && !unicode.IsSpace(runes[i]) {
		i++
	}
	if i == to {
		return 0
	}
	for i < to && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".!?,;:)]}-", r)
}
