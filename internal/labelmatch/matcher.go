// Package labelmatch decides whether a free-text label refers to one of a set
// of work-item labels, using whole-word overlap with a fuzzy fallback.
package labelmatch

import (
	"strings"
	"unicode"
)

// DefaultThreshold is the minimum PartialRatio score accepted as a match.
const DefaultThreshold = 70

// Normalize lowercases s, replaces every character that is neither a word
// character nor whitespace with a space, collapses whitespace runs and trims.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if !isWord(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokens returns the set of whitespace-separated words of Normalize(s).
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Matches reports whether query matches any candidate label.
//
// Candidates have hyphens turned into spaces before normalization. A
// candidate matches when it shares a whole word with the query, or when
// PartialRatio of the two normalized strings reaches threshold. Empty input
// never matches.
func Matches(query string, candidates []string, threshold int) bool {
	return MatchIndex(query, candidates, threshold) >= 0
}

// MatchIndex is Matches returning the index of the first matching candidate,
// or -1.
func MatchIndex(query string, candidates []string, threshold int) int {
	if query == "" || len(candidates) == 0 {
		return -1
	}

	q := Normalize(query)
	if q == "" {
		return -1
	}
	qTokens := Tokens(q)

	for i, candidate := range candidates {
		c := Normalize(strings.ReplaceAll(candidate, "-", " "))
		if c == "" {
			continue
		}
		if intersects(qTokens, Tokens(c)) {
			return i
		}
		if PartialRatio(q, c) >= float64(threshold) {
			return i
		}
	}
	return -1
}

func intersects(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// isWord mirrors the \w class: letters, digits and underscore. Whitespace is
// folded into the separator handling of Normalize.
func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
