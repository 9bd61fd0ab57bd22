package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ingestd/internal/chunking"
	"github.com/fyrsmithlabs/ingestd/internal/embeddings"
)

// Analyze picks a chunk strategy from the document's length and structure.
//
// Texts under SingleChunkMaxChars become one chunk. Texts with blank-line
// or heading breaks use section-sized chunks; the rest use fixed-size ones.
func Analyze(s State) State {
	if s.Step != StepInit {
		return wrongStep(s, "analyze")
	}

	charCount := utf8.RuneCountInString(s.Text)
	wordCount := len(strings.Fields(s.Text))
	hasSections := HasSections(s.Text)

	switch {
	case charCount < SingleChunkMaxChars:
		s.ChunkStrategy = StrategySingleChunk
		s.ChunkSize = max(charCount, 1)
		s.Overlap = 0
	case hasSections:
		s.ChunkStrategy = StrategySectionBased
		s.ChunkSize = SectionChunkSize
		s.Overlap = SectionChunkOverlap
	default:
		s.ChunkStrategy = StrategyFixedSize
		s.ChunkSize = FixedChunkSize
		s.Overlap = FixedChunkOverlap
	}

	s.Analysis = fmt.Sprintf("Document: %s\nLength: %d words, %d characters\nHas sections: %t\n",
		s.Filename, wordCount, charCount, hasSections)
	s.Step = StepAnalyzed
	return s
}

// HasSections reports whether text contains a blank line or a line
// starting with '#'.
func HasSections(text string) bool {
	return strings.Contains(text, "\n\n") || strings.Contains(text, "\n#")
}

// ChunkStage splits the text with the analyzed size and overlap. Zero
// chunks fail the document.
func ChunkStage(s State) State {
	if s.Step != StepAnalyzed {
		return wrongStep(s, "chunk")
	}

	chunks := chunking.Chunk(s.Text, s.ChunkSize, s.Overlap)
	if len(chunks) == 0 {
		return s.Failed(ReasonNoChunks)
	}
	s.Chunks = chunks
	s.Step = StepChunked
	return s
}

// Embed embeds every chunk in one call. Failures are not retried.
func Embed(ctx context.Context, s State, embedder embeddings.Embedder) State {
	if s.Step != StepChunked {
		return wrongStep(s, "embed")
	}

	vectors, err := embedder.Embed(ctx, chunking.Texts(s.Chunks))
	if err != nil {
		return s.Failed(reasonEmbeddingPrefix + err.Error())
	}
	s.Embeddings = vectors
	s.Step = StepEmbedded
	return s
}

// Finish completes the document when chunk and embedding counts agree.
func Finish(s State) State {
	if s.Step != StepEmbedded {
		return wrongStep(s, "finish")
	}

	switch {
	case len(s.Chunks) == 0:
		return s.Failed(ReasonNoChunks)
	case len(s.Chunks) != len(s.Embeddings):
		return s.Failed(fmt.Sprintf("chunk/embedding count mismatch: %d chunks, %d embeddings",
			len(s.Chunks), len(s.Embeddings)))
	}
	s.Step = StepComplete
	return s
}

func wrongStep(s State, stage string) State {
	if s.Step == StepError {
		return s
	}
	return s.Failed(fmt.Sprintf("cannot %s from step %s", stage, s.Step))
}
