// Package pipeline turns one document's text into chunks and embeddings
// through a fixed sequence of stages.
//
// Each stage takes a State and returns a new State; stages never mutate
// their input. A State that reaches StepError carries the reason in Error
// and is returned unchanged by every later stage.
package pipeline

import "github.com/fyrsmithlabs/ingestd/internal/chunking"

// Step is the position of a document in the pipeline.
type Step string

const (
	// StepInit is the state before analysis.
	StepInit Step = "INIT"

	// StepAnalyzed means a chunk strategy has been chosen.
	StepAnalyzed Step = "ANALYZED"

	// StepChunked means the text has been split into at least one chunk.
	StepChunked Step = "CHUNKED"

	// StepEmbedded means every chunk has a vector.
	StepEmbedded Step = "EMBEDDED"

	// StepComplete is the terminal success state.
	StepComplete Step = "COMPLETE"

	// StepError is the terminal failure state.
	StepError Step = "ERROR"
)

// Terminal reports whether no further stage applies.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepError
}

// Strategy names the chunking plan chosen by Analyze.
type Strategy string

const (
	StrategySingleChunk  Strategy = "single_chunk"
	StrategySectionBased Strategy = "section_based"
	StrategyFixedSize    Strategy = "fixed_size"
)

// Chunk sizes in characters for each strategy.
const (
	SingleChunkMaxChars = 1000

	SectionChunkSize    = 1500
	SectionChunkOverlap = 200

	FixedChunkSize    = 1200
	FixedChunkOverlap = 150
)

// Failure reasons.
const (
	ReasonNoChunks        = "no chunks produced"
	reasonEmbeddingPrefix = "Embedding failed: "
)

// State is the value passed between stages.
type State struct {
	Step       Step   `json:"step"`
	Text       string `json:"-"`
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`

	// Analysis is a human-readable summary of the document shape.
	Analysis      string   `json:"analysis,omitempty"`
	ChunkStrategy Strategy `json:"chunk_strategy,omitempty"`
	ChunkSize     int      `json:"chunk_size,omitempty"`
	Overlap       int      `json:"overlap"`

	Chunks     []chunking.TextChunk `json:"chunks,omitempty"`
	Embeddings [][]float32          `json:"-"`

	// Metadata is caller metadata carried through to the index.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Error is set only when Step is StepError.
	Error string `json:"error,omitempty"`
}

// NewState returns the initial state for a document.
func NewState(text, filename, documentID string, metadata map[string]any) State {
	return State{
		Step:       StepInit,
		Text:       text,
		Filename:   filename,
		DocumentID: documentID,
		ChunkSize:  FixedChunkSize,
		Overlap:    FixedChunkOverlap,
		Metadata:   copyMetadata(metadata),
	}
}

// Failed returns a copy of s in StepError with the given reason.
func (s State) Failed(reason string) State {
	s.Step = StepError
	s.Error = reason
	return s
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
