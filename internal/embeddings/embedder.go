package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ingestd/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch is the vector index's dimension error so that
	// callers can test for either with one errors.Is.
	ErrDimensionMismatch = vectorstore.ErrDimensionMismatch
)

// Embedder maps texts to vectors, one per text and in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Provider is an Embedder that holds resources.
type Provider interface {
	Embedder
	Close() error
}

// checkVectors verifies count and dimension of a provider response.
func checkVectors(vectors [][]float32, want, dimension int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), want)
	}
	if dimension <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: vector %d has %d values, expected %d", ErrDimensionMismatch, i, len(v), dimension)
		}
	}
	return nil
}
