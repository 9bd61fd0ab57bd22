package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

func TestNewProvider(t *testing.T) {
	t.Run("tei with cache", func(t *testing.T) {
		p, err := NewProvider(config.EmbeddingsConfig{
			Provider:  "tei",
			BaseURL:   "http://localhost:8080",
			Dimension: 384,
			CacheSize: 8,
		}, nil)
		require.NoError(t, err)
		_, ok := p.(*CachedEmbedder)
		assert.True(t, ok)
		assert.Equal(t, 384, p.Dimension())
	})

	t.Run("tei without cache", func(t *testing.T) {
		p, err := NewProvider(config.EmbeddingsConfig{BaseURL: "http://localhost:8080", Dimension: 384}, nil)
		require.NoError(t, err)
		_, ok := p.(*TEIProvider)
		assert.True(t, ok)
	})

	t.Run("openai", func(t *testing.T) {
		p, err := NewProvider(config.EmbeddingsConfig{Provider: "openai", APIKey: "sk-test", Dimension: 256}, nil)
		require.NoError(t, err)
		assert.Equal(t, 256, p.Dimension())
	})

	t.Run("openai without key", func(t *testing.T) {
		_, err := NewProvider(config.EmbeddingsConfig{Provider: "openai", Dimension: 256}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("fastembed dimension conflict", func(t *testing.T) {
		_, err := NewProvider(config.EmbeddingsConfig{
			Provider:  "fastembed",
			Model:     "BAAI/bge-base-en-v1.5",
			Dimension: 384,
		}, nil)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewProvider(config.EmbeddingsConfig{Provider: "word2vec"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
