package embeddings

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

// NewProvider builds the configured provider, wrapped in a CachedEmbedder
// when cfg.CacheSize is positive.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		provider Provider
		err      error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "tei":
		provider, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout.Duration(),
		}, logger)
	case "openai":
		provider, err = NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey.Value(),
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, logger)
	case "fastembed":
		if dim, ok := fastEmbedModelDimension(cfg.Model); ok && cfg.Dimension > 0 && dim != cfg.Dimension {
			return nil, fmt.Errorf("%w: model %s produces %d-dimensional vectors, configured %d",
				ErrDimensionMismatch, cfg.Model, dim, cfg.Dimension)
		}
		provider, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:     cfg.Model,
			CacheDir:  cfg.CacheDir,
			BatchSize: cfg.BatchSize,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embeddings provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", provider.Dimension()),
	)

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(provider, cfg.CacheSize), nil
	}
	return provider, nil
}
