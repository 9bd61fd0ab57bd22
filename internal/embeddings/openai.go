package embeddings

import (
	"context"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIMaxBatch is the number of inputs sent per API call.
const openAIMaxBatch = 100

// OpenAIConfig configures the OpenAI embeddings provider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API root for compatible servers.
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimension is requested from the API and checked on every response.
	Dimension int
}

// OpenAIProvider embeds text with the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	metrics   *Metrics
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		metrics:   NewMetrics("openai", cfg.Model, logger),
	}, nil
}

// Embed generates embeddings in batches of up to 100 inputs.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	defer func(start time.Time) {
		p.metrics.Observe(ctx, len(texts), start, err)
	}(time.Now())

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors = make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		batch := texts[i:min(i+openAIMaxBatch, len(texts))]

		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      batch,
			Model:      openai.EmbeddingModel(p.model),
			Dimensions: p.dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai request: %v", ErrEmbeddingFailed, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: openai returned %d embeddings, expected %d", ErrEmbeddingFailed, len(resp.Data), len(batch))
		}

		data := resp.Data
		sort.Slice(data, func(a, b int) bool { return data[a].Index < data[b].Index })
		for _, emb := range data {
			vectors = append(vectors, emb.Embedding)
		}
	}

	if err := checkVectors(vectors, len(texts), p.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the configured vector length.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *OpenAIProvider) Close() error {
	return nil
}
