// Package llm wraps a chat completion model for answer synthesis and
// natural-language to SQL translation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/config"
)

var tracer = otel.Tracer("ingestd.llm")

var (
	// ErrNotConfigured is returned when no API key is configured.
	ErrNotConfigured = errors.New("llm not configured")

	// ErrEmptyResponse is returned when the model returns no choices.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Completer produces one completion from a system and a user message.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Client implements Completer over a langchaingo model.
type Client struct {
	model       llms.Model
	name        string
	temperature float64
	logger      *zap.Logger
}

// New creates a Client for an OpenAI-compatible endpoint.
func New(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: llm api key is required", ErrNotConfigured)
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	return NewWithModel(model, cfg.Model, cfg.Temperature, logger), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, name string, temperature float64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{model: model, name: name, temperature: temperature, logger: logger}
}

// Complete sends system and user as one chat turn and returns the first
// choice, trimmed.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	ctx, span := tracer.Start(ctx, "Client.Complete")
	defer span.End()
	return c.generate(ctx, span, system, user, maxTokens)
}

// CompleteJSON is Complete with the model constrained to a JSON object.
func (c *Client) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (string, error) {
	ctx, span := tracer.Start(ctx, "Client.CompleteJSON")
	defer span.End()
	return c.generate(ctx, span, system, user, maxTokens, llms.WithJSONMode())
}

func (c *Client) generate(ctx context.Context, span trace.Span, system, user string, maxTokens int, extra ...llms.CallOption) (string, error) {
	span.SetAttributes(attribute.String("llm.model", c.name))

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	opts := append([]llms.CallOption{llms.WithTemperature(c.temperature)}, extra...)
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "empty response")
		return "", ErrEmptyResponse
	}

	c.logger.Debug("llm completion",
		zap.String("model", c.name),
		zap.Duration("duration", time.Since(start)),
	)
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
