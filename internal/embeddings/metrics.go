package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/ingestd/internal/embeddings"

// Metrics records embedding calls for one provider and model.
type Metrics struct {
	attrs    attribute.Set
	calls    metric.Int64Counter
	texts    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics binds embedding instruments to provider and model on the
// global meter provider.
func NewMetrics(provider, model string, logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(meterName), provider, model, logger)
}

func newMetrics(meter metric.Meter, provider, model string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{attrs: attribute.NewSet(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)}

	var err error
	if m.calls, err = meter.Int64Counter("ingestd.embedding.calls_total",
		metric.WithDescription("Embed calls by provider, model and outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("embedding calls counter unavailable", zap.Error(err))
	}
	if m.texts, err = meter.Int64Counter("ingestd.embedding.texts_total",
		metric.WithDescription("Texts submitted for embedding"),
		metric.WithUnit("{text}"),
	); err != nil {
		logger.Warn("embedding texts counter unavailable", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram("ingestd.embedding.duration_seconds",
		metric.WithDescription("Embed call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		logger.Warn("embedding duration histogram unavailable", zap.Error(err))
	}
	return m
}

// Observe records one Embed call of n texts started at start.
func (m *Metrics) Observe(ctx context.Context, n int, start time.Time, err error) {
	if m == nil {
		return
	}
	base := metric.WithAttributeSet(m.attrs)
	if m.calls != nil {
		m.calls.Add(ctx, 1, base, metric.WithAttributes(attribute.String("outcome", embedOutcome(err))))
	}
	if m.texts != nil && n > 0 {
		m.texts.Add(ctx, int64(n), base)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), base)
	}
}

func embedOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
