package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ingestd/internal/docparse"
	"github.com/fyrsmithlabs/ingestd/internal/ingest"
	"github.com/fyrsmithlabs/ingestd/internal/retrieval"
	"github.com/fyrsmithlabs/ingestd/internal/sqlstore"
	"github.com/fyrsmithlabs/ingestd/internal/tableindex"
)

const instrumentationName = "github.com/fyrsmithlabs/ingestd/internal/mcp"

// outcomeOK is the outcome attribute of a successful call.
const outcomeOK = "ok"

// Metrics records tool calls. Instruments that fail to register are left
// nil and skipped.
type Metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{}
	var err error

	m.calls, err = meter.Int64Counter(
		"ingestd.mcp.tool.calls_total",
		metric.WithDescription("Tool calls by tool, category and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create tool calls counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"ingestd.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency. Indexing tools include embedding time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300),
	)
	if err != nil {
		logger.Warn("failed to create tool duration histogram", zap.Error(err))
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"ingestd.mcp.tool.in_flight",
		metric.WithDescription("Tool calls currently running"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create in-flight counter", zap.Error(err))
	}
	return m
}

// call is one running tool invocation.
type call struct {
	m     *Metrics
	ctx   context.Context
	attrs []attribute.KeyValue
	start time.Time
}

// begin marks a call of tool as running.
func (m *Metrics) begin(ctx context.Context, tool string, category ToolCategory) *call {
	c := &call{
		m:     m,
		ctx:   ctx,
		attrs: []attribute.KeyValue{attribute.String("tool", tool), attribute.String("category", string(category))},
		start: time.Now(),
	}
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, metric.WithAttributes(c.attrs...))
	}
	return c
}

// end records the outcome of the call.
func (c *call) end(err error) {
	m := c.m
	if m.inFlight != nil {
		m.inFlight.Add(c.ctx, -1, metric.WithAttributes(c.attrs...))
	}
	withOutcome := metric.WithAttributes(append(c.attrs, attribute.String("outcome", outcome(err)))...)
	if m.calls != nil {
		m.calls.Add(c.ctx, 1, withOutcome)
	}
	if m.duration != nil {
		m.duration.Record(c.ctx, time.Since(c.start).Seconds(), withOutcome)
	}
}

// outcome maps a tool error to the outcome attribute.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, errInvalidArgument),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, sqlstore.ErrNotSelect):
		return "validation_error"
	case errors.Is(err, retrieval.ErrNoWorkItems),
		errors.Is(err, retrieval.ErrNoQuery),
		errors.Is(err, sqlstore.ErrTableNotFound),
		errors.Is(err, tableindex.ErrNoTables):
		return "not_found"
	case errors.Is(err, retrieval.ErrNoLLM),
		errors.Is(err, retrieval.ErrNoSQL),
		errors.Is(err, retrieval.ErrNoWorkItemSource):
		return "not_configured"
	case errors.Is(err, ingest.ErrProcessingFailed),
		errors.Is(err, docparse.ErrEmptyText):
		return "ingest_error"
	default:
		return "internal_error"
	}
}
