package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// operationsTotal counts backend operations by result: success,
	// not_found, invalid or error.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Vector index operations by backend, operation and result.",
		},
		[]string{"backend", "op", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingestd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Vector index operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	vectorsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingestd",
			Subsystem: "vectorstore",
			Name:      "vectors_written_total",
			Help:      "Vectors accepted by Upsert.",
		},
		[]string{"backend"},
	)
)

// call instruments one backend operation with a span, a latency sample and
// a result count.
type call struct {
	backend string
	op      string
	start   time.Time
	span    trace.Span
}

func startCall(ctx context.Context, tr trace.Tracer, spanName, backend, op string, attrs ...attribute.KeyValue) (context.Context, *call) {
	ctx, span := tr.Start(ctx, spanName, trace.WithAttributes(attrs...))
	return ctx, &call{backend: backend, op: op, start: time.Now(), span: span}
}

// finish ends the call with the error errp points to. It is meant to be
// deferred against a named error result.
func (c *call) finish(errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	operationDuration.WithLabelValues(c.backend, c.op).Observe(time.Since(c.start).Seconds())
	operationsTotal.WithLabelValues(c.backend, c.op, resultLabel(err)).Inc()
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrIndexNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidIndexName),
		errors.Is(err, ErrInvalidNamespace),
		errors.Is(err, ErrUnsupportedMetric),
		errors.Is(err, ErrDimensionMismatch):
		return "invalid"
	default:
		return "error"
	}
}
