package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// TestTelemetry keeps spans and metrics in memory so component tests can
// assert on the instrumentation of ingest, index and retrieval paths.
type TestTelemetry struct {
	*Telemetry

	Recorder *tracetest.SpanRecorder
	Reader   *sdkmetric.ManualReader
}

// NewTestTelemetry creates an enabled Telemetry backed by in-memory
// exporters. Call Install to route package-level tracers and meters to it.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tt := &TestTelemetry{
		Telemetry: &Telemetry{
			cfg:            cfg,
			logger:         zap.NewNop(),
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		Recorder: recorder,
		Reader:   reader,
	}
	return tt
}

// Install sets the providers globally. Package-level tracers delegate to
// the first provider ever installed, so call it at most once per test
// binary.
func (t *TestTelemetry) Install() *TestTelemetry {
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	return t
}

// Spans returns the ended spans named name, in end order.
func (t *TestTelemetry) Spans(name string) []trace.ReadOnlySpan {
	var out []trace.ReadOnlySpan
	for _, span := range t.Recorder.Ended() {
		if span.Name() == name {
			out = append(out, span)
		}
	}
	return out
}

// RequireSpan returns the last ended span named name and fails the test
// when there is none.
func (t *TestTelemetry) RequireSpan(tb testing.TB, name string) trace.ReadOnlySpan {
	tb.Helper()
	spans := t.Spans(name)
	if len(spans) == 0 {
		var names []string
		for _, span := range t.Recorder.Ended() {
			names = append(names, span.Name())
		}
		tb.Fatalf("span %q not recorded; ended spans: %v", name, names)
	}
	return spans[len(spans)-1]
}

// SpanAttr returns the value of key on span as a plain Go value.
func SpanAttr(span trace.ReadOnlySpan, key string) (any, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return attrValue(kv.Value), true
		}
	}
	return nil, false
}

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// Int64Sum collects metrics and returns the total of the int64 counter
// name across all attribute sets. The second result is false when the
// counter has not been recorded.
func (t *TestTelemetry) Int64Sum(ctx context.Context, name string) (int64, bool, error) {
	var rm metricdata.ResourceMetrics
	if err := t.Reader.Collect(ctx, &rm); err != nil {
		return 0, false, err
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false, nil
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true, nil
		}
	}
	return 0, false, nil
}
