package http

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/ingestd/internal/http"

// HTTPMetrics records API traffic. Instruments that fail to register are
// left nil and skipped.
type HTTPMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	uploadBytes metric.Int64Histogram
	inFlight    metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"ingestd.http.requests_total",
		metric.WithDescription("API requests by route, route group and status code"),
		metric.WithUnit("{request}"),
	)
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram(
		"ingestd.http.request_duration_seconds",
		metric.WithDescription("API request latency. Ingest and index routes include embedding time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 120),
	)
	warn("request_duration_seconds", err)

	m.uploadBytes, err = meter.Int64Histogram(
		"ingestd.http.upload_size_bytes",
		metric.WithDescription("Declared request body size of document uploads and other write requests"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 16<<10, 128<<10, 1<<20, 8<<20, 32<<20),
	)
	warn("upload_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter(
		"ingestd.http.in_flight_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	)
	warn("in_flight_requests", err)

	return m
}

// MetricsMiddleware returns an Echo middleware that records every request.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			start := time.Now()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			// Echo writes the error response after the middleware chain
			// returns, so take the status from the error when there is one.
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			route := routePattern(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("route", route),
				attribute.String("group", routeGroup(route)),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.uploadBytes != nil && req.ContentLength > 0 && req.Method != "GET" {
				m.uploadBytes.Record(ctx, req.ContentLength, attrs)
			}
			return err
		}
	}
}

// routePattern returns the matched route such as /api/v1/documents/:id, so
// ids never become label values. Unmatched requests have an empty path.
func routePattern(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// routeGroup is the first segment after /api/v1, or "system" for the
// health and metrics endpoints.
func routeGroup(route string) string {
	rest, ok := strings.CutPrefix(route, apiPrefix+"/")
	if !ok {
		return "system"
	}
	group, _, _ := strings.Cut(rest, "/")
	return group
}
