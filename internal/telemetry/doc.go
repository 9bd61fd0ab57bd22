// Package telemetry sets up OpenTelemetry tracing and metrics export.
//
// Spans and metrics go to an OTLP collector over gRPC or HTTP. The
// application's telemetry section maps onto Config through FromConfig:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  insecure: true
//	  service_name: ingestd
//	  sample_rate: 1.0
//
// New installs the providers globally, so packages that call otel.Tracer or
// otel.Meter pick them up. Provider failures never stop the process; the
// instance reports itself degraded and the global no-op providers stay in
// place. Insecure export is refused for endpoints that are not on this host.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
