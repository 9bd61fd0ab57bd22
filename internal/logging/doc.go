// Package logging wraps zap with context-aware methods for ingestd.
//
// Every call pulls correlation fields out of the context: the OpenTelemetry
// trace and span IDs plus the request, job, namespace, table and document
// identifiers attached by the HTTP layer and the ingestion jobs.
//
//	ctx = logging.WithJobID(ctx, jobID)
//	ctx = logging.WithNamespace(ctx, "postgresql-data")
//	logger.Info(ctx, "table indexed", zap.Int("rows", n))
//
// Output can go to stdout, to an OpenTelemetry log provider through the
// otelzap bridge, or both. Sensitive field names and value patterns are
// redacted before encoding.
package logging
