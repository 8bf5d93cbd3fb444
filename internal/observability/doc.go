// Package observability provides structured logging and tracing for the
// decision audit service.
//
// Loggers are zap based. Request scoped fields (request id, trace id and
// span id) are pulled from the context at log time. Tracing is OpenTelemetry
// with an optional OTLP/HTTP exporter configured from the standard OTEL_*
// environment variables.
package observability
