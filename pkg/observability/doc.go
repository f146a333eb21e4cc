// Package observability provides the service's logging, metrics, tracing
// and health-check plumbing.
//
// Logging is structured JSON over stdlib slog with request-id and user-id
// context propagation. Metrics are Prometheus collectors covering the HTTP
// surface, document-store operations, payment-gateway calls, entitlement
// decisions and the subscription cache. OpenTelemetry traces and metrics are
// exported over OTLP gRPC when enabled in configuration.
package observability
