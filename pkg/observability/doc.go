// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, health probes, and graceful shutdown for
// the Kanbu permission engine.
//
// The Logger wraps stdlib slog with a JSON handler and chainable field
// helpers. Metrics centers on access-decision counters and histograms so
// dashboards can break checks down by resource type, governing strategy
// (legacy roles vs ACL), and outcome. Tracing is optional and installed
// globally when enabled.
package observability
