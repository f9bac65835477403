// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry setup for the auth service.
//
// # Logging
//
// NewLogger returns a logrus logger writing JSON lines. FromContext enriches
// the request logger with request_id and, when a span is recording, trace_id
// and span_id:
//
//	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("user_id", id).Warn("Refresh failed")
//
// # Metrics
//
// NewMetrics registers the token, permission check and cache collectors on
// a registry. NopMetrics gives every component a private registry when none
// is injected. HTTPMetricsMiddleware labels requests by mux route template.
//
// # Health
//
// NewHealthChecker probes the database and optionally redis. A failing
// database makes the service unhealthy (503 on /health/ready); a failing
// redis only degrades it because the permission cache keeps its local tier.
//
// # OpenTelemetry
//
// InitOTel installs global tracer and meter providers exporting over OTLP
// gRPC. It returns nil providers when disabled; ShutdownOTel accepts nil.
package observability
