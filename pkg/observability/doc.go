// Package observability provides structured JSON logging, Prometheus
// metrics, health probes, OpenTelemetry wiring, and graceful shutdown for
// the auth service.
//
// Loggers are slog-backed and chainable:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("method", "bearer").Warn("token rejected")
//
// Metrics cover the authentication surface: attempts by method and outcome,
// device-flow polling, STS verification latency, and the session store.
// Health probes are served on a separate port so load balancers and
// Kubernetes never touch the authenticated listener.
package observability
