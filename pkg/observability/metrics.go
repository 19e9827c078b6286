package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal   *prometheus.CounterVec
	SessionsIssuedTotal *prometheus.CounterVec
	TokensIssuedTotal   *prometheus.CounterVec

	// Device flow metrics
	DeviceCodesIssuedTotal prometheus.Counter
	DevicePollsTotal       *prometheus.CounterVec
	DeviceGrantsTotal      *prometheus.CounterVec

	// IAM identity metrics
	STSRequestsTotal   *prometheus.CounterVec
	STSRequestDuration prometheus.Histogram

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Audit metrics
	AuditWriteFailuresTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashborion_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_auth_attempts_total",
				Help: "Authentication attempts by credential method and outcome",
			},
			[]string{"method", "outcome"},
		),
		SessionsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_sessions_issued_total",
				Help: "Browser sessions issued, by source",
			},
			[]string{"source"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_tokens_issued_total",
				Help: "API tokens issued, by kind",
			},
			[]string{"kind"},
		),

		DeviceCodesIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashborion_device_codes_issued_total",
				Help: "Device authorization codes issued",
			},
		),
		DevicePollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_device_polls_total",
				Help: "Device token polls, by result",
			},
			[]string{"result"},
		),
		DeviceGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_device_grants_total",
				Help: "Device flow approvals and denials",
			},
			[]string{"decision"},
		),

		STSRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_sts_requests_total",
				Help: "Forwarded STS GetCallerIdentity requests, by outcome",
			},
			[]string{"outcome"},
		),
		STSRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dashborion_sts_request_duration_seconds",
				Help:    "STS round-trip duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 3},
			},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_permission_checks_total",
				Help: "RBAC permission checks, by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashborion_store_operations_total",
				Help: "Session store operations, by operation and status",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashborion_store_operation_duration_seconds",
				Help:    "Session store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashborion_audit_write_failures_total",
				Help: "Audit entries that failed to persist",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashborion_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dashborion_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.SessionsIssuedTotal,
		m.TokensIssuedTotal,
		m.DeviceCodesIssuedTotal,
		m.DevicePollsTotal,
		m.DeviceGrantsTotal,
		m.STSRequestsTotal,
		m.STSRequestDuration,
		m.PermissionChecksTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.AuditWriteFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint.
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
