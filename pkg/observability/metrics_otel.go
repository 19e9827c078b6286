package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments. They mirror the
// Prometheus set for deployments that export through a collector instead of
// scraping.
type OTelMetrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	authAttemptsTotal metric.Int64Counter
	devicePollsTotal  metric.Int64Counter
	stsDuration       metric.Float64Histogram

	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram
}

// NewOTelMetrics creates the OTel metric instruments against the global
// meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/dashborion/dashborion")

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.authAttemptsTotal, err = meter.Int64Counter(
		"auth.attempts",
		metric.WithDescription("Authentication attempts by method and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth attempts counter: %w", err)
	}

	m.devicePollsTotal, err = meter.Int64Counter(
		"deviceflow.polls",
		metric.WithDescription("Device token polls by result"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device polls counter: %w", err)
	}

	m.stsDuration, err = meter.Float64Histogram(
		"sts.request.duration",
		metric.WithDescription("Forwarded STS request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sts duration histogram: %w", err)
	}

	m.storeOperations, err = meter.Int64Counter(
		"store.operations",
		metric.WithDescription("Session store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store operations counter: %w", err)
	}

	m.storeDuration, err = meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Session store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAuthAttempt records one authentication attempt.
func (m *OTelMetrics) RecordAuthAttempt(ctx context.Context, method, outcome string) {
	m.authAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth.method", method),
		attribute.String("auth.outcome", outcome),
	))
}

// RecordDevicePoll records one device token poll.
func (m *OTelMetrics) RecordDevicePoll(ctx context.Context, result string) {
	m.devicePollsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("deviceflow.result", result),
	))
}

// RecordSTSRequest records one forwarded STS round trip.
func (m *OTelMetrics) RecordSTSRequest(ctx context.Context, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.stsDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("sts.outcome", outcome),
	))
}

// RecordStoreOperation records one session store operation.
func (m *OTelMetrics) RecordStoreOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("store.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", "true"))
	} else {
		attrs = append(attrs, attribute.String("error", "false"))
	}

	m.storeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
