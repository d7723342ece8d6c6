package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant Metrics
	CodeIssued        metric.Int64Counter
	CodeExchanged     metric.Int64Counter
	TokenIssued       metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	CodeReuseDetected metric.Int64Counter
	ClientAuthFailed  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.CodeIssued, err = serverMeter.Int64Counter(
		"oauth.code.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.issued counter: %w", err)
	}

	m.CodeExchanged, err = serverMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenIssued, err = serverMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.CodeReuseDetected, err = serverMeter.Int64Counter(
		"oauth.code.reuse_detected",
		metric.WithDescription("Number of redemptions of an already consumed authorization code"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	m.ClientAuthFailed, err = serverMeter.Int64Counter(
		"oauth.client.auth_failed",
		metric.WithDescription("Number of failed client authentications"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.auth_failed counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its status and duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordCodeIssued records an authorization code issuance
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordCodeExchanged records a successful authorization code exchange
func (m *Metrics) RecordCodeExchanged(ctx context.Context, clientID string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordTokenIssued records an access token issuance for a grant or response type
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrGrantType, grantType)))
}

// RecordTokenRefreshed records a refresh token grant
func (m *Metrics) RecordTokenRefreshed(ctx context.Context, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrTokenRotated, rotated)))
}

// RecordCodeReuseDetected records a redemption of a consumed code
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordClientAuthFailed records a failed client authentication
func (m *Metrics) RecordClientAuthFailed(ctx context.Context, reason string) {
	m.ClientAuthFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStorageOperation records a storage operation and its duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
	))
}
