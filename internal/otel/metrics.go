package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the relay's metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	WebhookDuration    metric.Float64Histogram
	WebhookErrors      metric.Int64Counter
	RemoteCallDuration metric.Float64Histogram
	RemoteCallErrors   metric.Int64Counter
	RecordsLive        metric.Int64UpDownCounter
	PersistErrors      metric.Int64Counter
	RateLimitRejects   metric.Int64Counter
	AuthRejects        metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.WebhookDuration, err = meter.Float64Histogram("clickgram.webhook.duration",
		metric.WithDescription("Inbound webhook handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WebhookErrors, err = meter.Int64Counter("clickgram.webhook.errors",
		metric.WithDescription("Inbound webhooks whose handler failed"),
	)
	if err != nil {
		return nil, err
	}

	m.RemoteCallDuration, err = meter.Float64Histogram("clickgram.remote.duration",
		metric.WithDescription("ClickUp and Telegram API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RemoteCallErrors, err = meter.Int64Counter("clickgram.remote.errors",
		metric.WithDescription("Failed ClickUp and Telegram API calls"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsLive, err = meter.Int64UpDownCounter("clickgram.records.live",
		metric.WithDescription("Live chat/task records in the index"),
	)
	if err != nil {
		return nil, err
	}

	m.PersistErrors, err = meter.Int64Counter("clickgram.records.persist_errors",
		metric.WithDescription("Failed record persists"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("clickgram.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthRejects, err = meter.Int64Counter("clickgram.auth.rejects",
		metric.WithDescription("Webhooks rejected for a bad secret or signature"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordWebhook records one handled webhook.
func (m *Metrics) RecordWebhook(ctx context.Context, source, updateType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrSource.String(source), AttrUpdateType.String(updateType))
	m.WebhookDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.WebhookErrors.Add(ctx, 1, attrs)
	}
}

// RecordRemoteCall records one outbound API call.
func (m *Metrics) RecordRemoteCall(ctx context.Context, service, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("service", service), AttrRemoteOp.String(op))
	m.RemoteCallDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.RemoteCallErrors.Add(ctx, 1, attrs)
	}
}

// AddRecords moves the live record gauge by delta.
func (m *Metrics) AddRecords(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.RecordsLive.Add(ctx, delta)
}

// CountPersistError counts a failed persist.
func (m *Metrics) CountPersistError(ctx context.Context) {
	if m == nil {
		return
	}
	m.PersistErrors.Add(ctx, 1)
}

// CountRateLimitReject counts a request refused by the rate limiter.
func (m *Metrics) CountRateLimitReject(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.RateLimitRejects.Add(ctx, 1, metric.WithAttributes(AttrRoute.String(route)))
}

// CountAuthReject counts a webhook refused for bad credentials.
func (m *Metrics) CountAuthReject(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.AuthRejects.Add(ctx, 1, metric.WithAttributes(AttrSource.String(source)))
}
