package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/rewards/internal/domain"
)

const meterName = "github.com/hanko-field/rewards"

// Metrics exports reward and authentication counters through OpenTelemetry.
type Metrics struct {
	granted        metric.Int64Counter
	grantedCents   metric.Int64Counter
	duplicates     metric.Int64Counter
	redemptions    metric.Int64Counter
	authOutcomes   metric.Int64Counter
	authLatency    metric.Float64Histogram
	eventsHandled  metric.Int64Counter
	payoutFailures metric.Int64Counter
	httpDuration   metric.Float64Histogram
}

// NewMetrics registers instruments on meter, or on the global provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	m := &Metrics{}
	var err error
	if m.granted, err = meter.Int64Counter("rewards.granted",
		metric.WithDescription("Ledger grants written")); err != nil {
		return nil, err
	}
	if m.grantedCents, err = meter.Int64Counter("rewards.granted.amount",
		metric.WithUnit("{cent}"),
		metric.WithDescription("Sum of granted reward amounts")); err != nil {
		return nil, err
	}
	if m.duplicates, err = meter.Int64Counter("rewards.granted.duplicates",
		metric.WithDescription("Grants skipped because the source was already rewarded")); err != nil {
		return nil, err
	}
	if m.redemptions, err = meter.Int64Counter("rewards.redemptions",
		metric.WithDescription("Redemption transitions by type and outcome")); err != nil {
		return nil, err
	}
	if m.authOutcomes, err = meter.Int64Counter("rewards.auth.verifications",
		metric.WithDescription("Request authentication outcomes")); err != nil {
		return nil, err
	}
	if m.authLatency, err = meter.Float64Histogram("rewards.auth.latency",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.eventsHandled, err = meter.Int64Counter("rewards.events.handled",
		metric.WithDescription("Inbound reward events by disposition")); err != nil {
		return nil, err
	}
	if m.payoutFailures, err = meter.Int64Counter("rewards.payouts.failures"); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram("rewards.http.server.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Request latency by route and status")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Granted(ctx context.Context, sourceType domain.SourceType, status domain.LedgerStatus, amountCents int64) {
	attrs := metric.WithAttributes(
		attribute.String("source_type", string(sourceType)),
		attribute.String("status", string(status)),
	)
	m.granted.Add(ctx, 1, attrs)
	m.grantedCents.Add(ctx, amountCents, attrs)
}

func (m *Metrics) DuplicateGrant(ctx context.Context, sourceType domain.SourceType) {
	m.duplicates.Add(ctx, 1, metric.WithAttributes(attribute.String("source_type", string(sourceType))))
}

func (m *Metrics) Redemption(ctx context.Context, redemptionType domain.RedemptionType, outcome string) {
	m.redemptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(redemptionType)),
		attribute.String("outcome", outcome),
	))
}

// RecordVerification satisfies the auth package's recorder.
func (m *Metrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	)
	m.authOutcomes.Add(ctx, 1, attrs)
	m.authLatency.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(attribute.String("kind", kind)))
}

// EventHandled counts a consumed reward event.
func (m *Metrics) EventHandled(ctx context.Context, transport, disposition string) {
	m.eventsHandled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("disposition", disposition),
	))
}

// PayoutFailed counts a payout that did not complete, by the step that failed.
func (m *Metrics) PayoutFailed(ctx context.Context, stage string) {
	m.payoutFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RequestServed satisfies RequestRecorder.
func (m *Metrics) RequestServed(ctx context.Context, method, route string, status int, latency time.Duration) {
	m.httpDuration.Record(ctx, float64(latency)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	))
}
