// Package observe provides OpenTelemetry metric instruments for the
// interview backend, bridged to Prometheus so /metrics stays scrapeable.
//
// A package-level default [Metrics] instance is available via
// [DefaultMetrics]; tests should use [NewMetrics] with their own
// metric.MeterProvider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all instruments.
const meterName = "github.com/parleyhq/parley"

// Metrics holds all metric instruments. Fields are safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks end-to-end send-message latency (user message in,
	// assistant turn out).
	TurnDuration metric.Float64Histogram

	// GradingDuration tracks per-turn coach grading latency.
	GradingDuration metric.Float64Histogram

	// SummaryDuration tracks final-summary generation latency.
	SummaryDuration metric.Float64Histogram

	// RateLimitWait tracks time spent waiting for a fabric slot. Use with
	// attribute.String("provider", ...).
	RateLimitWait metric.Float64Histogram

	// ProviderRequests counts external provider calls. Attributes:
	// provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts external provider failures. Attributes:
	// provider, kind.
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks live orchestrators in the registry.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks open streaming-transcription connections.
	ActiveStreams metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised Metrics struct from the given
// MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("End-to-end interview turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GradingDuration, err = m.Float64Histogram("parley.grading.duration",
		metric.WithDescription("Per-turn coach grading latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("parley.summary.duration",
		metric.WithDescription("Final summary generation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RateLimitWait, err = m.Float64Histogram("parley.ratelimit.wait",
		metric.WithDescription("Time spent waiting for a provider slot."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live sessions in the registry."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("parley.active_streams",
		metric.WithDescription("Number of open streaming transcription connections."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance created from the
// global MeterProvider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records one provider call with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
