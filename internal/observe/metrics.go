// Package observe provides application-wide observability primitives for
// Prophet: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Setup] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Prophet metrics.
const meterName = "github.com/MrWong99/prophet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks language-model completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech latency until the first audio (or the
	// whole clip for blocking synthesis).
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long individual clips took to play.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// Turns counts completed conversation turns. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("persona", ...)
	Turns metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of running arena or chat
	// conversations.
	ActiveConversations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// playbackBuckets covers sentence clips from a fraction of a second up to a
// long monologue.
var playbackBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("prophet.llm.duration",
		metric.WithDescription("Latency of language-model completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("prophet.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("prophet.playback.duration",
		metric.WithDescription("Duration of audio clip playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("prophet.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("prophet.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("prophet.provider.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("prophet.turns",
		metric.WithDescription("Total completed conversation turns by mode and persona."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("prophet.active_conversations",
		metric.WithDescription("Number of running conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("prophet.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records that the breaker of provider entered state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordTurn records one completed turn for persona in mode ("arena" or "chat").
func (m *Metrics) RecordTurn(ctx context.Context, mode, persona string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("persona", persona),
		),
	)
}

// RecordActiveConversation moves the active conversation gauge for mode by
// delta (+1 when a conversation starts, -1 when it ends).
func (m *Metrics) RecordActiveConversation(ctx context.Context, mode string, delta int64) {
	m.ActiveConversations.Add(ctx, delta, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordPlayback records the duration of one played clip.
func (m *Metrics) RecordPlayback(ctx context.Context, d time.Duration) {
	m.PlaybackDuration.Record(ctx, d.Seconds())
}
