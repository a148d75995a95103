// Package observe provides application-wide observability primitives for
// Crosstalk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Crosstalk metrics.
const meterName = "github.com/antiphonal/crosstalk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Call lifecycle ---

	// CallDuration tracks wall-clock length of completed voice calls.
	CallDuration metric.Float64Histogram

	// ActiveCalls tracks the number of bridged calls currently in flight.
	ActiveCalls metric.Int64UpDownCounter

	// --- Audio pipeline ---

	// Frames counts audio frames relayed across the bridge. Use with:
	//   attribute.String("direction", "inbound"|"outbound")
	Frames metric.Int64Counter

	// FrameDrops counts frames discarded instead of relayed. Use with:
	//   attribute.String("reason", ...)
	FrameDrops metric.Int64Counter

	// --- Provider latency histograms ---

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding computation latency.
	EmbeddingDuration metric.Float64Histogram

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Memory and messaging ---

	// MemoriesStored counts long-term memories written. Use with:
	//   attribute.String("type", ...)
	MemoriesStored metric.Int64Counter

	// SMSHandled counts inbound SMS messages processed. Use with:
	//   attribute.String("status", "ok"|"error")
	SMSHandled metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for whole
// calls, which run from seconds to tens of minutes.
var callBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Call lifecycle.
	if met.CallDuration, err = m.Float64Histogram("crosstalk.call.duration",
		metric.WithDescription("Wall-clock duration of completed voice calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("crosstalk.calls.active",
		metric.WithDescription("Number of bridged voice calls currently in flight."),
	); err != nil {
		return nil, err
	}

	// Audio pipeline.
	if met.Frames, err = m.Int64Counter("crosstalk.frames",
		metric.WithDescription("Audio frames relayed across the bridge by direction."),
	); err != nil {
		return nil, err
	}
	if met.FrameDrops, err = m.Int64Counter("crosstalk.frame.drops",
		metric.WithDescription("Audio frames discarded instead of relayed, by reason."),
	); err != nil {
		return nil, err
	}

	// Provider latency.
	if met.LLMDuration, err = m.Float64Histogram("crosstalk.llm.duration",
		metric.WithDescription("Latency of chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("crosstalk.embedding.duration",
		metric.WithDescription("Latency of embedding computations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Provider counters.
	if met.ProviderRequests, err = m.Int64Counter("crosstalk.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("crosstalk.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Memory and messaging.
	if met.MemoriesStored, err = m.Int64Counter("crosstalk.memories.stored",
		metric.WithDescription("Long-term memories written, by type."),
	); err != nil {
		return nil, err
	}
	if met.SMSHandled, err = m.Int64Counter("crosstalk.sms.handled",
		metric.WithDescription("Inbound SMS messages processed, by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("crosstalk.http.request.duration",
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

// RecordFrames adds n relayed frames for the given direction
// ("inbound" or "outbound").
func (m *Metrics) RecordFrames(ctx context.Context, direction string, n int64) {
	m.Frames.Add(ctx, n,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordFrameDrop records one discarded frame with the given reason.
func (m *Metrics) RecordFrameDrop(ctx context.Context, reason string) {
	m.FrameDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordMemoryStored records one stored memory of the given type.
func (m *Metrics) RecordMemoryStored(ctx context.Context, memoryType string) {
	m.MemoriesStored.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", memoryType)),
	)
}

// RecordSMS records one handled inbound SMS with the given status.
func (m *Metrics) RecordSMS(ctx context.Context, status string) {
	m.SMSHandled.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
