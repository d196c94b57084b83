// Package observe provides application-wide observability primitives for
// Sloane: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Sloane metrics.
const meterName = "github.com/MrWong99/sloane"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DispatchDuration tracks end-to-end dispatch latency, including every
	// model tried. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("result", ...)
	DispatchDuration metric.Float64Histogram

	// LLMDuration tracks the latency of a single provider attempt. Use with
	// attributes: attribute.String("provider", ...), attribute.String("model", ...)
	LLMDuration metric.Float64Histogram

	// STTDuration tracks the lifetime of server-side recognition streams.
	STTDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("model", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ModelFallbacks counts fall-throughs from one model to the next. Use
	// with attributes: attribute.String("from", ...), attribute.String("to", ...)
	ModelFallbacks metric.Int64Counter

	// Utterances counts committed utterances. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("trigger", ...)
	Utterances metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// RecognitionErrors counts speech recognition failures. Use with
	// attribute: attribute.String("kind", ...)
	RecognitionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of open capture sockets.
	ActiveCaptures metric.Int64UpDownCounter

	// InFlightDispatches tracks dispatches waiting on the provider.
	InFlightDispatches metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// text-generation round trips, up to the default 10 s attempt timeout.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DispatchDuration, err = m.Float64Histogram("sloane.dispatch.duration",
		metric.WithDescription("End-to-end latency of turning one utterance into one completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("sloane.llm.duration",
		metric.WithDescription("Latency of a single text-generation attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("sloane.stt.stream.duration",
		metric.WithDescription("Lifetime of server-side speech recognition streams."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("sloane.provider.requests",
		metric.WithDescription("Total provider attempts by provider, model, and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelFallbacks, err = m.Int64Counter("sloane.dispatch.fallbacks",
		metric.WithDescription("Total model fall-throughs by source and target model."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("sloane.capture.utterances",
		metric.WithDescription("Total committed utterances by mode and trigger."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("sloane.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("sloane.capture.recognition_errors",
		metric.WithDescription("Total speech recognition errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("sloane.active_captures",
		metric.WithDescription("Number of open capture sockets."),
	); err != nil {
		return nil, err
	}
	if met.InFlightDispatches, err = m.Int64UpDownCounter("sloane.dispatch.in_flight",
		metric.WithDescription("Number of dispatches waiting on the provider."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sloane.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
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

// RecordProviderRequest records one provider attempt and its latency.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, model, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	))
	m.LLMDuration.Record(ctx, seconds, attrs)
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

// RecordFallback records a fall-through from one model to the next.
func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	m.ModelFallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDispatch records the end-to-end latency of one dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, mode, result string, seconds float64) {
	m.DispatchDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("result", result),
		),
	)
}

// RecordUtterance records a committed utterance. trigger is "silence",
// "final", "flush" or "typed".
func (m *Metrics) RecordUtterance(ctx context.Context, mode, trigger string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("trigger", trigger),
		),
	)
}

// RecordRecognitionError records a speech recognition failure.
func (m *Metrics) RecordRecognitionError(ctx context.Context, kind string) {
	m.RecognitionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
