// Package observe provides application-wide observability primitives for
// voxgate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Utterance outcomes recorded by [Metrics.RecordUtterance].
const (
	OutcomeEmitted   = "emitted"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// FinalizeDuration tracks how long segmentation, trimming, splicing, and
	// encoding take for one utterance.
	FinalizeDuration metric.Float64Histogram

	// DeliveryDuration tracks sink delivery latency.
	DeliveryDuration metric.Float64Histogram

	// --- Audio histograms ---

	// UtteranceDuration tracks the length of captured audio before trimming.
	UtteranceDuration metric.Float64Histogram

	// TrimmedSilence tracks how much silence was removed per utterance.
	TrimmedSilence metric.Float64Histogram

	// --- Counters ---

	// Utterances counts finalized utterances. Use with attribute:
	//   attribute.String("outcome", OutcomeEmitted|OutcomeDiscarded|OutcomeFailed)
	Utterances metric.Int64Counter

	// SpeechEvents counts detector events. Use with attribute:
	//   attribute.String("event", "speech_start"|"speech_end"|"misfire")
	SpeechEvents metric.Int64Counter

	// StateTransitions counts capture state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// --- Error counters ---

	// CaptureErrors counts microphone and VAD failures. Use with attribute:
	//   attribute.String("op", ...)
	CaptureErrors metric.Int64Counter

	// SinkErrors counts failed deliveries.
	SinkErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// OpenMicrophones tracks the number of sessions currently holding an
	// input stream.
	OpenMicrophones metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method, route template and status by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// processing latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// audioBuckets defines histogram bucket boundaries (in seconds) for audio
// lengths.
var audioBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Latency histograms.
	if met.FinalizeDuration, err = m.Float64Histogram("voxgate.finalize.duration",
		metric.WithDescription("Latency of utterance processing and encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DeliveryDuration, err = m.Float64Histogram("voxgate.delivery.duration",
		metric.WithDescription("Latency of delivering an utterance to its sinks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Audio histograms.
	if met.UtteranceDuration, err = m.Float64Histogram("voxgate.utterance.duration",
		metric.WithDescription("Length of captured audio before trimming."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TrimmedSilence, err = m.Float64Histogram("voxgate.utterance.trimmed_silence",
		metric.WithDescription("Silence removed from an utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxgate.utterances",
		metric.WithDescription("Total finalized utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechEvents, err = m.Int64Counter("voxgate.speech.events",
		metric.WithDescription("Total voice activity events by type."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxgate.capture.transitions",
		metric.WithDescription("Total capture state transitions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureErrors, err = m.Int64Counter("voxgate.capture.errors",
		metric.WithDescription("Total capture errors by operation."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("voxgate.sink.errors",
		metric.WithDescription("Total failed utterance deliveries."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.OpenMicrophones, err = m.Int64UpDownCounter("voxgate.open_microphones",
		metric.WithDescription("Number of sessions holding an input stream."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
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

// RecordUtterance increments the utterance counter for outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSpeechEvent increments the detector event counter.
func (m *Metrics) RecordSpeechEvent(ctx context.Context, event string) {
	m.SpeechEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordTransition increments the state transition counter.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordCaptureError increments the capture error counter for op.
func (m *Metrics) RecordCaptureError(ctx context.Context, op string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
