// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics and the Prometheus exporter bridge that makes
// them scrapeable via /metrics.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-recognition latency per utterance.
	ASRDuration metric.Float64Histogram

	// MTDuration tracks translation latency per utterance.
	MTDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency per utterance.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts finalised utterances. Attributes:
	//   attribute.String("language", ...)
	Utterances metric.Int64Counter

	// Partials counts interim transcript dispositions. Attributes:
	//   attribute.String("outcome", "emitted"|"skipped"|"stale")
	Partials metric.Int64Counter

	// StageErrors counts pipeline stage failures. Attributes:
	//   attribute.String("stage", "asr"|"mt"|"tts"),
	//   attribute.String("reason", "timeout"|"circuit_open"|"error"|"queue_full")
	StageErrors metric.Int64Counter

	// DroppedFrames counts inbound audio frames discarded before the
	// pipeline. Attributes:
	//   attribute.String("reason", "phase"|"muted"|"mic_locked")
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveRooms tracks the number of live rooms.
	ActiveRooms metric.Int64UpDownCounter

	// ActiveConnections tracks connected participants across all rooms and
	// solo sessions.
	ActiveConnections metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ASRDuration, err = m.Float64Histogram("parley.asr.duration",
		metric.WithDescription("Latency of speech recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MTDuration, err = m.Float64Histogram("parley.mt.duration",
		metric.WithDescription("Latency of machine translation per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of speech synthesis per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("parley.utterances",
		metric.WithDescription("Total finalised utterances by source language."),
	); err != nil {
		return nil, err
	}
	if met.Partials, err = m.Int64Counter("parley.partials",
		metric.WithDescription("Interim transcript dispositions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("parley.stage.errors",
		metric.WithDescription("Pipeline stage failures by stage and reason."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("parley.dropped_frames",
		metric.WithDescription("Inbound audio frames discarded before the pipeline."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRooms, err = m.Int64UpDownCounter("parley.active_rooms",
		metric.WithDescription("Number of live rooms."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("parley.active_connections",
		metric.WithDescription("Connected participants across rooms and solo sessions."),
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

// RecordPartial records an interim transcript disposition.
func (m *Metrics) RecordPartial(ctx context.Context, outcome string) {
	m.Partials.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordStageError records a pipeline stage failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage, reason string) {
	m.StageErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", reason),
	))
}

// RecordDroppedFrame records an inbound frame discarded before the pipeline.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, reason string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordUtterance records a finalised utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, language string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}
