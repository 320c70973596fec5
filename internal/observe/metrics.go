// Package observe provides the client's observability primitives:
// OpenTelemetry metrics with a Prometheus exporter bridge, tracing helpers,
// and HTTP middleware for the diagnostics server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all recorder metrics.
const meterName = "github.com/PratikLad0/vad-detection"

// Metrics holds all OpenTelemetry metric instruments for the recorder.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Counters ---

	// FramesProcessed counts captured audio frames by energy class. Use
	// with attribute.String("class", ...).
	FramesProcessed metric.Int64Counter

	// Segments counts finalized speech segments.
	Segments metric.Int64Counter

	// ChunksSent counts encoded audio chunks handed to the transport.
	ChunksSent metric.Int64Counter

	// ChunksDropped counts chunks lost to suppression or a disconnected
	// transport. Use with attribute.String("reason", ...).
	ChunksDropped metric.Int64Counter

	// Reconnects counts WebSocket reconnection attempts by outcome. Use
	// with attribute.String("status", ...).
	Reconnects metric.Int64Counter

	// WakeDetections counts wake phrase matches by rule. Use with
	// attribute.String("rule", ...).
	WakeDetections metric.Int64Counter

	// Uploads counts recording uploads by status.
	Uploads metric.Int64Counter

	// --- Histograms ---

	// SegmentDuration tracks the length of finalized speech segments.
	SegmentDuration metric.Float64Histogram

	// RoundTripDuration tracks the time from segment end to the backend's
	// response for that segment.
	RoundTripDuration metric.Float64Histogram

	// --- Gauges ---

	// StreamConnected tracks whether the transport socket is open (0 or 1).
	StreamConnected metric.Int64UpDownCounter

	// PlaybacksActive tracks in-progress response playbacks.
	PlaybacksActive metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics endpoint latency. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech segments and backend round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("vadrecorder.frames.processed",
		metric.WithDescription("Total captured audio frames by energy class."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("vadrecorder.segments",
		metric.WithDescription("Total finalized speech segments."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("vadrecorder.chunks.sent",
		metric.WithDescription("Total encoded audio chunks handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("vadrecorder.chunks.dropped",
		metric.WithDescription("Total chunks dropped by suppression or disconnection, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("vadrecorder.stream.reconnects",
		metric.WithDescription("Total WebSocket reconnect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("vadrecorder.wake.detections",
		metric.WithDescription("Total wake phrase matches by rule."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("vadrecorder.uploads",
		metric.WithDescription("Total recording uploads by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("vadrecorder.segment.duration",
		metric.WithDescription("Length of finalized speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RoundTripDuration, err = m.Float64Histogram("vadrecorder.roundtrip.duration",
		metric.WithDescription("Time from segment end to the backend's response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.StreamConnected, err = m.Int64UpDownCounter("vadrecorder.stream.connected",
		metric.WithDescription("Whether the transport socket is currently open."),
	); err != nil {
		return nil, err
	}
	if met.PlaybacksActive, err = m.Int64UpDownCounter("vadrecorder.playbacks.active",
		metric.WithDescription("Number of in-progress response playbacks."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vadrecorder.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
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

// RecordFrame records one processed frame with its energy class.
func (m *Metrics) RecordFrame(ctx context.Context, class string) {
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("class", class)),
	)
}

// RecordWake records a wake detection with the rule that matched.
func (m *Metrics) RecordWake(ctx context.Context, rule string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rule", rule)),
	)
}

// RecordReconnect records a reconnect attempt outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordChunkDropped records a dropped chunk with its reason.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
