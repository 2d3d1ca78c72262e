// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/shotcaller-ai/shotcaller"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AnalyzerDuration tracks analyzer call latency. Use with attributes:
	//   attribute.String("modality", "detect"|"scene"|"speech"), attribute.String("cam", ...)
	AnalyzerDuration metric.Float64Histogram

	// TTSDuration tracks narration synthesis latency.
	TTSDuration metric.Float64Histogram

	// DecisionDuration tracks one decision tick evaluation.
	DecisionDuration metric.Float64Histogram

	// --- Counters ---

	// Switches counts program switches. Use with attribute:
	//   attribute.String("rationale", ...)
	Switches metric.Int64Counter

	// Holds counts hold decisions. Use with attribute:
	//   attribute.String("rationale", ...)
	Holds metric.Int64Counter

	// NarrationsDropped counts narrations rejected for missing the latency
	// budget or being cancelled by a newer switch.
	NarrationsDropped metric.Int64Counter

	// AnalyzerErrors counts analyzer failures. Use with attributes:
	//   attribute.String("modality", ...), attribute.String("cam", ...)
	AnalyzerErrors metric.Int64Counter

	// BusDropped counts events dropped from slow subscriber queues. Use with
	// attribute: attribute.String("topic", ...)
	BusDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveCameras tracks the number of live cameras in the room.
	ActiveCameras metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the analyzer and synthesis latencies this pipeline operates at.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalyzerDuration, err = m.Float64Histogram("shotcaller.analyzer.duration",
		metric.WithDescription("Latency of analyzer calls by modality and camera."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("shotcaller.tts.duration",
		metric.WithDescription("Latency of narration synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecisionDuration, err = m.Float64Histogram("shotcaller.decision.duration",
		metric.WithDescription("Duration of one decision tick evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Switches, err = m.Int64Counter("shotcaller.switches",
		metric.WithDescription("Total program switches by rationale."),
	); err != nil {
		return nil, err
	}
	if met.Holds, err = m.Int64Counter("shotcaller.holds",
		metric.WithDescription("Total hold decisions by rationale."),
	); err != nil {
		return nil, err
	}
	if met.NarrationsDropped, err = m.Int64Counter("shotcaller.narrations.dropped",
		metric.WithDescription("Total narrations dropped for budget overruns or cancellation."),
	); err != nil {
		return nil, err
	}
	if met.AnalyzerErrors, err = m.Int64Counter("shotcaller.analyzer.errors",
		metric.WithDescription("Total analyzer failures by modality and camera."),
	); err != nil {
		return nil, err
	}
	if met.BusDropped, err = m.Int64Counter("shotcaller.bus.dropped",
		metric.WithDescription("Total events dropped from slow subscriber queues by topic."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCameras, err = m.Int64UpDownCounter("shotcaller.active_cameras",
		metric.WithDescription("Number of live cameras in the media room."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("shotcaller.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordDecision records a decision outcome counter increment.
func (m *Metrics) RecordDecision(ctx context.Context, action, rationale string) {
	attrs := metric.WithAttributes(attribute.String("rationale", rationale))
	if action == "SWITCH" {
		m.Switches.Add(ctx, 1, attrs)
	} else {
		m.Holds.Add(ctx, 1, attrs)
	}
}

// RecordAnalyzerError records an analyzer failure counter increment with the
// standard attribute set.
func (m *Metrics) RecordAnalyzerError(ctx context.Context, modality, cam string) {
	m.AnalyzerErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("modality", modality),
			attribute.String("cam", cam),
		),
	)
}

// RecordAnalyzerDuration records one analyzer call latency.
func (m *Metrics) RecordAnalyzerDuration(ctx context.Context, modality, cam string, seconds float64) {
	m.AnalyzerDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("modality", modality),
			attribute.String("cam", cam),
		),
	)
}
