// Package observe provides application-wide observability primitives for
// voxtutor: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxtutor metrics.
const meterName = "github.com/MrWong99/voxtutor"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// RecognitionDuration tracks the wall time of a recognition run from
	// start to settlement. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("outcome", ...)
	RecognitionDuration metric.Float64Histogram

	// RecognitionRuns counts settled recognition runs. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("outcome", ...)
	RecognitionRuns metric.Int64Counter

	// MatchResults counts classified utterances. Use with attribute:
	//   attribute.String("tier", ...)
	MatchResults metric.Int64Counter

	// EvaluationDecisions counts orchestrator decisions. Use with attribute:
	//   attribute.String("decision", ...)
	EvaluationDecisions metric.Int64Counter

	// ActiveRuns tracks the number of in-flight recognition runs.
	ActiveRuns metric.Int64UpDownCounter

	// RelayPeers tracks the number of connected relay peers.
	RelayPeers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for capture
// latencies: a spoken answer typically takes between one and fifteen seconds.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10, 15, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionDuration, err = m.Float64Histogram("voxtutor.recognition.duration",
		metric.WithDescription("Duration of a recognition run until settlement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionRuns, err = m.Int64Counter("voxtutor.recognition.runs",
		metric.WithDescription("Settled recognition runs by backend and outcome."),
	); err != nil {
		return nil, err
	}
	if met.MatchResults, err = m.Int64Counter("voxtutor.match.results",
		metric.WithDescription("Classified utterances by match tier."),
	); err != nil {
		return nil, err
	}
	if met.EvaluationDecisions, err = m.Int64Counter("voxtutor.evaluation.decisions",
		metric.WithDescription("Evaluation decisions by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("voxtutor.active_runs",
		metric.WithDescription("Number of in-flight recognition runs."),
	); err != nil {
		return nil, err
	}
	if met.RelayPeers, err = m.Int64UpDownCounter("voxtutor.relay.peers",
		metric.WithDescription("Number of connected relay peers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtutor.http.request.duration",
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

// RecordRecognitionRun records one settled run: the duration histogram and the
// run counter, both tagged with backend and outcome.
func (m *Metrics) RecordRecognitionRun(ctx context.Context, backend, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	)
	m.RecognitionDuration.Record(ctx, seconds, attrs)
	m.RecognitionRuns.Add(ctx, 1, attrs)
}

// RecordMatch is a convenience method that records a match tier counter
// increment.
func (m *Metrics) RecordMatch(ctx context.Context, tier string) {
	m.MatchResults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordDecision is a convenience method that records an evaluation decision
// counter increment.
func (m *Metrics) RecordDecision(ctx context.Context, decision string) {
	m.EvaluationDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("decision", decision)),
	)
}
