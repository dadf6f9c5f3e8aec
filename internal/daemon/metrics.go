package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds lifecycle metrics. Exported through Prometheus they read as
// ttlkeeper_flagged_total, ttlkeeper_terminated_total,
// ttlkeeper_cycle_errors_total and ttlkeeper_cycle_duration_seconds.
type Metrics struct {
	flagged       metric.Int64Counter
	terminated    metric.Int64Counter
	cycleErrors   metric.Int64Counter
	cycleDuration metric.Float64Histogram
	region        string
}

// NewMetrics creates the metrics on provider; nil means the global provider.
func NewMetrics(provider metric.MeterProvider, region string) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("ttlkeeper.daemon")

	flagged, err := meter.Int64Counter(
		"ttlkeeper.flagged",
		metric.WithDescription("Instances added to the delete list"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	terminated, err := meter.Int64Counter(
		"ttlkeeper.terminated",
		metric.WithDescription("Instances the provider accepted for termination"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	cycleErrors, err := meter.Int64Counter(
		"ttlkeeper.cycle.errors",
		metric.WithDescription("Failed cycle stages"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"ttlkeeper.cycle.duration",
		metric.WithDescription("Duration of scan and reap cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		flagged:       flagged,
		terminated:    terminated,
		cycleErrors:   cycleErrors,
		cycleDuration: cycleDuration,
		region:        region,
	}, nil
}

// RecordFlagged adds n newly flagged instances.
func (m *Metrics) RecordFlagged(ctx context.Context, n int64) {
	m.flagged.Add(ctx, n, metric.WithAttributes(attribute.String("cloud.region", m.region)))
}

// RecordTerminated adds n terminated instances.
func (m *Metrics) RecordTerminated(ctx context.Context, n int64) {
	m.terminated.Add(ctx, n, metric.WithAttributes(attribute.String("cloud.region", m.region)))
}

// RecordCycleError records a failed stage with its error kind.
func (m *Metrics) RecordCycleError(ctx context.Context, stage, kind string) {
	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
		attribute.String("cloud.region", m.region),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String("error.type", kind))
	}
	m.cycleErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCycleDuration records how long a cycle took.
func (m *Metrics) RecordCycleDuration(ctx context.Context, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.cycleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}
