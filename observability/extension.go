package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor/ext"
	"github.com/xraph/conveyor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered = (*MetricsExtension)(nil)
	_ ext.JobSuspended    = (*MetricsExtension)(nil)
	_ ext.JobStalled      = (*MetricsExtension)(nil)
	_ ext.QueuePaused     = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/conveyor/observability"

// MetricsExtension records lifecycle counters. Every instrument carries
// the queue attribute; job instruments also carry job_name.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	suspended    metric.Int64Counter
	stalled      metric.Int64Counter
	paused       metric.Int64Counter
	latency      metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	latency, _ := meter.Float64Histogram(
		"conveyor.job.completion_latency",
		metric.WithDescription("Time from claim to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		enqueued:     counter("conveyor.job.enqueued", "Jobs handed to a queue"),
		completed:    counter("conveyor.job.completed", "Jobs that completed"),
		failed:       counter("conveyor.job.failed", "Jobs that ended FAILED"),
		retried:      counter("conveyor.job.retried", "Failed attempts scheduled for retry"),
		deadLettered: counter("conveyor.job.dead_lettered", "Jobs moved to the dead letter path"),
		suspended:    counter("conveyor.job.suspended", "Jobs suspended on children"),
		stalled:      counter("conveyor.job.stalled", "Jobs force-failed by the stall reaper"),
		paused: func() metric.Int64Counter {
			c, _ := meter.Int64Counter("conveyor.queue.paused",
				metric.WithDescription("Queue pauses requested by processors"),
				metric.WithUnit("{pause}"))
			return c
		}(),
		latency: latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := jobAttrs(j)
	m.completed.Add(ctx, 1, attrs)
	m.latency.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.Job, _ string) error {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
		attribute.String("failure_kind", string(j.FailureKind)),
	))
	return nil
}

// OnJobSuspended implements ext.JobSuspended.
func (m *MetricsExtension) OnJobSuspended(ctx context.Context, j *job.Job) error {
	m.suspended.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.stalled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Queue hooks ─────────────────────────────────────

// OnQueuePaused implements ext.QueuePaused.
func (m *MetricsExtension) OnQueuePaused(ctx context.Context, queue string, _ time.Time) error {
	m.paused.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
	return nil
}
