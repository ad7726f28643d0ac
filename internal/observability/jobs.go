package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics records River job metrics for the atlas workers.
type JobMetrics interface {
	RecordJobOutcome(ctx context.Context, kind, status string, duration time.Duration)
	RecordJobsEnqueued(ctx context.Context, kind string, count int)
	RecordJobEnqueueError(ctx context.Context, kind string)
}

type jobMetrics struct {
	outcomes      metric.Int64Counter
	duration      metric.Float64Histogram
	enqueued      metric.Int64Counter
	enqueueErrors metric.Int64Counter
}

// NewJobMetrics creates JobMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewJobMetrics(meter metric.Meter) (JobMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	outcomes, err := meter.Int64Counter(
		MetricNameJobOutcomes,
		metric.WithDescription("Job outcomes by kind and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job outcomes counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameJobDuration,
		metric.WithDescription("Job duration (seconds) by kind"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job duration histogram: %w", err)
	}

	enqueued, err := meter.Int64Counter(
		MetricNameJobsEnqueued,
		metric.WithDescription("Jobs enqueued by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("create jobs enqueued counter: %w", err)
	}

	enqueueErrors, err := meter.Int64Counter(
		MetricNameJobEnqueueErrors,
		metric.WithDescription("Job enqueue failures by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("create job enqueue errors counter: %w", err)
	}

	return &jobMetrics{outcomes: outcomes, duration: duration, enqueued: enqueued, enqueueErrors: enqueueErrors}, nil
}

func (m *jobMetrics) RecordJobOutcome(ctx context.Context, kind, status string, duration time.Duration) {
	kindAttr := attribute.String(AttrJob, NormalizeReason(kind, AllowedJobKinds))
	m.outcomes.Add(ctx, 1, metric.WithAttributes(kindAttr, attribute.String(AttrStatus, NormalizeReason(status, AllowedItemStatuses))))
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(kindAttr))
}

func (m *jobMetrics) RecordJobsEnqueued(ctx context.Context, kind string, count int) {
	m.enqueued.Add(ctx, int64(count), metric.WithAttributes(attribute.String(AttrJob, NormalizeReason(kind, AllowedJobKinds))))
}

func (m *jobMetrics) RecordJobEnqueueError(ctx context.Context, kind string) {
	m.enqueueErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrJob, NormalizeReason(kind, AllowedJobKinds))))
}
