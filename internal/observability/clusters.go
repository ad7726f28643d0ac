package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ClusterMetrics records cluster engine metrics.
type ClusterMetrics interface {
	RecordClustering(ctx context.Context, clusters, unclustered int, duration time.Duration)
	RecordLabelFallback(ctx context.Context, reason string)
}

type clusterMetrics struct {
	clusters       metric.Int64Counter
	unclustered    metric.Int64Counter
	duration       metric.Float64Histogram
	labelFallbacks metric.Int64Counter
}

// NewClusterMetrics creates ClusterMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewClusterMetrics(meter metric.Meter) (ClusterMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	clusters, err := meter.Int64Counter(
		MetricNameClustersGenerated,
		metric.WithDescription("Clusters kept after discarding undersized groups"),
	)
	if err != nil {
		return nil, fmt.Errorf("create clusters generated counter: %w", err)
	}

	unclustered, err := meter.Int64Counter(
		MetricNameUnclusteredItems,
		metric.WithDescription("Items left unclustered by a regeneration"),
	)
	if err != nil {
		return nil, fmt.Errorf("create unclustered items counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameClusteringDuration,
		metric.WithDescription("Cluster regeneration duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create clustering duration histogram: %w", err)
	}

	labelFallbacks, err := meter.Int64Counter(
		MetricNameLabelFallbacks,
		metric.WithDescription("Cluster labels produced by the frequency fallback, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create label fallbacks counter: %w", err)
	}

	return &clusterMetrics{
		clusters:       clusters,
		unclustered:    unclustered,
		duration:       duration,
		labelFallbacks: labelFallbacks,
	}, nil
}

func (m *clusterMetrics) RecordClustering(ctx context.Context, clusters, unclustered int, duration time.Duration) {
	m.clusters.Add(ctx, int64(clusters))
	m.unclustered.Add(ctx, int64(unclustered))
	m.duration.Record(ctx, duration.Seconds())
}

func (m *clusterMetrics) RecordLabelFallback(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedLabelFallbackReasons)
	m.labelFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}
