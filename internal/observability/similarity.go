package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SimilarityMetrics records similarity engine metrics.
type SimilarityMetrics interface {
	RecordSimilarityEdges(ctx context.Context, mode string, count int)
	RecordSimilarityItem(ctx context.Context, mode, status string)
}

type similarityMetrics struct {
	edges metric.Int64Counter
	items metric.Int64Counter
}

// NewSimilarityMetrics creates SimilarityMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewSimilarityMetrics(meter metric.Meter) (SimilarityMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	edges, err := meter.Int64Counter(
		MetricNameSimilarityEdges,
		metric.WithDescription("Directed similar_to edges written, by mode"),
	)
	if err != nil {
		return nil, fmt.Errorf("create similarity edges counter: %w", err)
	}

	items, err := meter.Int64Counter(
		MetricNameSimilarityItems,
		metric.WithDescription("Items processed by the similarity engine, by mode and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create similarity items counter: %w", err)
	}

	return &similarityMetrics{edges: edges, items: items}, nil
}

func (m *similarityMetrics) RecordSimilarityEdges(ctx context.Context, mode string, count int) {
	mode = NormalizeReason(mode, AllowedModes)
	m.edges.Add(ctx, int64(count), metric.WithAttributes(attribute.String(AttrMode, mode)))
}

func (m *similarityMetrics) RecordSimilarityItem(ctx context.Context, mode, status string) {
	m.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMode, NormalizeReason(mode, AllowedModes)),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedItemStatuses)),
	))
}
