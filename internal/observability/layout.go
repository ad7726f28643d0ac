package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LayoutMetrics records projector and satellite layout metrics.
type LayoutMetrics interface {
	RecordProjection(ctx context.Context, method string, computed int, duration time.Duration)
	RecordReductionDuration(ctx context.Context, duration time.Duration, status string)
	RecordLayoutFallback(ctx context.Context, reason string)
	RecordPersistFailure(ctx context.Context, kind string)
	RecordSatellitesPlaced(ctx context.Context, placement string, count int)
}

type layoutMetrics struct {
	projections        metric.Int64Counter
	projectedItems     metric.Int64Counter
	projectionDuration metric.Float64Histogram
	reductionDuration  metric.Float64Histogram
	fallbacks          metric.Int64Counter
	persistFailures    metric.Int64Counter
	satellites         metric.Int64Counter
}

// NewLayoutMetrics creates LayoutMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewLayoutMetrics(meter metric.Meter) (LayoutMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	projections, err := meter.Int64Counter(
		MetricNameProjections,
		metric.WithDescription("Projector runs by method applied to newly computed positions"),
	)
	if err != nil {
		return nil, fmt.Errorf("create projections counter: %w", err)
	}

	projectedItems, err := meter.Int64Counter(
		MetricNameProjectedItems,
		metric.WithDescription("Positions computed by the projector, by method"),
	)
	if err != nil {
		return nil, fmt.Errorf("create projected items counter: %w", err)
	}

	projectionDuration, err := meter.Float64Histogram(
		MetricNameProjectionDuration,
		metric.WithDescription("Projector run duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create projection duration histogram: %w", err)
	}

	reductionDuration, err := meter.Float64Histogram(
		MetricNameReductionDuration,
		metric.WithDescription("Dimensionality reduction duration (seconds) by status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reduction duration histogram: %w", err)
	}

	fallbacks, err := meter.Int64Counter(
		MetricNameLayoutFallbacks,
		metric.WithDescription("Grid fallbacks by reason (degenerate_input, timeout, compute_error)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create layout fallbacks counter: %w", err)
	}

	persistFailures, err := meter.Int64Counter(
		MetricNamePersistFailures,
		metric.WithDescription("Failed store writes that were logged and skipped, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("create persist failures counter: %w", err)
	}

	satellites, err := meter.Int64Counter(
		MetricNameSatellitesPlaced,
		metric.WithDescription("Satellites placed by the radial resolver, by placement"),
	)
	if err != nil {
		return nil, fmt.Errorf("create satellites placed counter: %w", err)
	}

	return &layoutMetrics{
		projections:        projections,
		projectedItems:     projectedItems,
		projectionDuration: projectionDuration,
		reductionDuration:  reductionDuration,
		fallbacks:          fallbacks,
		persistFailures:    persistFailures,
		satellites:         satellites,
	}, nil
}

func (m *layoutMetrics) RecordProjection(ctx context.Context, method string, computed int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrMethod, NormalizeMethod(method)))
	m.projections.Add(ctx, 1, attrs)
	m.projectedItems.Add(ctx, int64(computed), attrs)
	m.projectionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *layoutMetrics) RecordReductionDuration(ctx context.Context, duration time.Duration, status string) {
	status = NormalizeReason(status, map[string]bool{"success": true, "timeout": true, "error": true})
	m.reductionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrStatus, status)))
}

func (m *layoutMetrics) RecordLayoutFallback(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedFallbackReasons)
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (m *layoutMetrics) RecordPersistFailure(ctx context.Context, kind string) {
	kind = NormalizeReason(kind, AllowedPersistKinds)
	m.persistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrKind, kind)))
}

func (m *layoutMetrics) RecordSatellitesPlaced(ctx context.Context, placement string, count int) {
	placement = NormalizeReason(placement, AllowedPlacements)
	m.satellites.Add(ctx, int64(count), metric.WithAttributes(attribute.String(AttrPlacement, placement)))
}
