package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterScope         = "github.com/formbricks/atlas/internal/observability"
	defaultServiceName = "atlas-worker"
	cardinalityLimit   = 2000
)

// durationHistogramBounds are second-based buckets. Reductions can run up to their timeout,
// so the upper buckets reach well past the OTel millisecond-oriented defaults.
var durationHistogramBounds = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60}

// AtlasMetrics is the single metrics interface for the atlas worker and CLI.
// Components take the narrow interface they need; a nil value disables recording.
type AtlasMetrics interface {
	LayoutMetrics
	SimilarityMetrics
	ClusterMetrics
	CacheMetrics
	JobMetrics
}

// MeterProviderShutdown is the subset of the SDK MeterProvider needed for shutdown.
type MeterProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// MeterProviderConfig holds configuration for creating the MeterProvider and metrics.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: atlas-worker).
	ServiceName string
}

// NewMeterProvider creates a MeterProvider with Prometheus exporter and returns the provider,
// an HTTP handler for /metrics, and AtlasMetrics that use the provider's Meter.
// Caller must call provider.Shutdown on exit. When metrics are disabled, pass nil for metrics at call sites.
func NewMeterProvider(_ context.Context, cfg MeterProviderConfig) (
	provider MeterProviderShutdown, metricsHandler http.Handler, metrics AtlasMetrics, err error,
) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(
		prometheusexporter.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: metricNameDurationPatternGlob},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: durationHistogramBounds}},
			),
		),
	)

	metrics, err = NewAtlasMetrics(mp.Meter(meterScope))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics, nil
}

type atlasMetrics struct {
	LayoutMetrics
	SimilarityMetrics
	ClusterMetrics
	CacheMetrics
	JobMetrics
}

// NewAtlasMetrics creates every instrument on meter. Returns (nil, nil) when meter is nil (metrics disabled).
func NewAtlasMetrics(meter metric.Meter) (AtlasMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	layout, err := NewLayoutMetrics(meter)
	if err != nil {
		return nil, err
	}

	similarity, err := NewSimilarityMetrics(meter)
	if err != nil {
		return nil, err
	}

	clusters, err := NewClusterMetrics(meter)
	if err != nil {
		return nil, err
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, err
	}

	jobs, err := NewJobMetrics(meter)
	if err != nil {
		return nil, err
	}

	return &atlasMetrics{
		LayoutMetrics:     layout,
		SimilarityMetrics: similarity,
		ClusterMetrics:    clusters,
		CacheMetrics:      cache,
		JobMetrics:        jobs,
	}, nil
}
