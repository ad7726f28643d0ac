// Package components builds the atlas services from configuration. The worker and the CLI
// share it so both run the components with identical settings.
package components

import (
	"fmt"
	"log/slog"

	"github.com/formbricks/atlas/internal/config"
	"github.com/formbricks/atlas/internal/labeler"
	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/internal/service"
)

// labelRetryMax bounds retries of a single label request on top of the rate limiter.
const labelRetryMax = 2

// Components holds one instance of each service, all backed by the same store.
type Components struct {
	Projector  *service.Projector
	Builder    *service.SatelliteGraphBuilder
	Resolver   *service.RadialLayoutResolver
	Similarity *service.SimilarityService
	Clusters   *service.ClusteringService
	Store      service.Store
}

// New wires every component against store. metrics may be nil.
func New(cfg *config.Config, store service.Store, metrics observability.AtlasMetrics, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		layoutMetrics     observability.LayoutMetrics
		similarityMetrics observability.SimilarityMetrics
		clusterMetrics    observability.ClusterMetrics
		cacheMetrics      observability.CacheMetrics
	)
	if metrics != nil {
		layoutMetrics = metrics
		similarityMetrics = metrics
		clusterMetrics = metrics
		cacheMetrics = metrics
	}

	canvas := service.Canvas{Width: cfg.CanvasWidth, Height: cfg.CanvasHeight, Padding: cfg.CanvasPadding}

	groupLabeler, err := newLabeler(cfg, cacheMetrics, logger)
	if err != nil {
		return nil, err
	}

	return &Components{
		Projector: service.NewProjector(service.ProjectorParams{
			Store:            store,
			Canvas:           canvas,
			ReductionTimeout: cfg.ReductionTimeout,
			Metrics:          layoutMetrics,
			Logger:           logger,
		}),
		Builder: service.NewSatelliteGraphBuilder(store, layoutMetrics, logger),
		Resolver: service.NewRadialLayoutResolver(service.RadialLayoutParams{
			Store:   store,
			Canvas:  canvas,
			Metrics: layoutMetrics,
			Logger:  logger,
		}),
		Similarity: service.NewSimilarityService(service.SimilarityServiceParams{
			Store:              store,
			DefaultMode:        service.SimilarityMode(cfg.SimilarityMode),
			Limit:              cfg.SimilarityLimit,
			VectorThreshold:    cfg.SimilarityThreshold,
			HybridThreshold:    cfg.HybridThreshold,
			CandidateThreshold: cfg.HybridCandidateThreshold,
			Metrics:            similarityMetrics,
			Logger:             logger,
		}),
		Clusters: service.NewClusteringService(service.ClusteringServiceParams{
			Store:          store,
			Labeler:        groupLabeler,
			LabelTimeout:   cfg.LabelTimeout,
			MinClusterSize: cfg.MinClusterSize,
			Metrics:        clusterMetrics,
			Logger:         logger,
		}),
		Store: store,
	}, nil
}

// newLabeler returns nil when labelling is disabled; clusters then get frequency labels.
func newLabeler(cfg *config.Config, metrics observability.CacheMetrics, logger *slog.Logger) (service.Labeler, error) {
	if cfg.LabelProvider != config.LabelProviderOpenAI {
		logger.Info("cluster labelling uses keyword fallback", "label_provider", cfg.LabelProvider)

		//nolint:nilnil // intentional: labelling disabled, the clustering service handles a nil labeler
		return nil, nil
	}

	l, err := labeler.NewOpenAILabeler(labeler.Options{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.LabelModel,
		RateLimit: cfg.LabelRateLimit,
		CacheSize: cfg.LabelCacheSize,
		RetryMax:  labelRetryMax,
		Timeout:   cfg.LabelTimeout,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create label client: %w", err)
	}

	logger.Info("cluster labelling enabled", "label_provider", cfg.LabelProvider, "model", cfg.LabelModel)

	return l, nil
}
