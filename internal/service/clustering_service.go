package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
)

const (
	defaultMinClusterSize = 3
	defaultLabelTimeout   = 10 * time.Second
)

// ClusterOptions tune one regeneration. Zero values take the service defaults.
type ClusterOptions struct {
	MinClusterSize int
	// Seed makes centroid initialisation reproducible. Nil uses the service's random source.
	Seed     *int64
	ItemType string
}

// ClusteringServiceParams configures a ClusteringService.
type ClusteringServiceParams struct {
	Store ClusterStore
	// Labeler is optional; without one every cluster gets the frequency fallback label.
	Labeler        Labeler
	LabelTimeout   time.Duration
	MinClusterSize int
	MaxIterations  int
	// NewRand seeds centroid initialisation when no Seed is given. Defaults to TimeSeededRand.
	NewRand RandFactory
	Metrics observability.ClusterMetrics
	Logger  *slog.Logger
}

// ClusteringResult summarises one regeneration.
type ClusteringResult struct {
	OwnerID     string           `json:"owner_id"`
	Clusters    []models.Cluster `json:"clusters"`
	Unclustered []uuid.UUID      `json:"unclustered"`
	K           int              `json:"k"`
	Iterations  int              `json:"iterations"`
	Persisted   bool             `json:"persisted"`
	Duration    time.Duration    `json:"duration"`
}

// ClusteringService partitions an owner's items into labelled topic clusters and replaces the
// owner's stored cluster set.
type ClusteringService struct {
	store          ClusterStore
	labeler        Labeler
	labelTimeout   time.Duration
	minClusterSize int
	maxIterations  int
	newRand        RandFactory
	metrics        observability.ClusterMetrics
	logger         *slog.Logger
	group          singleflight.Group
}

// NewClusteringService creates a ClusteringService with defaults applied.
func NewClusteringService(params ClusteringServiceParams) *ClusteringService {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	newRand := params.NewRand
	if newRand == nil {
		newRand = TimeSeededRand()
	}

	return &ClusteringService{
		store:          params.Store,
		labeler:        params.Labeler,
		labelTimeout:   cmp.Or(params.LabelTimeout, defaultLabelTimeout),
		minClusterSize: cmp.Or(params.MinClusterSize, defaultMinClusterSize),
		maxIterations:  cmp.Or(params.MaxIterations, defaultMaxIterations),
		newRand:        newRand,
		metrics:        params.Metrics,
		logger:         logger,
	}
}

// RegenerateClusters recomputes the owner's clusters and atomically replaces the stored set.
// Concurrent calls for the same owner and options share one run.
func (s *ClusteringService) RegenerateClusters(ctx context.Context, ownerID string, opts ClusterOptions) (*ClusteringResult, error) {
	if ownerID == "" {
		return nil, apperrors.NewValidationError("owner_id", "owner id is required")
	}

	opts.MinClusterSize = cmp.Or(opts.MinClusterSize, s.minClusterSize)
	opts.ItemType = cmp.Or(opts.ItemType, models.ItemTypeContent)

	if opts.MinClusterSize < 1 {
		return nil, apperrors.NewValidationError("min_cluster_size", "min cluster size must be at least 1")
	}

	// The shared run is detached from any single caller, so one caller giving up does not fail the
	// others waiting on the same key.
	runCtx := context.WithoutCancel(ctx)

	ch := s.group.DoChan(opts.flightKey(ownerID), func() (any, error) {
		return s.regenerate(runCtx, ownerID, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		result, ok := res.Val.(*ClusteringResult)
		if !ok {
			return nil, fmt.Errorf("unexpected clustering result type %T", res.Val)
		}

		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightKey identifies runs that produce the same result. A nil seed draws from the service's
// random source, so those runs are interchangeable.
func (o ClusterOptions) flightKey(ownerID string) string {
	seedKey := "random"
	if o.Seed != nil {
		seedKey = strconv.FormatInt(*o.Seed, 10)
	}

	return "clusters:" + ownerID + ":" + o.ItemType + ":" + strconv.Itoa(o.MinClusterSize) + ":" + seedKey
}

func (s *ClusteringService) regenerate(ctx context.Context, ownerID string, opts ClusterOptions) (*ClusteringResult, error) {
	start := time.Now()
	ctx = observability.WithOwnerID(ctx, ownerID)

	ctx, span := observability.Tracer().Start(ctx, "clustering.regenerate")
	defer span.End()

	records, err := s.store.ListEmbeddings(ctx, ownerID, opts.ItemType)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}

	records = withEmbeddings(sortedByItemID(records))

	result := &ClusteringResult{OwnerID: ownerID, Clusters: []models.Cluster{}, Unclustered: []uuid.UUID{}}
	result.K = clusterCount(len(records), opts.MinClusterSize)

	if result.K < 1 {
		for _, r := range records {
			result.Unclustered = append(result.Unclustered, r.ItemID)
		}
	} else {
		s.partition(ctx, ownerID, records, opts, result)
	}

	if err := s.store.ReplaceClusters(ctx, ownerID, result.Clusters); err != nil {
		s.logger.ErrorContext(ctx, "clustering: replace clusters failed, previous set kept", "error", err)
	} else {
		result.Persisted = true
	}

	result.Duration = time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordClustering(ctx, len(result.Clusters), len(result.Unclustered), result.Duration)
	}

	s.logger.InfoContext(ctx, "clustering: regeneration complete",
		"items", len(records),
		"k", result.K,
		"clusters", len(result.Clusters),
		"unclustered", len(result.Unclustered),
		"iterations", result.Iterations,
		"persisted", result.Persisted,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

// partition runs k-means, discards undersized groups and labels the rest.
func (s *ClusteringService) partition(
	ctx context.Context, ownerID string, records []models.EmbeddingRecord, opts ClusterOptions, result *ClusteringResult,
) {
	rng := s.newRand(ownerID)
	if opts.Seed != nil {
		rng = rand.New(rand.NewSource(*opts.Seed))
	}

	km := kMeans(embeddingVectors(records), result.K, s.maxIterations, rng)
	result.Iterations = km.iterations

	groups := make([][]clusterMember, len(km.centroids))
	for i, c := range km.assignments {
		r := records[i]
		groups[c] = append(groups[c], clusterMember{id: r.ItemID, title: r.Title, summary: r.Summary, vector: r.Embedding})
	}

	now := time.Now().UTC()

	type keptCluster struct {
		cluster models.Cluster
		members []clusterMember
	}

	var kept []keptCluster

	for c, members := range groups {
		if len(members) < opts.MinClusterSize {
			for _, m := range members {
				result.Unclustered = append(result.Unclustered, m.id)
			}

			continue
		}

		vectors := make([][]float32, len(members))
		ids := make([]uuid.UUID, len(members))

		for i, m := range members {
			vectors[i] = m.vector
			ids[i] = m.id
		}

		kept = append(kept, keptCluster{
			cluster: models.Cluster{
				ID:        uuid.New(),
				OwnerID:   ownerID,
				Centroid:  km.centroids[c],
				MemberIDs: ids,
				Coherence: coherence(vectors, km.centroids[c]),
				CreatedAt: now,
			},
			members: members,
		})
	}

	slices.SortStableFunc(kept, func(a, b keptCluster) int {
		if c := cmp.Compare(b.cluster.Size(), a.cluster.Size()); c != 0 {
			return c
		}

		return cmp.Compare(b.cluster.Coherence, a.cluster.Coherence)
	})

	for i, k := range kept {
		label := s.label(ctx, k.members, k.cluster.Centroid, i)
		k.cluster.Label = label.Name
		k.cluster.Description = label.Description
		result.Clusters = append(result.Clusters, k.cluster)
	}
}

// label asks the labeler for a name within the label timeout and falls back to the most
// frequent title word when it fails, times out or returns an empty name.
func (s *ClusteringService) label(ctx context.Context, members []clusterMember, centroid []float32, index int) GroupLabel {
	titles := make([]string, len(members))
	for i, m := range members {
		titles[i] = m.title
	}

	if s.labeler == nil {
		s.recordLabelFallback(ctx, labelFallbackDisabled)

		return fallbackLabel(titles, index)
	}

	labelCtx, cancel := context.WithTimeout(ctx, s.labelTimeout)
	defer cancel()

	type labelOutcome struct {
		label GroupLabel
		err   error
	}

	done := make(chan labelOutcome, 1)
	reps := representatives(members, centroid)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- labelOutcome{err: apperrors.NewComputeError("label", fmt.Errorf("panic: %v", r))}
			}
		}()

		l, err := s.labeler.LabelGroup(labelCtx, reps)
		done <- labelOutcome{label: l, err: err}
	}()

	var (
		label GroupLabel
		err   error
	)

	select {
	case out := <-done:
		label, err = out.label, out.err
	case <-labelCtx.Done():
		err = labelCtx.Err()
	}

	switch {
	case err != nil:
		reason := labelFallbackReason(err)
		s.logger.WarnContext(ctx, "clustering: labeler failed, using fallback label", "reason", reason, "error", err)
		s.recordLabelFallback(ctx, reason)

		return fallbackLabel(titles, index)
	case strings.TrimSpace(label.Name) == "":
		s.recordLabelFallback(ctx, labelFallbackEmpty)

		return fallbackLabel(titles, index)
	}

	label.Name = strings.TrimSpace(label.Name)
	label.Description = strings.TrimSpace(label.Description)

	return label
}

func (s *ClusteringService) recordLabelFallback(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.RecordLabelFallback(ctx, reason)
	}
}

// withEmbeddings drops records that carry no vector; they cannot be clustered.
func withEmbeddings(records []models.EmbeddingRecord) []models.EmbeddingRecord {
	return slices.DeleteFunc(records, func(r models.EmbeddingRecord) bool {
		return len(r.Embedding) == 0
	})
}
