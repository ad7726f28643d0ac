package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
)

// SimilarityMode selects the scoring used by the similarity engine.
type SimilarityMode string

// Similarity modes.
const (
	SimilarityModeVector SimilarityMode = "vector"
	SimilarityModeHybrid SimilarityMode = "hybrid"
)

const (
	defaultSimilarityThreshold = 0.7
	defaultSimilarityLimit     = 20
	defaultHybridThreshold     = 0.65
	defaultCandidateThreshold  = 0.5
	maxSimilarityLimit         = 200
)

// SimilarityOptions tune one similarity computation. Zero values take the service defaults.
type SimilarityOptions struct {
	Mode SimilarityMode
	// Threshold is the minimum accepted score (vector similarity, or hybrid score in hybrid mode).
	Threshold float64
	Limit     int
	// CandidateThreshold is the relaxed vector threshold for the hybrid candidate pool.
	CandidateThreshold float64
}

// SimilarityServiceParams configures a SimilarityService.
type SimilarityServiceParams struct {
	Store SimilarityStore
	// DefaultMode applies when a call leaves SimilarityOptions.Mode empty (default: vector).
	DefaultMode        SimilarityMode
	Limit              int
	VectorThreshold    float64
	HybridThreshold    float64
	CandidateThreshold float64
	Weights            HybridWeights
	Metrics            observability.SimilarityMetrics
	Logger             *slog.Logger
}

// ItemSimilarityResult is the outcome for one query item.
type ItemSimilarityResult struct {
	ItemID       uuid.UUID         `json:"item_id"`
	Mode         SimilarityMode    `json:"mode"`
	Matches      []SimilarityMatch `json:"matches"`
	EdgesWritten int               `json:"edges_written"`
	EdgeFailures int               `json:"edge_failures"`
}

// BatchResult summarises a batch similarity run.
type BatchResult struct {
	Requested    int `json:"requested"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	EdgesWritten int `json:"edges_written"`
}

// SimilarityService finds each item's most similar neighbours and stores them as similar_to edges.
type SimilarityService struct {
	store              SimilarityStore
	defaultMode        SimilarityMode
	limit              int
	vectorThreshold    float64
	hybridThreshold    float64
	candidateThreshold float64
	weights            HybridWeights
	metrics            observability.SimilarityMetrics
	logger             *slog.Logger
}

// NewSimilarityService creates a SimilarityService with defaults applied.
func NewSimilarityService(params SimilarityServiceParams) *SimilarityService {
	weights := params.Weights
	if weights == (HybridWeights{}) {
		weights = DefaultHybridWeights()
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SimilarityService{
		store:              params.Store,
		defaultMode:        cmp.Or(params.DefaultMode, SimilarityModeVector),
		limit:              cmp.Or(params.Limit, defaultSimilarityLimit),
		vectorThreshold:    cmp.Or(params.VectorThreshold, defaultSimilarityThreshold),
		hybridThreshold:    cmp.Or(params.HybridThreshold, defaultHybridThreshold),
		candidateThreshold: cmp.Or(params.CandidateThreshold, defaultCandidateThreshold),
		weights:            weights,
		metrics:            params.Metrics,
		logger:             logger,
	}
}

// resolve fills unset options from the service defaults and validates them.
func (s *SimilarityService) resolve(opts SimilarityOptions) (SimilarityOptions, error) {
	opts.Mode = cmp.Or(opts.Mode, s.defaultMode)
	opts.Limit = cmp.Or(opts.Limit, s.limit)
	opts.CandidateThreshold = cmp.Or(opts.CandidateThreshold, s.candidateThreshold)

	if opts.Threshold == 0 {
		opts.Threshold = s.vectorThreshold
		if opts.Mode == SimilarityModeHybrid {
			opts.Threshold = s.hybridThreshold
		}
	}

	switch {
	case opts.Mode != SimilarityModeVector && opts.Mode != SimilarityModeHybrid:
		return opts, apperrors.NewValidationError("mode", fmt.Sprintf("unknown similarity mode %q", opts.Mode))
	case opts.Limit < 1 || opts.Limit > maxSimilarityLimit:
		return opts, apperrors.NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", maxSimilarityLimit))
	case opts.Threshold < 0 || opts.Threshold > 1:
		return opts, apperrors.NewValidationError("threshold", "threshold must be between 0 and 1")
	case opts.CandidateThreshold < 0 || opts.CandidateThreshold > 1:
		return opts, apperrors.NewValidationError("candidate_threshold", "candidate threshold must be between 0 and 1")
	}

	return opts, nil
}

// ComputeForItem finds the item's neighbours and upserts a similar_to edge in each direction per match.
// A missing embedding returns an error matching apperrors.ErrNotFound.
func (s *SimilarityService) ComputeForItem(
	ctx context.Context, ownerID string, itemID uuid.UUID, opts SimilarityOptions,
) (*ItemSimilarityResult, error) {
	opts, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}

	ctx = observability.WithOwnerID(ctx, ownerID)

	ctx, span := observability.Tracer().Start(ctx, "similarity.compute_for_item")
	defer span.End()

	query, err := s.store.GetEmbedding(ctx, ownerID, itemID)
	if err != nil {
		return nil, fmt.Errorf("get embedding for %s: %w", itemID, err)
	}

	if len(query.Embedding) == 0 {
		return nil, fmt.Errorf("item %s: %w", itemID, apperrors.ErrEmbeddingNotFound)
	}

	matches, err := s.rank(ctx, ownerID, *query, opts)
	if err != nil {
		return nil, err
	}

	result := &ItemSimilarityResult{ItemID: itemID, Mode: opts.Mode, Matches: matches}

	for _, m := range matches {
		edge := models.RelationshipEdge{
			OwnerID:          ownerID,
			SourceType:       query.ItemType,
			SourceID:         query.ItemID,
			TargetType:       m.ItemType,
			TargetID:         m.ItemID,
			RelationshipType: models.RelationshipSimilarTo,
			Weight:           m.Score,
			Metadata: map[string]any{
				"mode":              string(opts.Mode),
				"vector_similarity": m.VectorSimilarity,
			},
		}

		for _, e := range []models.RelationshipEdge{edge, edge.Reverse()} {
			if err := s.store.UpsertRelationshipEdge(ctx, e); err != nil {
				result.EdgeFailures++
				s.logger.ErrorContext(ctx, "similarity: upsert edge failed",
					"source_id", e.SourceID, "target_id", e.TargetID, "error", err)

				continue
			}

			result.EdgesWritten++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSimilarityEdges(ctx, string(opts.Mode), result.EdgesWritten)
	}

	s.logger.DebugContext(ctx, "similarity: item complete",
		"item_id", itemID, "mode", opts.Mode, "matches", len(matches), "edges_written", result.EdgesWritten)

	return result, nil
}

// rank retrieves a candidate pool from the store and ranks it. Hybrid mode casts a wider net
// (twice the limit, relaxed vector threshold) before applying the composite score.
func (s *SimilarityService) rank(
	ctx context.Context, ownerID string, query models.EmbeddingRecord, opts SimilarityOptions,
) ([]SimilarityMatch, error) {
	poolLimit, minSimilarity := opts.Limit, opts.Threshold
	if opts.Mode == SimilarityModeHybrid {
		poolLimit, minSimilarity = 2*opts.Limit, opts.CandidateThreshold
	}

	pool, err := s.store.NearestCandidates(ctx, ownerID, query.ItemType, query.Embedding, query.ItemID, poolLimit, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("nearest candidates: %w", err)
	}

	candidates := make([]models.EmbeddingRecord, len(pool))
	for i, c := range pool {
		candidates[i] = c.EmbeddingRecord
	}

	if opts.Mode == SimilarityModeHybrid {
		return RankHybrid(query, candidates, s.weights, opts.Threshold, opts.CandidateThreshold, opts.Limit), nil
	}

	return RankByVector(query, candidates, opts.Threshold, opts.Limit), nil
}

// ComputeBatch processes each item independently. Items without an embedding, or whose
// computation fails, are counted as failed and never stop the batch.
func (s *SimilarityService) ComputeBatch(
	ctx context.Context, ownerID string, itemIDs []uuid.UUID, opts SimilarityOptions,
) (*BatchResult, error) {
	opts, err := s.resolve(opts)
	if err != nil {
		return nil, err
	}

	ctx = observability.WithOwnerID(ctx, ownerID)
	result := &BatchResult{Requested: len(itemIDs)}

	for _, id := range itemIDs {
		if err := ctx.Err(); err != nil {
			result.Failed += result.Requested - result.Succeeded - result.Failed

			return result, fmt.Errorf("similarity batch interrupted: %w", err)
		}

		itemResult, err := s.ComputeForItem(ctx, ownerID, id, opts)
		if err != nil {
			result.Failed++
			status := "failed"

			if errors.Is(err, apperrors.ErrNotFound) {
				status = "skipped"
				s.logger.WarnContext(ctx, "similarity: skipping item without embedding", "item_id", id)
			} else {
				s.logger.ErrorContext(ctx, "similarity: item failed", "item_id", id, "error", err)
			}

			s.recordItem(ctx, opts.Mode, status)

			continue
		}

		result.Succeeded++
		result.EdgesWritten += itemResult.EdgesWritten
		s.recordItem(ctx, opts.Mode, "success")
	}

	s.logger.InfoContext(ctx, "similarity: batch complete",
		"mode", opts.Mode,
		"requested", result.Requested,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"edges_written", result.EdgesWritten,
	)

	return result, nil
}

// ComputeForOwner runs the batch over every embedded item of itemType.
func (s *SimilarityService) ComputeForOwner(
	ctx context.Context, lister EmbeddingLister, ownerID, itemType string, opts SimilarityOptions,
) (*BatchResult, error) {
	records, err := lister.ListEmbeddings(ctx, ownerID, itemType)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}

	ids := make([]uuid.UUID, len(records))
	for i, r := range records {
		ids[i] = r.ItemID
	}

	return s.ComputeBatch(ctx, ownerID, ids, opts)
}

func (s *SimilarityService) recordItem(ctx context.Context, mode SimilarityMode, status string) {
	if s.metrics != nil {
		s.metrics.RecordSimilarityItem(ctx, string(mode), status)
	}
}
