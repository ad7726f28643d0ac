package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/pkg/embeddings"
)

const (
	// minPositioned is the number of positioned items needed before interpolation is trusted.
	minPositioned             = 5
	maxInterpolationNeighbors = 5
	nearDuplicateSimilarity   = 0.99
	defaultJitterRadius       = 20.0
	defaultReductionTimeout   = 15 * time.Second
)

// reduceFunc projects vectors to 2D. Replaced in tests to simulate slow or failing reductions.
type reduceFunc func(ctx context.Context, vectors [][]float32, seed int64) ([][2]float64, error)

// ProjectorParams configures a Projector.
type ProjectorParams struct {
	Store            ProjectorStore
	Canvas           Canvas
	ReductionTimeout time.Duration
	JitterRadius     float64
	// NewRand drives interpolation jitter. Defaults to TimeSeededRand.
	NewRand RandFactory
	Metrics observability.LayoutMetrics
	Logger  *slog.Logger
}

// ProjectionResult summarises one projector run for an owner.
type ProjectionResult struct {
	OwnerID string `json:"owner_id"`
	// Method is the method applied to newly computed positions; "stored" when nothing was computed.
	Method          models.PositionMethod `json:"method"`
	Positions       []models.Position     `json:"-"`
	Stored          int                   `json:"stored"`
	Computed        int                   `json:"computed"`
	PersistFailures int                   `json:"persist_failures"`
	FallbackReason  string                `json:"fallback_reason,omitempty"`
	Duration        time.Duration         `json:"duration"`
}

// Projector assigns every embedded item of an owner a 2D position on the map canvas.
// Positions are written once and never moved by later runs.
type Projector struct {
	store            ProjectorStore
	canvas           Canvas
	reductionTimeout time.Duration
	jitterRadius     float64
	newRand          RandFactory
	reduce           reduceFunc
	metrics          observability.LayoutMetrics
	logger           *slog.Logger
	group            singleflight.Group
}

// NewProjector creates a Projector with defaults applied.
func NewProjector(params ProjectorParams) *Projector {
	timeout := params.ReductionTimeout
	if timeout <= 0 {
		timeout = defaultReductionTimeout
	}

	jitter := params.JitterRadius
	if jitter < 0 {
		jitter = 0
	} else if jitter == 0 {
		jitter = defaultJitterRadius
	}

	newRand := params.NewRand
	if newRand == nil {
		newRand = TimeSeededRand()
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Projector{
		store:            params.Store,
		canvas:           params.Canvas.orDefault(),
		reductionTimeout: timeout,
		jitterRadius:     jitter,
		newRand:          newRand,
		reduce:           reduceEmbeddings,
		metrics:          params.Metrics,
		logger:           logger,
	}
}

// Project computes positions for the owner's content items.
func (p *Projector) Project(ctx context.Context, ownerID string) (*ProjectionResult, error) {
	return p.ProjectItems(ctx, ownerID, models.ItemTypeContent)
}

// ProjectItems computes positions for every unpositioned item of itemType and persists them.
// Concurrent calls for the same owner and item type share one run.
func (p *Projector) ProjectItems(ctx context.Context, ownerID, itemType string) (*ProjectionResult, error) {
	if ownerID == "" {
		return nil, apperrors.NewValidationError("owner_id", "owner id is required")
	}

	runCtx := context.WithoutCancel(ctx)

	ch := p.group.DoChan("project:"+ownerID+":"+itemType, func() (any, error) {
		return p.project(runCtx, ownerID, itemType)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		result, ok := res.Val.(*ProjectionResult)
		if !ok {
			return nil, fmt.Errorf("unexpected projection result type %T", res.Val)
		}

		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Projector) project(ctx context.Context, ownerID, itemType string) (*ProjectionResult, error) {
	start := time.Now()
	ctx = observability.WithOwnerID(ctx, ownerID)

	ctx, span := observability.Tracer().Start(ctx, "projector.project")
	defer span.End()

	records, err := p.store.ListEmbeddings(ctx, ownerID, itemType)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}

	outcome := p.computeLayout(ctx, ownerID, records)

	result := &ProjectionResult{
		OwnerID:        ownerID,
		Method:         outcome.method,
		Stored:         len(outcome.stored),
		Computed:       len(outcome.computed),
		FallbackReason: outcome.fallbackReason,
		Positions:      append(outcome.stored, outcome.computed...),
	}

	for _, pos := range outcome.computed {
		if err := p.store.UpsertPosition(ctx, ownerID, pos); err != nil {
			result.PersistFailures++
			p.logger.ErrorContext(ctx, "projector: persist position failed",
				"item_id", pos.ItemID, "error", err)

			if p.metrics != nil {
				p.metrics.RecordPersistFailure(ctx, "position")
			}
		}
	}

	result.Duration = time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordProjection(ctx, string(result.Method), result.Computed, result.Duration)
	}

	p.logger.InfoContext(ctx, "projector: run complete",
		"item_type", itemType,
		"method", result.Method,
		"stored", result.Stored,
		"computed", result.Computed,
		"persist_failures", result.PersistFailures,
		"fallback_reason", result.FallbackReason,
		"duration_ms", result.Duration.Milliseconds(),
	)

	return result, nil
}

type layoutOutcome struct {
	method         models.PositionMethod
	stored         []models.Position
	computed       []models.Position
	fallbackReason string
}

// computeLayout decides how unpositioned items are placed and computes their positions.
// Stored positions are passed through untouched.
func (p *Projector) computeLayout(ctx context.Context, ownerID string, records []models.EmbeddingRecord) layoutOutcome {
	sorted := sortedByItemID(records)

	var positioned, pending []models.EmbeddingRecord

	out := layoutOutcome{method: models.PositionStored}

	for _, r := range sorted {
		if r.HasPosition() {
			positioned = append(positioned, r)
			out.stored = append(out.stored, models.Position{
				ItemID:     r.ItemID,
				X:          r.Position.X,
				Y:          r.Position.Y,
				Method:     models.PositionStored,
				ComputedAt: r.Position.ComputedAt,
			})
		} else {
			pending = append(pending, r)
		}
	}

	if len(pending) == 0 {
		return out
	}

	now := time.Now().UTC()

	switch {
	case len(positioned) >= minPositioned:
		out.method = models.PositionInterpolated
		out.computed = p.interpolate(positioned, pending, p.newRand(ownerID), now)
	case len(sorted) < minPositioned:
		out.method = models.PositionFallback
		out.fallbackReason = reasonDegenerateInput
		out.computed = p.gridPositions(out.stored, pending, now)
		p.recordFallback(ctx, out.fallbackReason)
	default:
		coords, err := p.runReduction(ctx, embeddingVectors(sorted), ownerSeed(ownerID))
		if err != nil {
			out.method = models.PositionFallback
			out.fallbackReason = fallbackReason(err)
			out.computed = p.gridPositions(out.stored, pending, now)
			p.recordFallback(ctx, out.fallbackReason)
			p.logger.WarnContext(ctx, "projector: reduction failed, using grid fallback",
				"items", len(sorted), "reason", out.fallbackReason, "error", err)

			break
		}

		out.method = models.PositionReduced

		pts := rescaleToCanvas(coords, p.canvas)
		for i, r := range sorted {
			if r.HasPosition() {
				continue
			}

			out.computed = append(out.computed, models.Position{
				ItemID:     r.ItemID,
				X:          pts[i].X,
				Y:          pts[i].Y,
				Method:     models.PositionReduced,
				ComputedAt: now,
			})
		}
	}

	return out
}

// runReduction bounds the reduction by the configured timeout. A panic inside the numeric code
// is recovered and reported as a compute error.
func (p *Projector) runReduction(ctx context.Context, vectors [][]float32, seed int64) ([][2]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.reductionTimeout)
	defer cancel()

	type reduction struct {
		coords [][2]float64
		err    error
	}

	start := time.Now()
	done := make(chan reduction, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reduction{err: apperrors.NewComputeError("reduction", fmt.Errorf("panic: %v", r))}
			}
		}()

		coords, err := p.reduce(ctx, vectors, seed)
		if err == nil && len(coords) != len(vectors) {
			err = apperrors.NewComputeError("reduction", fmt.Errorf("got %d coordinates for %d items", len(coords), len(vectors)))
		}

		done <- reduction{coords: coords, err: err}
	}()

	var res reduction

	select {
	case res = <-done:
	case <-ctx.Done():
		res = reduction{err: timeoutError(ctx.Err())}
	}

	if p.metrics != nil {
		status := "success"
		if errors.Is(res.err, apperrors.ErrComputeTimeout) {
			status = "timeout"
		} else if res.err != nil {
			status = "error"
		}

		p.metrics.RecordReductionDuration(ctx, time.Since(start), status)
	}

	return res.coords, res.err
}

type scoredAnchor struct {
	index      int
	similarity float64
}

// interpolate places each pending item at the similarity-weighted centroid of its nearest
// positioned items, plus jitter. A near-duplicate of a positioned item snaps to that item.
func (p *Projector) interpolate(
	positioned, pending []models.EmbeddingRecord, rng *rand.Rand, now time.Time,
) []models.Position {
	k := min(maxInterpolationNeighbors, len(positioned))
	scored := make([]scoredAnchor, len(positioned))
	out := make([]models.Position, 0, len(pending))

	for _, item := range pending {
		for i, anchor := range positioned {
			scored[i] = scoredAnchor{index: i, similarity: embeddings.CosineSimilarity(item.Embedding, anchor.Embedding)}
		}

		slices.SortFunc(scored, func(a, b scoredAnchor) int {
			if c := cmp.Compare(b.similarity, a.similarity); c != 0 {
				return c
			}

			return compareIDs(positioned[a.index].ItemID, positioned[b.index].ItemID)
		})

		var target point

		if best := positioned[scored[0].index]; scored[0].similarity > nearDuplicateSimilarity {
			target = point{X: best.Position.X, Y: best.Position.Y}
		} else {
			pts := make([]point, k)
			weights := make([]float64, k)

			for i, s := range scored[:k] {
				anchor := positioned[s.index]
				pts[i] = point{X: anchor.Position.X, Y: anchor.Position.Y}
				weights[i] = embeddings.SimilarityFromDistance(1 - s.similarity)
			}

			target = weightedCentroid(pts, weights)
		}

		dx, dy := jitterWithin(rng, p.jitterRadius)
		x, y := p.canvas.Clamp(target.X+dx, target.Y+dy)

		out = append(out, models.Position{
			ItemID:     item.ItemID,
			X:          x,
			Y:          y,
			Method:     models.PositionInterpolated,
			ComputedAt: now,
		})
	}

	return out
}

// gridPositions lays pending items on a grid sized for all of the owner's items. Cells taken by a
// stored position are skipped so a new item never lands on an existing one.
func (p *Projector) gridPositions(stored []models.Position, pending []models.EmbeddingRecord, now time.Time) []models.Position {
	pts := freeGridCells(len(stored)+len(pending), len(pending), stored, p.canvas)
	out := make([]models.Position, len(pending))

	for i, r := range pending {
		out[i] = models.Position{
			ItemID:     r.ItemID,
			X:          pts[i].X,
			Y:          pts[i].Y,
			Method:     models.PositionFallback,
			ComputedAt: now,
		}
	}

	return out
}

func (p *Projector) recordFallback(ctx context.Context, reason string) {
	if p.metrics != nil {
		p.metrics.RecordLayoutFallback(ctx, reason)
	}
}

func embeddingVectors(records []models.EmbeddingRecord) [][]float32 {
	vectors := make([][]float32, len(records))
	for i, r := range records {
		vectors[i] = r.Embedding
	}

	return vectors
}
