package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
)

const (
	maxSatellitesPerAnchor = 10
	maxAnchorsPerSatellite = 5
	defaultMinSeparation   = 24.0
	defaultSatelliteRadius = 160.0
	placementSingle        = "single"
	placementMulti         = "multi"
	placementOrphan        = "orphan"
	placementCollided      = "collided"
)

// DefaultRingRadii are the distances at which a single-anchor satellite orbits its anchor, per category.
func DefaultRingRadii() map[string]float64 {
	return map[string]float64{
		models.SatelliteTag:     140,
		models.SatelliteTopic:   220,
		models.SatelliteMention: 90,
	}
}

// RadialLayoutParams configures a RadialLayoutResolver.
type RadialLayoutParams struct {
	Store         SatelliteLayoutStore
	Canvas        Canvas
	RingRadii     map[string]float64
	MinSeparation float64
	// AnchorType is the item type satellites hang off (default: content).
	AnchorType string
	NewRand    RandFactory
	Metrics    observability.LayoutMetrics
	Logger     *slog.Logger
}

// SatelliteLayoutResult summarises one resolver run.
type SatelliteLayoutResult struct {
	OwnerID         string                     `json:"owner_id"`
	Positions       []models.SatellitePosition `json:"-"`
	Single          int                        `json:"single"`
	Multi           int                        `json:"multi"`
	Orphans         int                        `json:"orphans"`
	// Capped counts single placements that fell back to an edge removed by the fan-out cap.
	Capped          int                        `json:"capped"`
	Nudged          int                        `json:"nudged"`
	PersistFailures int                        `json:"persist_failures"`
}

// RadialLayoutResolver places satellites (tags, topics, mentions) relative to the positioned
// anchors they are linked to.
type RadialLayoutResolver struct {
	store         SatelliteLayoutStore
	canvas        Canvas
	radii         map[string]float64
	minSeparation float64
	anchorType    string
	newRand       RandFactory
	metrics       observability.LayoutMetrics
	logger        *slog.Logger
}

// NewRadialLayoutResolver creates a resolver with defaults applied.
func NewRadialLayoutResolver(params RadialLayoutParams) *RadialLayoutResolver {
	radii := params.RingRadii
	if len(radii) == 0 {
		radii = DefaultRingRadii()
	}

	minSeparation := params.MinSeparation
	if minSeparation <= 0 {
		minSeparation = defaultMinSeparation
	}

	anchorType := params.AnchorType
	if anchorType == "" {
		anchorType = models.ItemTypeContent
	}

	newRand := params.NewRand
	if newRand == nil {
		newRand = TimeSeededRand()
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RadialLayoutResolver{
		store:         params.Store,
		canvas:        params.Canvas.orDefault(),
		radii:         radii,
		minSeparation: minSeparation,
		anchorType:    anchorType,
		newRand:       newRand,
		metrics:       params.Metrics,
		logger:        logger,
	}
}

// Resolve recomputes and persists every satellite position of the owner.
func (r *RadialLayoutResolver) Resolve(ctx context.Context, ownerID string) (*SatelliteLayoutResult, error) {
	if ownerID == "" {
		return nil, apperrors.NewValidationError("owner_id", "owner id is required")
	}

	ctx = observability.WithOwnerID(ctx, ownerID)

	ctx, span := observability.Tracer().Start(ctx, "radial_layout.resolve")
	defer span.End()

	anchorPositions, err := r.store.ListPositions(ctx, ownerID, r.anchorType)
	if err != nil {
		return nil, fmt.Errorf("list anchor positions: %w", err)
	}

	edges, err := r.store.ListRelationshipEdges(ctx, ownerID, r.anchorType)
	if err != nil {
		return nil, fmt.Errorf("list satellite edges: %w", err)
	}

	anchors := make(map[uuid.UUID]point, len(anchorPositions))
	for _, pos := range anchorPositions {
		anchors[pos.ItemID] = point{X: pos.X, Y: pos.Y}
	}

	placed := r.place(anchors, edges, r.newRand(ownerID), time.Now().UTC())

	result := &SatelliteLayoutResult{OwnerID: ownerID, Positions: make([]models.SatellitePosition, len(placed))}

	for i, sp := range placed {
		result.Positions[i] = sp.SatellitePosition

		switch sp.placement {
		case placementSingle:
			result.Single++
		case placementMulti:
			result.Multi++
		default:
			result.Orphans++
		}

		if sp.capped {
			result.Capped++
		}

		if sp.nudged {
			result.Nudged++
		}

		if err := r.store.UpsertSatellitePosition(ctx, ownerID, sp.SatellitePosition); err != nil {
			result.PersistFailures++
			r.logger.ErrorContext(ctx, "radial layout: persist satellite position failed",
				"satellite_id", sp.SatelliteID, "error", err)

			if r.metrics != nil {
				r.metrics.RecordPersistFailure(ctx, "satellite_position")
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RecordSatellitesPlaced(ctx, placementSingle, result.Single)
		r.metrics.RecordSatellitesPlaced(ctx, placementMulti, result.Multi)
		r.metrics.RecordSatellitesPlaced(ctx, placementOrphan, result.Orphans)
		r.metrics.RecordSatellitesPlaced(ctx, placementCollided, result.Nudged)
	}

	r.logger.InfoContext(ctx, "radial layout: run complete",
		"anchors", len(anchors),
		"satellites", len(result.Positions),
		"orphans", result.Orphans,
		"capped", result.Capped,
		"nudged", result.Nudged,
		"persist_failures", result.PersistFailures,
	)

	return result, nil
}

type satelliteLink struct {
	anchorID uuid.UUID
	weight   float64
}

type placedSatellite struct {
	models.SatellitePosition

	placement string
	capped    bool
	nudged    bool
}

// place computes satellite positions from anchor points and anchor->satellite edges.
// Output is ordered by satellite id.
func (r *RadialLayoutResolver) place(
	anchors map[uuid.UUID]point, edges []models.RelationshipEdge, rng *rand.Rand, now time.Time,
) []placedSatellite {
	links, capped, categories := r.capFanOut(edges)

	ids := make([]uuid.UUID, 0, len(categories))
	for id := range categories {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, compareIDs)

	cx, cy := r.canvas.Center()
	out := make([]placedSatellite, 0, len(ids))

	for _, id := range ids {
		category := categories[id]

		resolvable := resolvableLinks(links[id], anchors)

		// A satellite whose every placed edge was cut by the cap still orbits its strongest anchor.
		fromCap := false
		if len(resolvable) == 0 {
			if dropped := resolvableLinks(capped[id], anchors); len(dropped) > 0 {
				resolvable = []satelliteLink{strongestLink(dropped)}
				fromCap = true
			}
		}

		sp := placedSatellite{SatellitePosition: models.SatellitePosition{
			SatelliteID: id,
			Category:    category,
			AnchorCount: len(resolvable),
			ComputedAt:  now,
		}, capped: fromCap}

		switch len(resolvable) {
		case 0:
			sp.placement = placementOrphan
			sp.X, sp.Y = cx, cy
		case 1:
			sp.placement = placementSingle
			anchor := anchors[resolvable[0].anchorID]
			angle := rng.Float64() * 2 * math.Pi
			radius := r.radius(category)
			sp.X, sp.Y = anchor.X+radius*math.Cos(angle), anchor.Y+radius*math.Sin(angle)
		default:
			sp.placement = placementMulti
			slices.SortFunc(resolvable, compareLinks)

			top := resolvable[:min(maxAnchorsPerSatellite, len(resolvable))]
			pts := make([]point, len(top))
			weights := make([]float64, len(top))

			for i, l := range top {
				pts[i] = anchors[l.anchorID]
				weights[i] = l.weight
			}

			c := weightedCentroid(pts, weights)
			sp.X, sp.Y = c.X, c.Y
		}

		sp.X, sp.Y = r.canvas.Clamp(sp.X, sp.Y)
		out = append(out, sp)
	}

	r.separate(out, rng)

	return out
}

func resolvableLinks(links []satelliteLink, anchors map[uuid.UUID]point) []satelliteLink {
	out := make([]satelliteLink, 0, len(links))

	for _, l := range links {
		if _, ok := anchors[l.anchorID]; ok {
			out = append(out, l)
		}
	}

	return out
}

// compareLinks orders links by weight descending, then anchor id.
func compareLinks(a, b satelliteLink) int {
	if c := cmp.Compare(b.weight, a.weight); c != 0 {
		return c
	}

	return compareIDs(a.anchorID, b.anchorID)
}

func strongestLink(links []satelliteLink) satelliteLink {
	return slices.MinFunc(links, compareLinks)
}

// capFanOut keeps each anchor's strongest satellite edges and groups them by satellite. Edges
// past the cap are returned separately as capped. Duplicate anchor/satellite pairs keep their
// highest weight.
func (r *RadialLayoutResolver) capFanOut(
	edges []models.RelationshipEdge,
) (links, capped map[uuid.UUID][]satelliteLink, categories map[uuid.UUID]string) {
	type pairKey struct{ anchor, satellite uuid.UUID }

	best := make(map[pairKey]models.RelationshipEdge)

	for _, e := range edges {
		if !isSatelliteCategory(e.TargetType) {
			continue
		}

		key := pairKey{anchor: e.SourceID, satellite: e.TargetID}
		if prev, ok := best[key]; !ok || e.Weight > prev.Weight {
			best[key] = e
		}
	}

	byAnchor := make(map[uuid.UUID][]models.RelationshipEdge)
	for _, e := range best {
		byAnchor[e.SourceID] = append(byAnchor[e.SourceID], e)
	}

	links = make(map[uuid.UUID][]satelliteLink)
	capped = make(map[uuid.UUID][]satelliteLink)
	categories = make(map[uuid.UUID]string)

	for _, e := range best {
		categories[e.TargetID] = e.TargetType
	}

	for anchorID, anchorEdges := range byAnchor {
		slices.SortFunc(anchorEdges, func(a, b models.RelationshipEdge) int {
			if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
				return c
			}

			return compareIDs(a.TargetID, b.TargetID)
		})

		for i, e := range anchorEdges {
			link := satelliteLink{anchorID: anchorID, weight: e.Weight}
			if i < maxSatellitesPerAnchor {
				links[e.TargetID] = append(links[e.TargetID], link)
			} else {
				capped[e.TargetID] = append(capped[e.TargetID], link)
			}
		}
	}

	return links, capped, categories
}

// separate nudges the later satellite of every pair closer than minSeparation by a bounded jitter.
func (r *RadialLayoutResolver) separate(placed []placedSatellite, rng *rand.Rand) {
	for i := range placed {
		for j := i + 1; j < len(placed); j++ {
			dx, dy := placed[i].X-placed[j].X, placed[i].Y-placed[j].Y
			if math.Hypot(dx, dy) >= r.minSeparation {
				continue
			}

			placed[j].X += (rng.Float64()*2 - 1) * r.minSeparation
			placed[j].Y += (rng.Float64()*2 - 1) * r.minSeparation
			placed[j].X, placed[j].Y = r.canvas.Clamp(placed[j].X, placed[j].Y)
			placed[j].nudged = true
		}
	}
}

func (r *RadialLayoutResolver) radius(category string) float64 {
	if radius, ok := r.radii[category]; ok && radius > 0 {
		return radius
	}

	return defaultSatelliteRadius
}

func isSatelliteCategory(itemType string) bool {
	switch itemType {
	case models.SatelliteTag, models.SatelliteTopic, models.SatelliteMention:
		return true
	default:
		return false
	}
}
