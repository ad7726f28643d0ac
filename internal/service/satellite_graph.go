package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/observability"
)

// SatelliteMention is one satellite referenced by an anchor, e.g. a tag on a piece of content.
type SatelliteMention struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
}

// AnchorSatellites lists the satellites referenced by one anchor item.
type AnchorSatellites struct {
	AnchorID   uuid.UUID          `json:"anchor_id"`
	AnchorType string             `json:"anchor_type"`
	Satellites []SatelliteMention `json:"satellites"`
}

// GraphBuildResult summarises a satellite graph build.
type GraphBuildResult struct {
	Satellites        int `json:"satellites"`
	SatelliteFailures int `json:"satellite_failures"`
	EdgesWritten      int `json:"edges_written"`
	EdgeFailures      int `json:"edge_failures"`
}

// SatelliteKey identifies a satellite within an owner; names compare case-insensitively.
type SatelliteKey struct {
	Category string
	Name     string
}

// NewSatelliteKey normalises name into a SatelliteKey.
func NewSatelliteKey(category, name string) SatelliteKey {
	return SatelliteKey{Category: category, Name: strings.ToLower(strings.TrimSpace(name))}
}

// SatelliteGraphBuilder writes anchor->satellite edges in two passes: first every distinct
// satellite is upserted and its id recorded, then the edges are written from that id map.
type SatelliteGraphBuilder struct {
	store   SatelliteGraphStore
	metrics observability.LayoutMetrics
	logger  *slog.Logger
}

// NewSatelliteGraphBuilder creates a builder. logger defaults to slog.Default().
func NewSatelliteGraphBuilder(store SatelliteGraphStore, metrics observability.LayoutMetrics, logger *slog.Logger) *SatelliteGraphBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &SatelliteGraphBuilder{store: store, metrics: metrics, logger: logger}
}

// Build runs both passes for the owner.
func (b *SatelliteGraphBuilder) Build(ctx context.Context, ownerID string, anchors []AnchorSatellites) (*GraphBuildResult, error) {
	if ownerID == "" {
		return nil, apperrors.NewValidationError("owner_id", "owner id is required")
	}

	ctx = observability.WithOwnerID(ctx, ownerID)

	ids, failures := b.ResolveSatellites(ctx, ownerID, anchors)
	written, edgeFailures := b.WriteEdges(ctx, ownerID, anchors, ids)

	result := &GraphBuildResult{
		Satellites:        len(ids),
		SatelliteFailures: failures,
		EdgesWritten:      written,
		EdgeFailures:      edgeFailures,
	}

	b.logger.InfoContext(ctx, "satellite graph: build complete",
		"anchors", len(anchors),
		"satellites", result.Satellites,
		"edges_written", result.EdgesWritten,
		"satellite_failures", result.SatelliteFailures,
		"edge_failures", result.EdgeFailures,
	)

	return result, nil
}

// ResolveSatellites is the first pass: it upserts every distinct (category, name) and returns the id map.
// A failed upsert is logged and the satellite left out of the map.
func (b *SatelliteGraphBuilder) ResolveSatellites(
	ctx context.Context, ownerID string, anchors []AnchorSatellites,
) (map[SatelliteKey]uuid.UUID, int) {
	ids := make(map[SatelliteKey]uuid.UUID)
	failed := make(map[SatelliteKey]bool)

	for _, anchor := range anchors {
		for _, s := range anchor.Satellites {
			key := NewSatelliteKey(s.Category, s.Name)
			if key.Name == "" || !isSatelliteCategory(key.Category) {
				continue
			}

			if _, ok := ids[key]; ok || failed[key] {
				continue
			}

			id, err := b.store.UpsertSatellite(ctx, ownerID, key.Category, strings.TrimSpace(s.Name))
			if err != nil {
				failed[key] = true
				b.logger.ErrorContext(ctx, "satellite graph: upsert satellite failed",
					"category", key.Category, "name", key.Name, "error", err)
				b.recordFailure(ctx, "satellite")

				continue
			}

			ids[key] = id
		}
	}

	return ids, len(failed)
}

// WriteEdges is the second pass: it upserts one edge per anchor/satellite pair found in ids.
func (b *SatelliteGraphBuilder) WriteEdges(
	ctx context.Context, ownerID string, anchors []AnchorSatellites, ids map[SatelliteKey]uuid.UUID,
) (written, failed int) {
	for _, anchor := range anchors {
		anchorType := anchor.AnchorType
		if anchorType == "" {
			anchorType = models.ItemTypeContent
		}

		for _, s := range anchor.Satellites {
			key := NewSatelliteKey(s.Category, s.Name)

			satelliteID, ok := ids[key]
			if !ok {
				continue
			}

			edge := models.RelationshipEdge{
				OwnerID:          ownerID,
				SourceType:       anchorType,
				SourceID:         anchor.AnchorID,
				TargetType:       key.Category,
				TargetID:         satelliteID,
				RelationshipType: models.RelationshipTypeForCategory(key.Category),
				Weight:           clamp(s.Weight, 0, 1),
			}

			if err := b.store.UpsertRelationshipEdge(ctx, edge); err != nil {
				failed++
				b.logger.ErrorContext(ctx, "satellite graph: upsert edge failed",
					"anchor_id", anchor.AnchorID, "satellite_id", satelliteID, "error", err)
				b.recordFailure(ctx, "edge")

				continue
			}

			written++
		}
	}

	return written, failed
}

func (b *SatelliteGraphBuilder) recordFailure(ctx context.Context, kind string) {
	if b.metrics != nil {
		b.metrics.RecordPersistFailure(ctx, kind)
	}
}
