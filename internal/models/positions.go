package models

import (
	"time"

	"github.com/google/uuid"
)

// PositionMethod records how a position was produced.
type PositionMethod string

// Position methods.
const (
	// PositionReduced comes from a joint nonlinear reduction over all of an owner's embeddings.
	PositionReduced PositionMethod = "reduced"
	// PositionInterpolated is a similarity-weighted centroid of already-positioned neighbours.
	PositionInterpolated PositionMethod = "interpolated"
	// PositionFallback is a deterministic grid placement.
	PositionFallback PositionMethod = "fallback"
	// PositionStored marks a position that was loaded unchanged from the store.
	PositionStored PositionMethod = "stored"
)

// IsValid reports whether m is a known method.
func (m PositionMethod) IsValid() bool {
	switch m {
	case PositionReduced, PositionInterpolated, PositionFallback, PositionStored:
		return true
	default:
		return false
	}
}

// Position is an item's 2D map coordinate in canvas space.
// Once written for an item it is never overwritten by a later bulk run.
type Position struct {
	ItemID     uuid.UUID      `json:"item_id"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Method     PositionMethod `json:"method"`
	ComputedAt time.Time      `json:"computed_at"`
}

// Satellite is a dependent item (tag, topic, mention) placed relative to the anchors it relates to.
type Satellite struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Category string    `json:"category"`
	Name     string    `json:"name"`
}

// SatellitePosition is a derived satellite coordinate. Recomputed on every layout run.
type SatellitePosition struct {
	SatelliteID uuid.UUID `json:"satellite_id"`
	Category    string    `json:"category"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	AnchorCount int       `json:"anchor_count"`
	ComputedAt  time.Time `json:"computed_at"`
}
