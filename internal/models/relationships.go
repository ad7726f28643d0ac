package models

import "github.com/google/uuid"

// Relationship types written by the core.
const (
	RelationshipSimilarTo = "similar_to"
	RelationshipHasTag    = "has_tag"
	RelationshipAbout     = "about_topic"
	RelationshipMentions  = "mentions"
)

// Satellite categories. Each category is laid out on its own ring around its anchor.
const (
	SatelliteTag     = "tag"
	SatelliteTopic   = "topic"
	SatelliteMention = "mention"
)

// RelationshipTypeForCategory returns the anchor->satellite relationship type for a satellite category.
func RelationshipTypeForCategory(category string) string {
	switch category {
	case SatelliteTag:
		return RelationshipHasTag
	case SatelliteTopic:
		return RelationshipAbout
	default:
		return RelationshipMentions
	}
}

// RelationshipEdge is a directed, weighted edge between two items of one owner.
// Upserts are idempotent on (OwnerID, SourceType, SourceID, TargetType, TargetID, RelationshipType).
type RelationshipEdge struct {
	OwnerID          string         `json:"owner_id"`
	SourceType       string         `json:"source_type"`
	SourceID         uuid.UUID      `json:"source_id"`
	TargetType       string         `json:"target_type"`
	TargetID         uuid.UUID      `json:"target_id"`
	RelationshipType string         `json:"relationship_type"`
	Weight           float64        `json:"weight"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Reverse returns the same edge pointing the other way, with equal weight and metadata.
func (e RelationshipEdge) Reverse() RelationshipEdge {
	return RelationshipEdge{
		OwnerID:          e.OwnerID,
		SourceType:       e.TargetType,
		SourceID:         e.TargetID,
		TargetType:       e.SourceType,
		TargetID:         e.SourceID,
		RelationshipType: e.RelationshipType,
		Weight:           e.Weight,
		Metadata:         e.Metadata,
	}
}
