package models

import (
	"time"

	"github.com/google/uuid"
)

// Cluster is a topic cluster of an owner's items. Ids are not stable across regenerations.
type Cluster struct {
	ID          uuid.UUID   `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Centroid    []float32   `json:"-"`
	MemberIDs   []uuid.UUID `json:"member_ids"`
	Coherence   float64     `json:"coherence"`
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Size returns the number of members.
func (c *Cluster) Size() int {
	return len(c.MemberIDs)
}
