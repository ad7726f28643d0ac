package models

import (
	"time"

	"github.com/google/uuid"
)

// Item types stored alongside embeddings. Anchors are positioned by the projector.
const (
	ItemTypeContent = "content"
)

// EmbeddingRecord is one embedded item of an owner, with its stored position when it has one.
// Embeddings are produced upstream and never mutated here.
type EmbeddingRecord struct {
	ItemID    uuid.UUID `json:"item_id"`
	OwnerID   string    `json:"owner_id"`
	ItemType  string    `json:"item_type"`
	Embedding []float32 `json:"-"`
	Title     string    `json:"title,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Position  *Position `json:"position,omitempty"`
}

// HasPosition reports whether the record already has a stored position.
func (r *EmbeddingRecord) HasPosition() bool {
	return r.Position != nil
}

// ScoredRecord is a candidate returned by nearest-neighbour retrieval, with its vector similarity (0..1).
type ScoredRecord struct {
	EmbeddingRecord

	Similarity float64 `json:"similarity"`
}
