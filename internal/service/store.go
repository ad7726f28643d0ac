// Package service implements the atlas core: the projector, the radial satellite layout, the
// similarity engine and the cluster engine. Each component loads from a store on entry, computes,
// and writes back on exit.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/models"
)

// EmbeddingLister lists an owner's embedded items of one type, with stored positions joined.
type EmbeddingLister interface {
	ListEmbeddings(ctx context.Context, ownerID, itemType string) ([]models.EmbeddingRecord, error)
}

// EmbeddingWriter stores an embedding produced upstream, replacing any earlier one for the item.
type EmbeddingWriter interface {
	PutEmbedding(ctx context.Context, rec models.EmbeddingRecord) error
}

// ProjectorStore is the data access needed by the projector.
type ProjectorStore interface {
	EmbeddingLister
	UpsertPosition(ctx context.Context, ownerID string, pos models.Position) error
}

// SatelliteLayoutStore is the data access needed by the radial layout resolver.
type SatelliteLayoutStore interface {
	ListPositions(ctx context.Context, ownerID, itemType string) ([]models.Position, error)
	ListRelationshipEdges(ctx context.Context, ownerID, sourceType string) ([]models.RelationshipEdge, error)
	UpsertSatellitePosition(ctx context.Context, ownerID string, pos models.SatellitePosition) error
}

// SatelliteGraphStore is the data access needed by the two-pass satellite graph builder.
type SatelliteGraphStore interface {
	UpsertSatellite(ctx context.Context, ownerID, category, name string) (uuid.UUID, error)
	UpsertRelationshipEdge(ctx context.Context, edge models.RelationshipEdge) error
}

// SimilarityStore is the data access needed by the similarity engine.
type SimilarityStore interface {
	GetEmbedding(ctx context.Context, ownerID string, itemID uuid.UUID) (*models.EmbeddingRecord, error)
	NearestCandidates(
		ctx context.Context, ownerID, itemType string, query []float32, excludeID uuid.UUID, limit int, minSimilarity float64,
	) ([]models.ScoredRecord, error)
	UpsertRelationshipEdge(ctx context.Context, edge models.RelationshipEdge) error
}

// ClusterStore is the data access needed by the cluster engine.
type ClusterStore interface {
	EmbeddingLister
	ReplaceClusters(ctx context.Context, ownerID string, clusters []models.Cluster) error
}

// Store is the full store contract; both the PostgreSQL and the SQLite repositories implement it.
type Store interface {
	EmbeddingWriter
	ProjectorStore
	SatelliteLayoutStore
	SatelliteGraphStore
	SimilarityStore
	ClusterStore
}
