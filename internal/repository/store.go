package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formbricks/atlas/internal/service"
)

var _ service.Store = (*Store)(nil)

// Store is the PostgreSQL implementation of the atlas store contract. The pool must have the
// pgvector types registered (database.WithVectorTypes).
type Store struct {
	*EmbeddingsRepository
	*PositionsRepository
	*RelationshipsRepository
	*ClustersRepository
}

// NewStore creates a store over the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		EmbeddingsRepository:    NewEmbeddingsRepository(db),
		PositionsRepository:     NewPositionsRepository(db),
		RelationshipsRepository: NewRelationshipsRepository(db),
		ClustersRepository:      NewClustersRepository(db),
	}
}
