package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/formbricks/atlas/internal/models"
)

// ClustersRepository stores the owner's current cluster set.
type ClustersRepository struct {
	db *pgxpool.Pool
}

// NewClustersRepository creates a new clusters repository.
func NewClustersRepository(db *pgxpool.Pool) *ClustersRepository {
	return &ClustersRepository{db: db}
}

// ReplaceClusters atomically swaps the owner's cluster set. Concurrent regenerations for the
// same owner are serialised on a transaction-scoped advisory lock.
func (r *ClustersRepository) ReplaceClusters(ctx context.Context, ownerID string, clusters []models.Cluster) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin cluster transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return fmt.Errorf("failed to lock owner clusters: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM atlas_clusters WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to delete clusters: %w", err)
	}

	query := `
		INSERT INTO atlas_clusters (id, owner_id, centroid, member_ids, coherence, label, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range clusters {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		batch.Queue(query, id, ownerID, pgvector.NewVector(c.Centroid), c.MemberIDs,
			c.Coherence, c.Label, c.Description, createdAt)
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert clusters: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit clusters: %w", err)
	}

	return nil
}

// ListClusters returns the owner's clusters, largest first.
func (r *ClustersRepository) ListClusters(ctx context.Context, ownerID string) ([]models.Cluster, error) {
	query := `
		SELECT id, owner_id, centroid, member_ids, coherence, label, description, created_at
		FROM atlas_clusters
		WHERE owner_id = $1
		ORDER BY cardinality(member_ids) DESC, coherence DESC, id
	`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	clusters := []models.Cluster{}
	for rows.Next() {
		var (
			c        models.Cluster
			centroid pgvector.Vector
		)
		err := rows.Scan(&c.ID, &c.OwnerID, &centroid, &c.MemberIDs, &c.Coherence, &c.Label, &c.Description, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		c.Centroid = centroid.Slice()
		clusters = append(clusters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clusters: %w", err)
	}

	return clusters, nil
}
