// Package repository is the PostgreSQL store of the atlas core, backed by pgx and pgvector.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
)

// ErrEmbeddingNotFound is returned when an item has no embedding for the owner.
var ErrEmbeddingNotFound = apperrors.ErrEmbeddingNotFound

// EmbeddingsRepository reads embedded items. Embeddings are produced upstream; PutEmbedding
// exists for ingestion tooling and tests.
type EmbeddingsRepository struct {
	db *pgxpool.Pool
}

// NewEmbeddingsRepository creates a new embeddings repository.
func NewEmbeddingsRepository(db *pgxpool.Pool) *EmbeddingsRepository {
	return &EmbeddingsRepository{db: db}
}

const itemColumns = `i.item_id, i.owner_id, i.item_type, i.embedding, i.title, i.summary, i.domain, i.tags, i.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// PutEmbedding inserts or replaces an item's embedding and descriptive fields.
func (r *EmbeddingsRepository) PutEmbedding(ctx context.Context, rec models.EmbeddingRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	itemType := rec.ItemType
	if itemType == "" {
		itemType = models.ItemTypeContent
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO atlas_items (owner_id, item_id, item_type, embedding, title, summary, domain, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id, item_id) DO UPDATE SET
			item_type = EXCLUDED.item_type,
			embedding = EXCLUDED.embedding,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			domain = EXCLUDED.domain,
			tags = EXCLUDED.tags
	`

	_, err := r.db.Exec(ctx, query,
		rec.OwnerID, rec.ItemID, itemType, pgvector.NewVector(rec.Embedding),
		rec.Title, rec.Summary, rec.Domain, tags, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put embedding: %w", err)
	}

	return nil
}

// ListEmbeddings returns every embedded item of one type for the owner, ordered by item id,
// with the stored position joined when there is one.
func (r *EmbeddingsRepository) ListEmbeddings(
	ctx context.Context, ownerID, itemType string,
) ([]models.EmbeddingRecord, error) {
	query := `
		SELECT ` + itemColumns + `, p.x, p.y, p.method, p.computed_at
		FROM atlas_items i
		LEFT JOIN atlas_positions p ON p.owner_id = i.owner_id AND p.item_id = i.item_id
		WHERE i.owner_id = $1 AND i.item_type = $2
		ORDER BY i.item_id
	`

	rows, err := r.db.Query(ctx, query, ownerID, itemType)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	records := []models.EmbeddingRecord{}
	for rows.Next() {
		var (
			rec        models.EmbeddingRecord
			x, y       *float64
			method     *string
			computedAt *time.Time
		)

		if err := scanRecord(rows, &rec, &x, &y, &method, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		if x != nil && y != nil && method != nil {
			rec.Position = &models.Position{
				ItemID: rec.ItemID,
				X:      *x,
				Y:      *y,
				Method: models.PositionMethod(*method),
			}
			if computedAt != nil {
				rec.Position.ComputedAt = *computedAt
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return records, nil
}

// GetEmbedding returns one item's embedding, or ErrEmbeddingNotFound.
func (r *EmbeddingsRepository) GetEmbedding(
	ctx context.Context, ownerID string, itemID uuid.UUID,
) (*models.EmbeddingRecord, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM atlas_items i
		WHERE i.owner_id = $1 AND i.item_id = $2
	`

	var rec models.EmbeddingRecord
	if err := scanRecord(r.db.QueryRow(ctx, query, ownerID, itemID), &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmbeddingNotFound
		}

		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	return &rec, nil
}

// NearestCandidates returns up to limit items of the same owner and type, excluding excludeID,
// whose similarity to query (1 - cosine distance / 2) is at least minSimilarity.
// Rows with a zero-norm vector score 0.5. Items with a different dimension are skipped.
func (r *EmbeddingsRepository) NearestCandidates(
	ctx context.Context,
	ownerID, itemType string,
	query []float32,
	excludeID uuid.UUID,
	limit int,
	minSimilarity float64,
) ([]models.ScoredRecord, error) {
	if limit <= 0 || len(query) == 0 {
		return []models.ScoredRecord{}, nil
	}

	sql := `
		WITH scored AS (
			SELECT ` + itemColumns + `,
				CASE WHEN (i.embedding <=> $3) = 'NaN'::float8 THEN 0.5
				     ELSE 1 - (i.embedding <=> $3) / 2
				END AS similarity
			FROM atlas_items i
			WHERE i.owner_id = $1
			  AND i.item_type = $2
			  AND i.item_id <> $4
			  AND vector_dims(i.embedding) = vector_dims($3)
		)
		SELECT item_id, owner_id, item_type, embedding, title, summary, domain, tags, created_at, similarity
		FROM scored
		WHERE similarity >= $5
		ORDER BY similarity DESC, item_id
		LIMIT $6
	`

	rows, err := r.db.Query(ctx, sql, ownerID, itemType, pgvector.NewVector(query), excludeID, minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest candidates: %w", err)
	}
	defer rows.Close()

	results := []models.ScoredRecord{}
	for rows.Next() {
		var scored models.ScoredRecord
		if err := scanRecord(rows, &scored.EmbeddingRecord, &scored.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		results = append(results, scored)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return results, nil
}

// ListPendingOwners returns up to limit owners that have items of itemType without a position.
func (r *EmbeddingsRepository) ListPendingOwners(ctx context.Context, itemType string, limit int) ([]string, error) {
	query := `
		SELECT DISTINCT i.owner_id
		FROM atlas_items i
		LEFT JOIN atlas_positions p ON p.owner_id = i.owner_id AND p.item_id = i.item_id
		WHERE i.item_type = $1 AND p.item_id IS NULL
		ORDER BY i.owner_id
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, itemType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending owners: %w", err)
	}
	defer rows.Close()

	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending owners: %w", err)
	}

	return owners, nil
}

// scanRecord scans the item columns into rec, followed by any extra destinations.
func scanRecord(row rowScanner, rec *models.EmbeddingRecord, extra ...any) error {
	var vec pgvector.Vector

	dest := []any{
		&rec.ItemID, &rec.OwnerID, &rec.ItemType, &vec,
		&rec.Title, &rec.Summary, &rec.Domain, &rec.Tags, &rec.CreatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	rec.Embedding = vec.Slice()

	return nil
}
