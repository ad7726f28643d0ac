package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
)

// RelationshipsRepository stores relationship edges and the satellites they point at.
type RelationshipsRepository struct {
	db *pgxpool.Pool
}

// NewRelationshipsRepository creates a new relationships repository.
func NewRelationshipsRepository(db *pgxpool.Pool) *RelationshipsRepository {
	return &RelationshipsRepository{db: db}
}

// UpsertRelationshipEdge inserts an edge or updates weight and metadata on its natural key.
func (r *RelationshipsRepository) UpsertRelationshipEdge(ctx context.Context, edge models.RelationshipEdge) error {
	if edge.Weight < 0 || edge.Weight > 1 {
		return apperrors.NewValidationError("weight", "edge weight must be within [0, 1]")
	}

	metadata := edge.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	query := `
		INSERT INTO atlas_relationships (
			owner_id, source_type, source_id, target_type, target_id, relationship_type, weight, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, source_type, source_id, target_type, target_id, relationship_type) DO UPDATE SET
			weight = EXCLUDED.weight,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		edge.OwnerID, edge.SourceType, edge.SourceID, edge.TargetType, edge.TargetID,
		edge.RelationshipType, edge.Weight, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship edge: %w", err)
	}

	return nil
}

// ListRelationshipEdges returns every edge of the owner whose source has the given type.
func (r *RelationshipsRepository) ListRelationshipEdges(
	ctx context.Context, ownerID, sourceType string,
) ([]models.RelationshipEdge, error) {
	query := `
		SELECT owner_id, source_type, source_id, target_type, target_id, relationship_type, weight, metadata
		FROM atlas_relationships
		WHERE owner_id = $1 AND source_type = $2
		ORDER BY source_id, target_type, target_id, relationship_type
	`

	rows, err := r.db.Query(ctx, query, ownerID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationship edges: %w", err)
	}
	defer rows.Close()

	edges := []models.RelationshipEdge{}
	for rows.Next() {
		var edge models.RelationshipEdge
		err := rows.Scan(
			&edge.OwnerID, &edge.SourceType, &edge.SourceID, &edge.TargetType, &edge.TargetID,
			&edge.RelationshipType, &edge.Weight, &edge.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship edge: %w", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationship edges: %w", err)
	}

	return edges, nil
}

// UpsertSatellite returns the id of the owner's satellite with this category and name,
// creating it on first sight. Names match case-insensitively after trimming.
func (r *RelationshipsRepository) UpsertSatellite(
	ctx context.Context, ownerID, category, name string,
) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return uuid.Nil, apperrors.NewValidationError("name", "satellite name is required")
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO atlas_satellites (owner_id, category, name, normalized_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, category, normalized_name) DO UPDATE SET
			name = atlas_satellites.name
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, ownerID, category, trimmed, strings.ToLower(trimmed)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert satellite: %w", err)
	}

	return id, nil
}

// ListSatellites returns the owner's satellites ordered by category and name.
func (r *RelationshipsRepository) ListSatellites(ctx context.Context, ownerID string) ([]models.Satellite, error) {
	query := `
		SELECT id, owner_id, category, name
		FROM atlas_satellites
		WHERE owner_id = $1
		ORDER BY category, normalized_name
	`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list satellites: %w", err)
	}
	defer rows.Close()

	satellites := []models.Satellite{}
	for rows.Next() {
		var sat models.Satellite
		if err := rows.Scan(&sat.ID, &sat.OwnerID, &sat.Category, &sat.Name); err != nil {
			return nil, fmt.Errorf("failed to scan satellite: %w", err)
		}
		satellites = append(satellites, sat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating satellites: %w", err)
	}

	return satellites, nil
}
