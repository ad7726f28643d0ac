package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
)

// UpsertRelationshipEdge inserts an edge or updates weight and metadata on its natural key.
func (s *Store) UpsertRelationshipEdge(ctx context.Context, edge models.RelationshipEdge) error {
	if edge.Weight < 0 || edge.Weight > 1 {
		return apperrors.NewValidationError("weight", "edge weight must be within [0, 1]")
	}

	metadata := edge.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	metadataJSON, err := encodeJSON(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode edge metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (
			owner_id, source_type, source_id, target_type, target_id, relationship_type, weight, metadata, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, source_type, source_id, target_type, target_id, relationship_type) DO UPDATE SET
			weight = excluded.weight,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		edge.OwnerID, edge.SourceType, edge.SourceID.String(), edge.TargetType, edge.TargetID.String(),
		edge.RelationshipType, edge.Weight, metadataJSON, formatTime(time.Time{}),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship edge: %w", err)
	}

	return nil
}

// ListRelationshipEdges returns every edge of the owner whose source has the given type.
func (s *Store) ListRelationshipEdges(
	ctx context.Context, ownerID, sourceType string,
) ([]models.RelationshipEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, source_type, source_id, target_type, target_id, relationship_type, weight, metadata
		FROM relationships
		WHERE owner_id = ? AND source_type = ?
		ORDER BY source_id, target_type, target_id, relationship_type`,
		ownerID, sourceType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationship edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	edges := []models.RelationshipEdge{}
	for rows.Next() {
		var (
			edge                       models.RelationshipEdge
			sourceID, targetID, rawMap string
		)
		err := rows.Scan(
			&edge.OwnerID, &edge.SourceType, &sourceID, &edge.TargetType, &targetID,
			&edge.RelationshipType, &edge.Weight, &rawMap,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship edge: %w", err)
		}

		if edge.SourceID, err = uuid.Parse(sourceID); err != nil {
			return nil, fmt.Errorf("invalid source id %q: %w", sourceID, err)
		}
		if edge.TargetID, err = uuid.Parse(targetID); err != nil {
			return nil, fmt.Errorf("invalid target id %q: %w", targetID, err)
		}
		if err := json.Unmarshal([]byte(rawMap), &edge.Metadata); err != nil {
			return nil, fmt.Errorf("invalid edge metadata: %w", err)
		}

		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationship edges: %w", err)
	}

	return edges, nil
}

// SatelliteID is the deterministic id of an owner's satellite. Names match case-insensitively
// after trimming.
func SatelliteID(ownerID, category, name string) uuid.UUID {
	key := ownerID + "\x00" + category + "\x00" + strings.ToLower(strings.TrimSpace(name))

	return uuid.NewSHA1(satelliteNamespace, []byte(key))
}

// UpsertSatellite returns the id of the owner's satellite with this category and name,
// creating it on first sight.
func (s *Store) UpsertSatellite(ctx context.Context, ownerID, category, name string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return uuid.Nil, apperrors.NewValidationError("name", "satellite name is required")
	}

	id := SatelliteID(ownerID, category, trimmed)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO satellites (id, owner_id, category, name, normalized_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, category, normalized_name) DO NOTHING`,
		id.String(), ownerID, category, trimmed, strings.ToLower(trimmed), formatTime(time.Time{}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert satellite: %w", err)
	}

	return id, nil
}

// ListSatellites returns the owner's satellites ordered by category and name.
func (s *Store) ListSatellites(ctx context.Context, ownerID string) ([]models.Satellite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, category, name
		FROM satellites
		WHERE owner_id = ?
		ORDER BY category, normalized_name`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list satellites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	satellites := []models.Satellite{}
	for rows.Next() {
		var (
			sat models.Satellite
			id  string
		)
		if err := rows.Scan(&id, &sat.OwnerID, &sat.Category, &sat.Name); err != nil {
			return nil, fmt.Errorf("failed to scan satellite: %w", err)
		}

		if sat.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid satellite id %q: %w", id, err)
		}
		satellites = append(satellites, sat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating satellites: %w", err)
	}

	return satellites, nil
}

// ReplaceClusters atomically swaps the owner's cluster set.
func (s *Store) ReplaceClusters(ctx context.Context, ownerID string, clusters []models.Cluster) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cluster transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to delete clusters: %w", err)
	}

	for _, c := range clusters {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		centroid, err := encodeJSON(c.Centroid)
		if err != nil {
			return fmt.Errorf("failed to encode centroid: %w", err)
		}

		members, err := encodeJSON(c.MemberIDs)
		if err != nil {
			return fmt.Errorf("failed to encode cluster members: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO clusters (id, owner_id, centroid, member_ids, size, coherence, label, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), ownerID, centroid, members, c.Size(), c.Coherence, c.Label, c.Description, formatTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert cluster: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clusters: %w", err)
	}

	return nil
}

// ListClusters returns the owner's clusters, largest first.
func (s *Store) ListClusters(ctx context.Context, ownerID string) ([]models.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, centroid, member_ids, coherence, label, description, created_at
		FROM clusters
		WHERE owner_id = ?
		ORDER BY size DESC, coherence DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	clusters := []models.Cluster{}
	for rows.Next() {
		var (
			c                                models.Cluster
			id, centroid, members, createdAt string
		)
		err := rows.Scan(&id, &c.OwnerID, &centroid, &members, &c.Coherence, &c.Label, &c.Description, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}

		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid cluster id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(centroid), &c.Centroid); err != nil {
			return nil, fmt.Errorf("invalid cluster centroid: %w", err)
		}
		if err := json.Unmarshal([]byte(members), &c.MemberIDs); err != nil {
			return nil, fmt.Errorf("invalid cluster members: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)

		clusters = append(clusters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clusters: %w", err)
	}

	return clusters, nil
}
