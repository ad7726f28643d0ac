package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formbricks/atlas/internal/models"
)

// PositionsRepository stores anchor positions and derived satellite positions.
type PositionsRepository struct {
	db *pgxpool.Pool
}

// NewPositionsRepository creates a new positions repository.
func NewPositionsRepository(db *pgxpool.Pool) *PositionsRepository {
	return &PositionsRepository{db: db}
}

// UpsertPosition writes an item position unless one already exists. Positions are stable:
// a later bulk run never moves an item.
func (r *PositionsRepository) UpsertPosition(ctx context.Context, ownerID string, pos models.Position) error {
	computedAt := pos.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO atlas_positions (owner_id, item_id, x, y, method, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id, item_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, ownerID, pos.ItemID, pos.X, pos.Y, string(pos.Method), computedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// ListPositions returns the stored positions of the owner's items of one type.
func (r *PositionsRepository) ListPositions(ctx context.Context, ownerID, itemType string) ([]models.Position, error) {
	query := `
		SELECT p.item_id, p.x, p.y, p.method, p.computed_at
		FROM atlas_positions p
		JOIN atlas_items i ON i.owner_id = p.owner_id AND i.item_id = p.item_id
		WHERE p.owner_id = $1 AND i.item_type = $2
		ORDER BY p.item_id
	`

	rows, err := r.db.Query(ctx, query, ownerID, itemType)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	positions := []models.Position{}
	for rows.Next() {
		var (
			pos    models.Position
			method string
		)
		if err := rows.Scan(&pos.ItemID, &pos.X, &pos.Y, &method, &pos.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos.Method = models.PositionMethod(method)
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// UpsertSatellitePosition writes a satellite position, replacing the previous one.
func (r *PositionsRepository) UpsertSatellitePosition(
	ctx context.Context, ownerID string, pos models.SatellitePosition,
) error {
	computedAt := pos.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO atlas_satellite_positions (owner_id, satellite_id, category, x, y, anchor_count, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, satellite_id) DO UPDATE SET
			category = EXCLUDED.category,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			anchor_count = EXCLUDED.anchor_count,
			computed_at = EXCLUDED.computed_at
	`

	_, err := r.db.Exec(ctx, query,
		ownerID, pos.SatelliteID, pos.Category, pos.X, pos.Y, pos.AnchorCount, computedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert satellite position: %w", err)
	}

	return nil
}

// ListSatellitePositions returns the owner's satellite positions ordered by satellite id.
func (r *PositionsRepository) ListSatellitePositions(
	ctx context.Context, ownerID string,
) ([]models.SatellitePosition, error) {
	query := `
		SELECT satellite_id, category, x, y, anchor_count, computed_at
		FROM atlas_satellite_positions
		WHERE owner_id = $1
		ORDER BY satellite_id
	`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list satellite positions: %w", err)
	}
	defer rows.Close()

	positions := []models.SatellitePosition{}
	for rows.Next() {
		var pos models.SatellitePosition
		if err := rows.Scan(&pos.SatelliteID, &pos.Category, &pos.X, &pos.Y, &pos.AnchorCount, &pos.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan satellite position: %w", err)
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating satellite positions: %w", err)
	}

	return positions, nil
}
