// Package sqlite is the embedded single-file store of the atlas core, on modernc.org/sqlite.
// Vectors are kept as JSON arrays and searched by brute force, which suits the small owners
// and local tooling this store is meant for.
package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/formbricks/atlas/internal/apperrors"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/service"
	"github.com/formbricks/atlas/pkg/embeddings"
)

var _ service.Store = (*Store)(nil)

// satelliteNamespace seeds the deterministic satellite ids.
var satelliteNamespace = uuid.MustParse("6f1c4f0e-3a8b-4d7e-9a51-2c8e5b7d9f10")

// Store is the SQLite implementation of the atlas store contract.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending migrations.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}

	return t
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// PutEmbedding inserts or replaces an item's embedding and descriptive fields.
func (s *Store) PutEmbedding(ctx context.Context, rec models.EmbeddingRecord) error {
	itemType := cmp.Or(rec.ItemType, models.ItemTypeContent)

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	vec, err := encodeJSON(rec.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	tagsJSON, err := encodeJSON(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (owner_id, item_id, item_type, embedding, dims, title, summary, domain, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, item_id) DO UPDATE SET
			item_type = excluded.item_type,
			embedding = excluded.embedding,
			dims = excluded.dims,
			title = excluded.title,
			summary = excluded.summary,
			domain = excluded.domain,
			tags = excluded.tags`,
		rec.OwnerID, rec.ItemID.String(), itemType, vec, len(rec.Embedding),
		rec.Title, rec.Summary, rec.Domain, tagsJSON, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put embedding: %w", err)
	}

	return nil
}

const itemColumns = `i.item_id, i.owner_id, i.item_type, i.embedding, i.title, i.summary, i.domain, i.tags, i.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *models.EmbeddingRecord, extra ...any) error {
	var itemID, vec, tags, createdAt string

	dest := []any{&itemID, &rec.OwnerID, &rec.ItemType, &vec, &rec.Title, &rec.Summary, &rec.Domain, &tags, &createdAt}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return err
	}

	id, err := uuid.Parse(itemID)
	if err != nil {
		return fmt.Errorf("invalid item id %q: %w", itemID, err)
	}
	rec.ItemID = id

	if err := json.Unmarshal([]byte(vec), &rec.Embedding); err != nil {
		return fmt.Errorf("invalid embedding for %s: %w", itemID, err)
	}

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return fmt.Errorf("invalid tags for %s: %w", itemID, err)
	}

	rec.CreatedAt = parseTime(createdAt)

	return nil
}

// ListEmbeddings returns every embedded item of one type for the owner, ordered by item id,
// with the stored position joined when there is one.
func (s *Store) ListEmbeddings(ctx context.Context, ownerID, itemType string) ([]models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`, p.x, p.y, p.method, p.computed_at
		FROM items i
		LEFT JOIN positions p ON p.owner_id = i.owner_id AND p.item_id = i.item_id
		WHERE i.owner_id = ? AND i.item_type = ?
		ORDER BY i.item_id`,
		ownerID, itemType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []models.EmbeddingRecord{}
	for rows.Next() {
		var (
			rec        models.EmbeddingRecord
			x, y       sql.NullFloat64
			method     sql.NullString
			computedAt sql.NullString
		)

		if err := scanRecord(rows, &rec, &x, &y, &method, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		if x.Valid && y.Valid && method.Valid {
			rec.Position = &models.Position{
				ItemID:     rec.ItemID,
				X:          x.Float64,
				Y:          y.Float64,
				Method:     models.PositionMethod(method.String),
				ComputedAt: parseTime(computedAt.String),
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return records, nil
}

// GetEmbedding returns one item's embedding, or apperrors.ErrEmbeddingNotFound.
func (s *Store) GetEmbedding(ctx context.Context, ownerID string, itemID uuid.UUID) (*models.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items i
		WHERE i.owner_id = ? AND i.item_id = ?`,
		ownerID, itemID.String(),
	)

	var rec models.EmbeddingRecord
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrEmbeddingNotFound
		}

		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	return &rec, nil
}

// NearestCandidates scores every same-dimension item of the owner and type against query and
// returns the best limit with similarity >= minSimilarity, ties broken by item id.
func (s *Store) NearestCandidates(
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items i
		WHERE i.owner_id = ? AND i.item_type = ? AND i.item_id <> ? AND i.dims = ?`,
		ownerID, itemType, excludeID.String(), len(query),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []models.ScoredRecord{}
	for rows.Next() {
		var scored models.ScoredRecord
		if err := scanRecord(rows, &scored.EmbeddingRecord); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}

		scored.Similarity = embeddings.Similarity(query, scored.Embedding)
		if scored.Similarity >= minSimilarity {
			results = append(results, scored)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	slices.SortFunc(results, func(a, b models.ScoredRecord) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}

		return strings.Compare(a.ItemID.String(), b.ItemID.String())
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// ListPendingOwners returns up to limit owners that have items of itemType without a position.
func (s *Store) ListPendingOwners(ctx context.Context, itemType string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT i.owner_id
		FROM items i
		LEFT JOIN positions p ON p.owner_id = i.owner_id AND p.item_id = i.item_id
		WHERE i.item_type = ? AND p.item_id IS NULL
		ORDER BY i.owner_id
		LIMIT ?`,
		itemType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan pending owner: %w", err)
		}
		owners = append(owners, owner)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending owners: %w", err)
	}

	return owners, nil
}

// UpsertPosition writes an item position unless one already exists.
func (s *Store) UpsertPosition(ctx context.Context, ownerID string, pos models.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (owner_id, item_id, x, y, method, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, item_id) DO NOTHING`,
		ownerID, pos.ItemID.String(), pos.X, pos.Y, string(pos.Method), formatTime(pos.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// ListPositions returns the stored positions of the owner's items of one type.
func (s *Store) ListPositions(ctx context.Context, ownerID, itemType string) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.item_id, p.x, p.y, p.method, p.computed_at
		FROM positions p
		JOIN items i ON i.owner_id = p.owner_id AND i.item_id = p.item_id
		WHERE p.owner_id = ? AND i.item_type = ?
		ORDER BY p.item_id`,
		ownerID, itemType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	positions := []models.Position{}
	for rows.Next() {
		var (
			pos                        models.Position
			itemID, method, computedAt string
		)
		if err := rows.Scan(&itemID, &pos.X, &pos.Y, &method, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		if pos.ItemID, err = uuid.Parse(itemID); err != nil {
			return nil, fmt.Errorf("invalid item id %q: %w", itemID, err)
		}
		pos.Method = models.PositionMethod(method)
		pos.ComputedAt = parseTime(computedAt)
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// UpsertSatellitePosition writes a satellite position, replacing the previous one.
func (s *Store) UpsertSatellitePosition(ctx context.Context, ownerID string, pos models.SatellitePosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO satellite_positions (owner_id, satellite_id, category, x, y, anchor_count, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, satellite_id) DO UPDATE SET
			category = excluded.category,
			x = excluded.x,
			y = excluded.y,
			anchor_count = excluded.anchor_count,
			computed_at = excluded.computed_at`,
		ownerID, pos.SatelliteID.String(), pos.Category, pos.X, pos.Y, pos.AnchorCount, formatTime(pos.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert satellite position: %w", err)
	}

	return nil
}

// ListSatellitePositions returns the owner's satellite positions ordered by satellite id.
func (s *Store) ListSatellitePositions(ctx context.Context, ownerID string) ([]models.SatellitePosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT satellite_id, category, x, y, anchor_count, computed_at
		FROM satellite_positions
		WHERE owner_id = ?
		ORDER BY satellite_id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list satellite positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	positions := []models.SatellitePosition{}
	for rows.Next() {
		var (
			pos                   models.SatellitePosition
			satelliteID, computed string
		)
		if err := rows.Scan(&satelliteID, &pos.Category, &pos.X, &pos.Y, &pos.AnchorCount, &computed); err != nil {
			return nil, fmt.Errorf("failed to scan satellite position: %w", err)
		}

		if pos.SatelliteID, err = uuid.Parse(satelliteID); err != nil {
			return nil, fmt.Errorf("invalid satellite id %q: %w", satelliteID, err)
		}
		pos.ComputedAt = parseTime(computed)
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating satellite positions: %w", err)
	}

	return positions, nil
}
