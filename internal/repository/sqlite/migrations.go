package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; schema_migrations holds the index of the last one applied.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS items (
            owner_id   TEXT NOT NULL,
            item_id    TEXT NOT NULL,
            item_type  TEXT NOT NULL,
            embedding  TEXT NOT NULL,
            dims       INTEGER NOT NULL,
            title      TEXT NOT NULL DEFAULT '',
            summary    TEXT NOT NULL DEFAULT '',
            domain     TEXT NOT NULL DEFAULT '',
            tags       TEXT NOT NULL DEFAULT '[]',
            created_at TEXT NOT NULL,
            PRIMARY KEY (owner_id, item_id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_items_owner_type ON items(owner_id, item_type);`,
		`CREATE TABLE IF NOT EXISTS positions (
            owner_id    TEXT NOT NULL,
            item_id     TEXT NOT NULL,
            x           REAL NOT NULL,
            y           REAL NOT NULL,
            method      TEXT NOT NULL,
            computed_at TEXT NOT NULL,
            PRIMARY KEY (owner_id, item_id)
        );`,
		`CREATE TABLE IF NOT EXISTS relationships (
            owner_id          TEXT NOT NULL,
            source_type       TEXT NOT NULL,
            source_id         TEXT NOT NULL,
            target_type       TEXT NOT NULL,
            target_id         TEXT NOT NULL,
            relationship_type TEXT NOT NULL,
            weight            REAL NOT NULL CHECK (weight >= 0 AND weight <= 1),
            metadata          TEXT NOT NULL DEFAULT '{}',
            updated_at        TEXT NOT NULL,
            PRIMARY KEY (owner_id, source_type, source_id, target_type, target_id, relationship_type)
        );`,
		`CREATE TABLE IF NOT EXISTS clusters (
            id          TEXT PRIMARY KEY,
            owner_id    TEXT NOT NULL,
            centroid    TEXT NOT NULL,
            member_ids  TEXT NOT NULL,
            size        INTEGER NOT NULL,
            coherence   REAL NOT NULL,
            label       TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            created_at  TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_owner ON clusters(owner_id);`,
		`CREATE TABLE IF NOT EXISTS satellites (
            id              TEXT PRIMARY KEY,
            owner_id        TEXT NOT NULL,
            category        TEXT NOT NULL,
            name            TEXT NOT NULL,
            normalized_name TEXT NOT NULL,
            created_at      TEXT NOT NULL,
            UNIQUE (owner_id, category, normalized_name)
        );`,
		`CREATE TABLE IF NOT EXISTS satellite_positions (
            owner_id     TEXT NOT NULL,
            satellite_id TEXT NOT NULL,
            category     TEXT NOT NULL,
            x            REAL NOT NULL,
            y            REAL NOT NULL,
            anchor_count INTEGER NOT NULL,
            computed_at  TEXT NOT NULL,
            PRIMARY KEY (owner_id, satellite_id)
        );`,
	},
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`); err != nil {
		return 0, err
	}

	var cnt int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt); err != nil {
		return 0, err
	}
	if cnt == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`); err != nil {
			return 0, err
		}
	}

	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}

	return v, nil
}

// migrate applies every migration newer than the recorded version, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	cur, err := schemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := cur + 1; v <= len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}

		for _, stmt := range migrations[v-1] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate up to v%d: %w", v, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
	}

	return nil
}
