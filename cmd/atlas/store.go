package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/formbricks/atlas/internal/config"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/repository"
	"github.com/formbricks/atlas/internal/repository/sqlite"
	"github.com/formbricks/atlas/internal/service"
	"github.com/formbricks/atlas/pkg/database"
)

// mapReader reads an owner's computed map for -op show.
type mapReader interface {
	ListPositions(ctx context.Context, ownerID, itemType string) ([]models.Position, error)
	ListSatellites(ctx context.Context, ownerID string) ([]models.Satellite, error)
	ListSatellitePositions(ctx context.Context, ownerID string) ([]models.SatellitePosition, error)
	ListClusters(ctx context.Context, ownerID string) ([]models.Cluster, error)
}

// atlasStore is what the CLI needs from either backend.
type atlasStore interface {
	service.Store
	mapReader
}

var (
	_ atlasStore = (*repository.Store)(nil)
	_ atlasStore = (*sqlite.Store)(nil)
)

// openStore opens the configured store. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (atlasStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}

		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("close sqlite store", "error", err)
			}
		}, nil
	default:
		if cfg.AutoMigrate {
			if err := repository.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return nil, nil, err
			}
		}

		db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithVectorTypes())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}

		return repository.NewStore(db), db.Close, nil
	}
}
