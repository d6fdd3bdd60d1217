package main

import (
	"context"
	"fmt"

	// Registers the embedded SQLite migrations.
	_ "github.com/nerrad567/eufy-bridge/migrations"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/database"
)

// openStore opens the durable device store selected by cfg.Backend.
// SQLite stores are migrated first when migrate is set.
//
// Returns:
//   - device.Store: Open store
//   - func() error: Closes the underlying file
//   - error: If the store cannot be opened or migrated
func openStore(ctx context.Context, cfg config.DatabaseConfig, migrate bool) (device.Store, func() error, error) {
	switch cfg.Backend {
	case "bolt":
		store, err := device.OpenBoltStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bolt store: %w", err)
		}
		return store, store.Close, nil

	case "sqlite", "":
		db, err := database.Open(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close() //nolint:errcheck // Best effort cleanup on error path
				return nil, nil, fmt.Errorf("running migrations: %w", err)
			}
		}
		return device.NewSQLiteStore(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}
