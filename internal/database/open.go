package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/autotune-core/pkg/config"
)

// Open creates the database selected by cfg. SQLite databases are migrated.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Database, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryDatabase(), nil
	case "sqlite":
		db, err := NewSQLiteDatabase(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}
