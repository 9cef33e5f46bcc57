package cache

import (
	"context"
	"fmt"

	"github.com/tandemflow/tandem/pkg/config"
)

// NewStoreFromConfig builds the configured cache backend. The sql
// backend borrows its connection from the shared database pool.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, pool *config.DBPool) (Store, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return NewMemoryStore(), nil

	case "sql":
		dbCfg, ok := cfg.Databases[cfg.Cache.Database]
		if !ok {
			return nil, fmt.Errorf("cache database %q not configured", cfg.Cache.Database)
		}
		db, err := pool.Get(&dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get cache database: %w", err)
		}
		store, err := NewSQLStore(ctx, db, dbCfg.DriverName())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sql cache: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}
