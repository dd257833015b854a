// Package store selects a backend from configuration.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/config"
	"github.com/kitsadaphon/approvald/internal/store/core"
	"github.com/kitsadaphon/approvald/internal/store/memory"
	"github.com/kitsadaphon/approvald/internal/store/pg"
)

// Open builds the store named by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		if cfg.Storage.DSN == "" {
			return nil, fmt.Errorf("storage driver postgres requires a dsn")
		}
		return pg.New(ctx, cfg.Storage.DSN, pg.Tuning{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MinIdleConns:    cfg.Storage.Postgres.MinIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		}, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
