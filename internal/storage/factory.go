// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"fmt"

	"github.com/chainpass/chainpass/internal/config"
)

// Open creates the backend selected by cfg.Backend, wrapped with the
// latency/error instrumentation.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	inner, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	return Instrument(inner, backend), nil
}

func open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadger(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		return OpenRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
