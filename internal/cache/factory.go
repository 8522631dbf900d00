package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/config"
)

// NewFromConfig builds the configured backend and wraps it in a Manager. The
// returned close function releases backend resources.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, rdb *redis.Client, clk clock.Clock) (*Manager, func() error, error) {
	noop := func() error { return nil }
	opts := Options{Enabled: cfg.Enabled, TTL: cfg.TTL, Prefix: cfg.KeyPrefix, Clock: clk}

	switch cfg.Backend {
	case "memory", "":
		b, err := NewMemoryBackend(cfg.MemorySize)
		if err != nil {
			return nil, noop, err
		}
		return NewManager(b, opts), noop, nil
	case "redis":
		if rdb == nil {
			return nil, noop, fmt.Errorf("cache backend redis requires a redis client")
		}
		return NewManager(NewRedisBackend(rdb, cfg.KeyPrefix), opts), noop, nil
	case "sqlite":
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		b, err := NewSQLiteBackend(ctx, db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return NewManager(b, opts), db.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
