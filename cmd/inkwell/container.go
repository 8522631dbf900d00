package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/af-corp/inkwell/internal/auth"
	"github.com/af-corp/inkwell/internal/cache"
	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/events"
	"github.com/af-corp/inkwell/internal/filter"
	"github.com/af-corp/inkwell/internal/filter/injection"
	"github.com/af-corp/inkwell/internal/filter/secrets"
	"github.com/af-corp/inkwell/internal/gateway"
	"github.com/af-corp/inkwell/internal/history"
	"github.com/af-corp/inkwell/internal/orchestrator"
	"github.com/af-corp/inkwell/internal/policy"
	"github.com/af-corp/inkwell/internal/ratelimit"
	"github.com/af-corp/inkwell/internal/router"
	"github.com/af-corp/inkwell/internal/service"
	"github.com/af-corp/inkwell/internal/store"
	"github.com/af-corp/inkwell/internal/suggestion"
	"github.com/af-corp/inkwell/internal/telemetry"
)

// closers collects resources released on shutdown, last opened first.
type closers struct {
	fns []func()
}

func (c *closers) add(fn func()) { c.fns = append(c.fns, fn) }

func (c *closers) closeAll() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
}

func buildContainer(loader *config.Loader) (*dig.Container, error) {
	c := dig.New()

	providers := []any{
		func() *config.Loader { return loader },
		func() func() *config.Config { return loader.Config },
		func() *closers { return &closers{} },
		func() clock.Clock { return clock.System{} },
		provideRedis,
		provideStore,
		provideMetrics,
		provideRegistry,
		func(clk clock.Clock) *router.HealthTracker {
			return router.NewHealthTracker(loader.Config().Routing.CircuitBreaker, clk)
		},
		provideCache,
		provideLedger,
		provideGuard,
		provideEvents,
		providePolicy,
		provideHistory,
		provideSuggestions,
		provideOrchestrator,
		func(o *orchestrator.Orchestrator, sm *suggestion.Manager, h *history.Engine, cm *cache.Manager, s store.Store, clk clock.Clock) *service.Core {
			return service.New(o, sm, h, cm, s, service.WithClock(clk))
		},
		func(core *service.Core, health *router.HealthTracker) *gateway.Handler {
			return gateway.NewHandler(core, health, version)
		},
		provideRouter,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, fmt.Errorf("provide %T: %w", p, err)
		}
	}
	return c, nil
}

func provideRedis(cfg func() *config.Config, cl *closers) *redis.Client {
	rc := cfg().Redis
	if !rc.Enabled() {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addresses[0],
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis not reachable, redis-backed features disabled", "error", err)
		rdb.Close()
		return nil
	}
	slog.Info("redis connected", "addr", rc.Addresses[0])
	cl.add(func() { rdb.Close() })
	return rdb
}

func providePool(cfg *config.Config, cl *closers) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		slog.Warn("database not reachable at startup", "error", err)
	} else {
		slog.Info("database connected", "host", cfg.Database.Host, "name", cfg.Database.Name)
	}
	cl.add(pool.Close)
	return pool, nil
}

// storeOut also exposes the pool, nil for the memory driver, to the key store.
type storeOut struct {
	dig.Out
	Store store.Store
	Pool  *pgxpool.Pool
}

func provideStore(cfg func() *config.Config, cl *closers) (storeOut, error) {
	c := cfg()
	if c.Database.Driver == "memory" {
		slog.Warn("using in-memory document store")
		return storeOut{Store: store.NewMemory()}, nil
	}
	pool, err := providePool(c, cl)
	if err != nil {
		return storeOut{}, err
	}
	return storeOut{Store: store.NewPostgres(pool), Pool: pool}, nil
}

func provideMetrics() (*telemetry.Metrics, prometheus.Gatherer) {
	return telemetry.NewMetrics(prometheus.DefaultRegisterer), prometheus.DefaultGatherer
}

// provideRegistry builds the provider registry and rebuilds it in place when
// providers.yaml changes.
func provideRegistry(loader *config.Loader) (*router.Registry, error) {
	registry, err := router.BuildFromConfig(loader.Providers())
	if err != nil {
		return nil, err
	}
	loader.OnReload(func() {
		next, err := router.BuildFromConfig(loader.Providers())
		if err != nil {
			slog.Error("provider registry reload failed, keeping previous providers", "error", err)
			return
		}
		registry.ReplaceAll(next)
		slog.Info("provider registry reloaded", "providers", registry.Names())
	})
	return registry, nil
}

func provideCache(cfg func() *config.Config, rdb *redis.Client, clk clock.Clock, cl *closers) (*cache.Manager, error) {
	mgr, closeFn, err := cache.NewFromConfig(context.Background(), cfg().Cache, rdb, clk)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}
	cl.add(func() {
		if err := closeFn(); err != nil {
			slog.Warn("cache close failed", "error", err)
		}
	})
	slog.Info("cache ready", "backend", mgr.Stats().Backend, "enabled", mgr.Enabled())
	return mgr, nil
}

func provideLedger(cfg func() *config.Config, rdb *redis.Client, clk clock.Clock) (ratelimit.Ledger, error) {
	lc := cfg().Ledger
	limits := ratelimit.LimitsFromConfig(lc)
	if lc.Backend == "redis" {
		if rdb == nil {
			return nil, fmt.Errorf("ledger backend redis requires a reachable redis")
		}
		return ratelimit.NewRedisLedger(rdb, limits, clk), nil
	}
	return ratelimit.NewMemoryLedger(limits, clk), nil
}

func provideGuard(cfg func() *config.Config) orchestrator.Guard {
	return filter.NewChain(
		secrets.NewScanner(func() config.SecretsFilterConfig { return cfg().Filter.Secrets }),
		injection.NewScanner(func() config.InjectionFilterConfig { return cfg().Filter.Injection }),
	)
}

func provideEvents(cfg func() *config.Config, rdb *redis.Client) events.Publisher {
	ec := cfg().Events
	bus := events.NewBus()
	if ec.LogEvents {
		bus.Subscribe("log", events.LogHandler(slog.Default()))
	}
	if ec.RedisChannel != "" && rdb != nil {
		bus.Subscribe("redis", events.RedisHandler(rdb, ec.RedisChannel))
	}
	return bus
}

func providePolicy(cfg func() *config.Config) (policy.Checker, error) {
	pc := cfg().Policy
	evaluator := policy.NewEvaluator(pc)
	if err := evaluator.Load(pc.BundlePath); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return evaluator, nil
}

func provideHistory(s store.Store, checker policy.Checker, clk clock.Clock, pub events.Publisher, m *telemetry.Metrics) *history.Engine {
	return history.NewEngine(s, checker, history.WithClock(clk), history.WithEvents(pub), history.WithMetrics(m))
}

func provideSuggestions(s store.Store, h *history.Engine, checker policy.Checker, clk clock.Clock, pub events.Publisher, m *telemetry.Metrics) *suggestion.Manager {
	return suggestion.NewManager(s, h, checker, suggestion.WithClock(clk), suggestion.WithEvents(pub), suggestion.WithMetrics(m))
}

func provideOrchestrator(
	registry *router.Registry,
	health *router.HealthTracker,
	cacheMgr *cache.Manager,
	ledger ratelimit.Ledger,
	guard orchestrator.Guard,
	cfg func() *config.Config,
	m *telemetry.Metrics,
	clk clock.Clock,
	pub events.Publisher,
) *orchestrator.Orchestrator {
	return orchestrator.New(registry, health, cacheMgr, ledger, guard, cfg, m,
		orchestrator.WithClock(clk), orchestrator.WithEvents(pub))
}

func provideRouter(h *gateway.Handler, cfg func() *config.Config, pool *pgxpool.Pool, rdb *redis.Client, gatherer prometheus.Gatherer) (http.Handler, error) {
	c := cfg()
	var authMW func(http.Handler) http.Handler
	switch {
	case c.Auth.Enabled:
		if pool == nil {
			return nil, fmt.Errorf("auth requires the postgres store")
		}
		authMW = auth.Middleware(auth.NewCachedKeyStore(pool, rdb, c.Auth.KeyCacheTTL))
	default:
		actorID := c.Auth.DevActorID
		if actorID == "" {
			actorID = "dev"
		}
		slog.Warn("authentication disabled, all requests act as the dev user", "actor", actorID)
		authMW = auth.DevMiddleware(actorID)
	}

	return gateway.NewRouter(h, gateway.RouterConfig{
		Auth:           authMW,
		AllowedOrigins: c.Server.AllowedOrigins,
		MetricsPath:    c.Telemetry.MetricsPath,
		Gatherer:       gatherer,
	}), nil
}
