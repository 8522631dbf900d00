// Command inkctl administers an inkwell deployment: API keys, the response
// cache, usage and document history.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/af-corp/inkwell/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what subcommands share. Connections are opened on first use.
type app struct {
	configDir string
	envFile   string
	cfg       *config.Config
	pool      *pgxpool.Pool
	rdb       *redis.Client
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "inkctl",
		Short:         "Administer an inkwell deployment",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config", "configs", "path to configuration directory")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the configuration")

	root.AddCommand(
		newKeysCommand(a),
		newCacheCommand(a),
		newUsageCommand(a),
		newHistoryCommand(a),
	)
	return root
}

func (a *app) load() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	loader := config.NewLoader(a.configDir, slog.Default())
	if err := loader.Load(); err != nil {
		return err
	}
	a.cfg = loader.Config()
	return nil
}

func (a *app) db(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	if a.cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("this command needs database.driver postgres, got %q", a.cfg.Database.Driver)
	}
	pool, err := pgxpool.New(ctx, a.cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool
	return pool, nil
}

// redis returns the configured client, or nil when Redis is not configured.
func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil || !a.cfg.Redis.Enabled() {
		return a.rdb, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addresses[0],
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.rdb = rdb
	return rdb, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
