package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/af-corp/inkwell/internal/cache"
	"github.com/af-corp/inkwell/internal/clock"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show the cache backend and its size",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCache(cmd, a, func(m *cache.Manager) error {
					printCacheStats(cmd.OutOrStdout(), cmd, m)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Remove every cached response",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCache(cmd, a, func(m *cache.Manager) error {
					if !m.Flush(cmd.Context()) {
						return fmt.Errorf("flush failed or cache disabled")
					}
					fmt.Fprintln(cmd.OutOrStdout(), "cache flushed")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Drop expired entries (sqlite backend)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withCache(cmd, a, func(m *cache.Manager) error {
					n, err := m.PurgeExpired(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired entries\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

func withCache(cmd *cobra.Command, a *app, fn func(*cache.Manager) error) error {
	cfg := a.cfg.Cache
	if cfg.Backend == "memory" {
		return fmt.Errorf("the memory cache lives inside the server; use GET /v1/cache/stats instead")
	}
	rdb, err := a.redis(cmd.Context())
	if err != nil {
		return err
	}
	m, closeFn, err := cache.NewFromConfig(cmd.Context(), cfg, rdb, clock.System{})
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(m)
}

func printCacheStats(w io.Writer, cmd *cobra.Command, m *cache.Manager) {
	s := m.Stats()
	fmt.Fprintf(w, "backend:  %s\n", s.Backend)
	fmt.Fprintf(w, "enabled:  %t\n", s.Enabled)
	fmt.Fprintf(w, "ttl:      %s\n", m.DefaultTTL())
	if n, ok := m.Entries(cmd.Context()); ok {
		fmt.Fprintf(w, "entries:  %d\n", n)
	} else {
		fmt.Fprintln(w, "entries:  unknown")
	}
}
