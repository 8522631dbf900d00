package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/ratelimit"
)

func newUsageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <subject-id>",
		Short: "Show a subject's request and token usage (redis ledger)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lc := a.cfg.Ledger
			if lc.Backend != "redis" {
				return fmt.Errorf("ledger backend %q keeps usage in the server process", lc.Backend)
			}
			rdb, err := a.redis(cmd.Context())
			if err != nil {
				return err
			}
			if rdb == nil {
				return fmt.Errorf("redis is not configured")
			}
			ledger := ratelimit.NewRedisLedger(rdb, ratelimit.LimitsFromConfig(lc), clock.System{})
			u, err := ledger.Usage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "subject:   %s\n", u.SubjectID)
			fmt.Fprintf(w, "requests:  %d/%d since %s\n", u.Requests.Count, lc.RequestsPerWindow, formatStart(u.Requests.Start))
			fmt.Fprintf(w, "tokens:    %d/%d since %s\n", u.Tokens.Count, lc.DailyTokens, formatStart(u.Tokens.Start))
			return nil
		},
	}
}

func formatStart(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
