package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/af-corp/inkwell/internal/history"
	"github.com/af-corp/inkwell/internal/policy"
	"github.com/af-corp/inkwell/internal/store"
	"github.com/af-corp/inkwell/internal/types"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		kind  string
		actor string
		limit int
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "history <document-id>",
		Short: "List the change history of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.db(cmd.Context())
			if err != nil {
				return err
			}
			// read-only: nothing here needs an edit decision
			engine := history.NewEngine(store.NewPostgres(pool), policy.Static(false))

			if stats {
				s, err := engine.Statistics(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), s)
				return nil
			}
			entries, err := engine.List(cmd.Context(), args[0], types.HistoryFilter{
				ChangeKind: types.ChangeKind(kind),
				ActorID:    actor,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only entries of this change kind")
	cmd.Flags().StringVar(&actor, "actor", "", "only entries by this actor")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to list")
	cmd.Flags().BoolVar(&stats, "stats", false, "print aggregate statistics instead")
	return cmd
}

func printEntries(w io.Writer, entries []*types.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tKIND\tACTOR\tWORDS\tSIMILARITY\tTOKENS\tAT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%+d\t%.2f\t%d\t%s\n",
			e.Sequence, e.ChangeKind, e.ActorID, e.Diff.WordDelta, e.Diff.Similarity, e.TokensUsed, e.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func printStats(w io.Writer, s *types.HistoryStats) {
	fmt.Fprintf(w, "document:      %s\n", s.DocumentID)
	fmt.Fprintf(w, "changes:       %d\n", s.TotalChanges)
	fmt.Fprintf(w, "tokens:        %d\n", s.TotalTokens)
	for kind, n := range s.ByChangeKind {
		fmt.Fprintf(w, "  %-13s %d\n", kind+":", n)
	}
	fmt.Fprintf(w, "contributors:  %v\n", s.Contributors)
	if s.LastChangeAt != nil {
		fmt.Fprintf(w, "last change:   %s\n", s.LastChangeAt.Format(time.RFC3339))
	}
}
