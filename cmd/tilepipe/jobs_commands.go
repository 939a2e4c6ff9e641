package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tilepipe/internal/backend"
	"tilepipe/internal/config"
	"tilepipe/internal/layer"
)

// localStatusStore is implemented by the SQLite status backend only.
type localStatusStore interface {
	Counts(ctx context.Context) (map[layer.Status]int, error)
	Clear(ctx context.Context) (int64, error)
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Maintain the local job status database",
	}
	jobsCmd.AddCommand(newJobsSummaryCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	return jobsCmd
}

func withLocalStatus(ctx *commandContext, cmd *cobra.Command, fn func(localStatusStore) error) error {
	return ctx.withBackends(cmd.Context(), func(set *backend.Set) error {
		store, ok := set.Status().(localStatusStore)
		if !ok {
			cfg, _ := ctx.ensureConfig()
			return fmt.Errorf("job maintenance requires backend.status = %q (configured: %q)", config.StatusSQLite, cfg.Backend.Status)
		}
		return fn(store)
	})
}

func newJobsSummaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocalStatus(ctx, cmd, func(store localStatusStore) error {
				counts, err := store.Counts(cmd.Context())
				if err != nil {
					return err
				}
				ordered := []layer.Status{layer.StatusProcessing, layer.StatusFailed, layer.StatusComplete}
				if ctx.JSONMode() {
					out := make(map[string]int, len(ordered))
					for _, st := range ordered {
						out[string(st)] = counts[st]
					}
					return writeJSON(cmd, out)
				}
				rows := make([][]string, 0, len(ordered))
				for _, st := range ordered {
					rows = append(rows, []string{string(st), strconv.Itoa(counts[st])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every job status record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clearing job records cannot be undone; pass --yes to confirm")
			}
			return withLocalStatus(ctx, cmd, func(store localStatusStore) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]int64{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d job record(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the clear")
	return cmd
}
