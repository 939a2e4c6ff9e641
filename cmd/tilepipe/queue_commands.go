package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tilepipe/internal/api"
	"tilepipe/internal/backend"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage stage queues",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show visible and leased messages per stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *api.Service) error {
				stats := svc.QueueStats(cmd.Context())
				if ctx.JSONMode() {
					return writeJSON(cmd, stats)
				}
				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					if s.Error != "" {
						rows = append(rows, []string{s.Stage, s.Queue, "-", "-", "-", s.Error})
						continue
					}
					rows = append(rows, []string{
						s.Stage,
						s.Queue,
						strconv.Itoa(s.Visible),
						strconv.Itoa(s.InFlight),
						strconv.Itoa(s.Total()),
						"",
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Stage", "Queue", "Visible", "In Flight", "Total", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge <stage>",
		Short: "Drop every message on a stage queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("purging %s drops queued jobs; pass --yes to confirm", args[0])
			}
			return ctx.withBackends(cmd.Context(), func(set *backend.Set) error {
				removed, err := set.Purge(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"stage": args[0], "removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d message(s) from %s\n", removed, args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the purge")
	return cmd
}
