package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tilepipe/internal/logging"
	"tilepipe/internal/staging"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	workspaceCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage per-job scratch workspaces",
	}
	workspaceCmd.AddCommand(newWorkspaceCleanCommand(ctx))
	return workspaceCmd
}

func newWorkspaceCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove workspaces older than the configured maximum age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			age := cfg.WorkspaceMaxAge()
			if cmd.Flags().Changed("max-age") {
				age = maxAge
			}
			result := staging.CleanStale(cmd.Context(), cfg.Paths.WorkDir, age, logging.NewNop())

			if ctx.JSONMode() {
				failures := make([]map[string]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					failures = append(failures, map[string]string{"path": e.Path, "error": e.Error.Error()})
				}
				removed := result.Removed
				if removed == nil {
					removed = []string{}
				}
				busy := result.Busy
				if busy == nil {
					busy = []string{}
				}
				return writeJSON(cmd, map[string]any{"removed": removed, "busy": busy, "errors": failures})
			}

			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			for _, path := range result.Busy {
				fmt.Fprintf(out, "Skipped %s (in use)\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Failed %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "%d workspace(s) removed\n", len(result.Removed))
			if len(result.Errors) > 0 {
				return fmt.Errorf("workspace cleanup: %w", errSomeFailed)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override workflow.workspace_max_age_hours (e.g. 30m, 0s for every idle workspace)")
	return cmd
}
