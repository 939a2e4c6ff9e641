package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tilepipe/internal/api"
	"tilepipe/internal/backend"
	"tilepipe/internal/stage"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	artifactsCmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect and fetch stored stage outputs",
	}
	artifactsCmd.AddCommand(newArtifactsListCommand(ctx))
	artifactsCmd.AddCommand(newArtifactsFetchCommand(ctx))
	return artifactsCmd
}

func newArtifactsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list [stage]",
		Short: "List artifacts stored by a stage (default: tiles)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageName := stage.Tiles
			if len(args) == 1 {
				stageName = args[0]
			}
			return ctx.withService(cmd.Context(), func(svc *api.Service) error {
				list, err := svc.Artifacts(cmd.Context(), stageName)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list.Names) == 0 {
					fmt.Fprintf(out, "No artifacts in %s\n", list.Container)
					return nil
				}
				rows := make([][]string, 0, len(list.Names))
				for _, name := range list.Names {
					rows = append(rows, []string{list.Container, name})
				}
				fmt.Fprintln(out, renderTable([]string{"Container", "Artifact"}, rows, nil))
				return nil
			})
		},
	}
}

func newArtifactsFetchCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "fetch <id> [dest]",
		Short: "Copy a layer's artifact locally when the stored copy is newer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withBackends(cmd.Context(), func(set *backend.Set) error {
				def, err := stageDefinition(set, stageName)
				if err != nil {
					return err
				}
				name := def.OutputName(id)
				dest := name
				if len(args) == 2 {
					dest = args[1]
				}
				if abs, err := filepath.Abs(dest); err == nil {
					dest = abs
				}

				svc := api.NewService(set, nil)
				copied, err := svc.Fetch(cmd.Context(), def.Name, name, dest)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"id": id, "stage": def.Name, "path": dest, "copied": copied})
				}
				if copied {
					fmt.Fprintf(cmd.OutOrStdout(), "Fetched %s to %s\n", name, dest)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", dest)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", stage.Tiles, "Stage whose artifact to fetch")
	return cmd
}
