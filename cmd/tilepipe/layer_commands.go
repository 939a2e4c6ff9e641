package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tilepipe/internal/api"
	"tilepipe/internal/services"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req api.Request

	cmd := &cobra.Command{
		Use:   "submit <location>",
		Short: "Create a layer job from a source file or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.DataLocation = args[0]
			return ctx.withService(cmd.Context(), func(svc *api.Service) error {
				created, err := svc.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, created)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted layer %s (%s)\n", created.ID, created.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Layer id (generated when empty)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name carried to every stage")
	cmd.Flags().StringVar(&req.Description, "description", "", "Free-form description")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>...",
		Short: "Show the status of one or more layer jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *api.Service) error {
				layers := make([]api.Layer, 0, len(args))
				failed := false
				for _, id := range args {
					got, err := svc.Status(cmd.Context(), id)
					if errors.Is(err, services.ErrNotFound) {
						got = api.Layer{ID: id, Status: "Unknown"}
						failed = true
					} else if err != nil {
						return err
					}
					layers = append(layers, got)
				}
				if ctx.JSONMode() {
					if err := writeJSON(cmd, layers); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					colorize := shouldColorize(out)
					for _, l := range layers {
						fmt.Fprintln(out, renderStatusLine(l.ID, layerStatusKind(l.Status), l.Status, colorize))
					}
				}
				if failed {
					return fmt.Errorf("unknown layer: %w", errSomeFailed)
				}
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var req api.RetryRequest

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a layer job to Processing, optionally queueing a fresh message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *api.Service) error {
				res, err := svc.Retry(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Layer %s: %s -> %s\n", res.ID, res.PriorStatus, res.Status)
				if res.Requeued {
					fmt.Fprintln(out, "Queued a fresh message for the first stage")
				} else {
					fmt.Fprintln(out, "Still-queued messages will now be processed")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.DataLocation, "location", "", "Source location for a fresh first-stage message")
	cmd.Flags().StringVar(&req.Name, "name", "", "Layer name carried by the fresh message")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description carried by the fresh message")
	return cmd
}
