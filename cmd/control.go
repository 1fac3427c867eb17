package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/api"
	"github.com/godlp/godlp/internal/utils"
)

// commandContext bounds a client command.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, apiTimeout)
}

// idAction builds a command that resolves an id prefix and applies fn.
func idAction(use, short, done string, fn func(*api.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			client, err := apiClient(ctx)
			if err != nil {
				return err
			}
			id, err := resolveID(ctx, client, args[0])
			if err != nil {
				return err
			}
			if err := fn(client, ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, utils.ShortID(id))
			return nil
		},
	}
}

var pauseCmd = idAction("pause", "Pause a download", "Paused", (*api.Client).Pause)

var resumeCmd = idAction("resume", "Resume a paused download", "Resumed", (*api.Client).Resume)

var cancelCmd = idAction("cancel", "Cancel a download", "Cancelled", (*api.Client).Cancel)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished downloads from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		cache, _ := cmd.Flags().GetBool("cache")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case cache:
			if err := client.ClearCache(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Saved pending downloads cleared.")
		case all:
			if err := client.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Queue cleared.")
		default:
			n, err := client.ClearCompleted(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d finished downloads.\n", n)
		}
		return nil
	},
}

func init() {
	cancelCmd.Aliases = []string{"rm"}
	clearCmd.Flags().Bool("all", false, "Remove every item, running ones included")
	clearCmd.Flags().Bool("cache", false, "Delete the saved pending downloads instead")
	rootCmd.AddCommand(pauseCmd, resumeCmd, cancelCmd, clearCmd)
}
