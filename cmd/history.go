package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/history"
	"github.com/godlp/godlp/internal/utils"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished download attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if status != "" && !history.Status(status).Valid() {
			return fmt.Errorf("unknown status %q (completed, failed or cancelled)", status)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}
		items, err := client.History(ctx, history.Status(status))
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), items, jsonOutput)
	},
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete one history record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}
		if err := client.DeleteHistory(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every history record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}
		if err := client.ClearHistory(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	},
}

func init() {
	historyCmd.Flags().String("status", "", "Only show completed, failed or cancelled")
	historyCmd.Flags().Bool("json", false, "Output JSON")
	historyCmd.AddCommand(historyRmCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, items []history.Item, jsonOutput bool) error {
	if jsonOutput {
		if items == nil {
			items = []history.Item{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "No history.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tADDED\tSIZE\tTITLE")
	for _, it := range items {
		title := it.Title
		if title == "" {
			title = it.URL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			utils.ShortID(it.ID), it.Status, it.DateAdded.Local().Format(time.DateTime), formatSize(it.FileSize), truncate(title, 60))
	}
	return tw.Flush()
}

func formatSize(size *int64) string {
	if size == nil {
		return "-"
	}
	const unit = 1024
	b := *size
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
