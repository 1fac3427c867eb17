package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/utils"
)

const apiTimeout = time.Minute

var lsCmd = &cobra.Command{
	Use:     "ls [id]",
	Aliases: []string{"l", "list"},
	Short:   "List the queue of the running instance",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			id, err := resolveID(ctx, client, args[0])
			if err != nil {
				return err
			}
			item, err := client.Get(ctx, id)
			if err != nil {
				return err
			}
			return printDownloadDetail(cmd.OutOrStdout(), item, jsonOutput)
		}

		items, err := client.List(ctx)
		if err != nil {
			return err
		}
		return printDownloads(cmd.OutOrStdout(), items, jsonOutput)
	},
}

func init() {
	lsCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(lsCmd)
}

func printDownloads(w io.Writer, items []queue.Item, jsonOutput bool) error {
	if jsonOutput {
		if items == nil {
			items = []queue.Item{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "No downloads.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tPROGRESS\tSPEED\tTITLE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
			utils.ShortID(it.ID), it.Status, it.Priority, it.Progress, orDash(it.Speed), truncate(itemTitle(it), 60))
	}
	return tw.Flush()
}

func printDownloadDetail(w io.Writer, it queue.Item, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(it)
	}
	fmt.Fprintf(w, "ID:        %s\n", it.ID)
	fmt.Fprintf(w, "Title:     %s\n", orDash(it.Title))
	fmt.Fprintf(w, "URL:       %s\n", it.Locator)
	fmt.Fprintf(w, "Status:    %s\n", it.Status)
	fmt.Fprintf(w, "Priority:  %s\n", it.Priority)
	fmt.Fprintf(w, "Progress:  %.1f%%\n", it.Progress)
	fmt.Fprintf(w, "Speed:     %s\n", orDash(it.Speed))
	fmt.Fprintf(w, "Size:      %s\n", orDash(it.Size))
	fmt.Fprintf(w, "ETA:       %s\n", orDash(it.ETA))
	fmt.Fprintf(w, "Format:    %s\n", orDash(it.Format))
	fmt.Fprintf(w, "Output:    %s\n", it.Destination)
	fmt.Fprintf(w, "Added:     %s\n", it.AddedAt.Format(time.DateTime))
	if it.Unconfirmed {
		fmt.Fprintln(w, "Note:      the host never confirmed the stop")
	}
	return nil
}

func itemTitle(it queue.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return it.Locator
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n-3]) + "..."
	}
	return s
}
