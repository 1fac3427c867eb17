package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/api"
	"github.com/godlp/godlp/internal/utils"
)

var addCmd = &cobra.Command{
	Use:     "add [url]...",
	Aliases: []string{"get"},
	Short:   "Add downloads to the running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		fromClipboard, _ := cmd.Flags().GetBool("clipboard")
		opts := addOptions{}
		opts.output, _ = cmd.Flags().GetString("output")
		opts.format, _ = cmd.Flags().GetString("format")
		opts.title, _ = cmd.Flags().GetString("title")
		opts.priority, _ = cmd.Flags().GetString("priority")
		opts.best, _ = cmd.Flags().GetBool("best")
		opts.playlist, _ = cmd.Flags().GetBool("playlist")
		itemsFlag, _ := cmd.Flags().GetString("items")
		items, err := parseItems(itemsFlag)
		if err != nil {
			return err
		}
		opts.items = items

		urls := append([]string(nil), args...)
		if fromClipboard {
			text, err := clipboard.ReadAll()
			if err != nil {
				return fmt.Errorf("failed to read clipboard: %w", err)
			}
			urls = append(urls, strings.Fields(text)...)
		}
		if batchFile != "" {
			fileURLs, err := readURLsFromFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fileURLs...)
		}
		if len(urls) == 0 {
			return fmt.Errorf("no URLs given")
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}

		added := processDownloads(ctx, client, urls, opts, cmd)
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d downloads from %d URLs.\n", added, len(urls))
		if added == 0 {
			return fmt.Errorf("nothing was added")
		}
		return nil
	},
}

type addOptions struct {
	output   string
	format   string
	title    string
	priority string
	best     bool
	playlist bool
	items    []int
}

// processDownloads submits each URL and returns how many were accepted.
func processDownloads(ctx context.Context, client *api.Client, urls []string, opts addOptions, cmd *cobra.Command) int {
	out := cmd.OutOrStdout()
	n := 0
	for _, raw := range urls {
		locator, err := utils.ValidateLocator(raw)
		if err != nil {
			fmt.Fprintf(out, "Skipping %s: %v\n", raw, err)
			continue
		}

		if opts.playlist {
			n += addPlaylist(ctx, client, locator, opts, out)
			continue
		}

		req := api.AddRequest{URL: locator, FormatID: opts.format, Title: opts.title, Priority: opts.priority}
		if opts.best && req.FormatID == "" {
			res, err := client.Analyze(ctx, locator)
			if err != nil {
				fmt.Fprintf(out, "Error analyzing %s: %v\n", locator, err)
				continue
			}
			if res.Playlist != nil {
				n += addPlaylist(ctx, client, locator, opts, out)
				continue
			}
			if res.Best != nil {
				req.FormatID = res.Best.FormatID
			}
			if req.Title == "" && res.Video != nil {
				req.Title = res.Video.Title
			}
		}
		if opts.output != "" {
			name := req.Title
			if name == "" {
				name = "%(title)s"
			}
			req.OutputPath = utils.DestinationPath(utils.AbsPath(opts.output), name)
		}

		item, err := client.Add(ctx, req)
		if err != nil {
			fmt.Fprintf(out, "Error adding %s: %v\n", locator, err)
			continue
		}
		fmt.Fprintf(out, "Queued: %s [%s]\n", locator, utils.ShortID(item.ID))
		n++
	}
	return n
}

// addPlaylist queues the selected entries of a playlist and returns how
// many items the instance reported.
func addPlaylist(ctx context.Context, client *api.Client, locator string, opts addOptions, out io.Writer) int {
	req := api.PlaylistAddRequest{URL: locator, Items: opts.items, Priority: opts.priority}
	if opts.output != "" {
		req.OutputDir = utils.AbsPath(opts.output)
	}
	resp, err := client.AddPlaylist(ctx, req)
	if err != nil {
		fmt.Fprintf(out, "Error adding playlist %s: %v\n", locator, err)
		return 0
	}
	for _, it := range resp.Items {
		fmt.Fprintf(out, "Queued: %s [%s]\n", it.Locator, utils.ShortID(it.ID))
	}
	fmt.Fprintf(out, "Playlist %q: %d videos, format %s\n", resp.Playlist, len(resp.Items), resp.FormatID)
	return len(resp.Items)
}

// parseItems reads a comma separated list of 1-based playlist positions.
func parseItems(s string) ([]int, error) {
	var items []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid playlist item %q", part)
		}
		items = append(items, n)
	}
	return items, nil
}

func init() {
	addCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	addCmd.Flags().Bool("clipboard", false, "Read URLs from the clipboard")
	addCmd.Flags().StringP("output", "o", "", "Output directory")
	addCmd.Flags().StringP("format", "f", "", "Host format id")
	addCmd.Flags().String("title", "", "Title used for the file name")
	addCmd.Flags().StringP("priority", "p", "", "low, normal or high")
	addCmd.Flags().Bool("best", false, "Analyze first and pick the highest resolution format")
	addCmd.Flags().Bool("playlist", false, "Queue each video of a playlist URL")
	addCmd.Flags().String("items", "", "Playlist positions to queue, e.g. 1,3,5 (default all)")
	rootCmd.AddCommand(addCmd)
}
