package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/app"
	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/queue"
	"github.com/godlp/godlp/internal/tui"
	"github.com/godlp/godlp/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Flags shared by the client commands
var (
	globalHost  string
	globalToken string
)

var rootCmd = &cobra.Command{
	Use:   "godlp [url]...",
	Short: "A download queue for a yt-dlp style host",
	Long: `godlp keeps a prioritized download queue in front of a media download host.
It dispatches one download at a time, reconciles the host's events into queue
state and history, and shows the queue in a terminal monitor.`,
	Version: Version,
	Args:    cobra.ArbitraryArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstance(cmd, args, true)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHost, "host", "", "Address of a running instance (or set GODLP_API)")
	rootCmd.PersistentFlags().StringVar(&globalToken, "token", "", "API token for --host (or set GODLP_TOKEN)")

	addInstanceFlags(rootCmd)
	rootCmd.SetVersionTemplate("godlp version {{.Version}}\n")
}

func addInstanceFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	cmd.Flags().StringP("output", "o", "", "Default output directory")
	cmd.Flags().String("addr", "", "API listen address (default from settings)")
	cmd.Flags().Bool("no-resume", false, "Do not resume unfinished downloads on startup")
	cmd.Flags().Bool("exit-when-done", false, "Exit when the queue has no pending or running downloads")
}

// initializeGlobalState prepares directories and the debug log.
func initializeGlobalState(settings *config.Settings) error {
	if err := config.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create app dirs: %w", err)
	}
	utils.ConfigureDebug(config.GetLogsDir())
	utils.CleanupLogs(settings.General.LogRetentionCount)
	return nil
}

// runInstance runs the queue, the API and, when withTUI is set, the
// terminal monitor until interrupted.
func runInstance(cmd *cobra.Command, args []string, withTUI bool) error {
	settings := loadSettings()
	if err := initializeGlobalState(settings); err != nil {
		return err
	}

	level := config.ParseLogLevel(settings.General.LogLevel)
	if withTUI {
		setupLogger(utils.DebugWriter(), level, false)
	} else {
		color := termenv.NewOutput(os.Stderr).EnvColorProfile() != termenv.Ascii
		setupLogger(os.Stderr, level, color)
	}

	isMaster, err := AcquireLock()
	if err != nil {
		return err
	}
	if !isMaster {
		return errors.New("godlp is already running. use 'godlp add <url>' to add a download to it")
	}
	defer func() {
		if err := ReleaseLock(); err != nil {
			utils.Debug("Error releasing lock: %v", err)
		}
	}()

	outputDir, _ := cmd.Flags().GetString("output")
	addr, _ := cmd.Flags().GetString("addr")
	batchFile, _ := cmd.Flags().GetString("batch")
	noResume, _ := cmd.Flags().GetBool("no-resume")
	exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done")

	if outputDir != "" {
		settings.General.DefaultDownloadDir = utils.AbsPath(outputDir)
	}
	if noResume {
		settings.General.AutoResume = false
	}
	strict := addr != ""
	if addr == "" {
		addr = settings.General.APIAddr
	}

	ln, err := listenAPI(addr, strict)
	if err != nil {
		return fmt.Errorf("could not bind API to %s: %w", addr, err)
	}

	instance, err := app.New(settings, app.WithAPIToken(ensureAuthToken()))
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := instance.Close(); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := instance.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	saveActiveAddr(ln.Addr().String())
	defer removeActiveAddr()
	go func() {
		if err := instance.Serve(ctx, ln); err != nil {
			slog.Error("API server stopped", "error", err)
		}
	}()

	urls := append([]string(nil), args...)
	if batchFile != "" {
		fileURLs, err := readURLsFromFile(batchFile)
		if err != nil {
			return err
		}
		urls = append(urls, fileURLs...)
	}
	enqueueURLs(instance, urls)

	if exitWhenDone {
		go waitUntilDrained(ctx, instance, stop)
	}

	if withTUI {
		return runTUI(ctx, instance)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "godlp %s running in server mode.\n", Version)
	fmt.Fprintf(cmd.OutOrStdout(), "API listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to exit.")
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
	return nil
}

func enqueueURLs(instance *app.App, urls []string) int {
	priority, err := queue.ParsePriority(instance.Settings.Queue.DefaultPriority)
	if err != nil {
		priority = queue.PriorityNormal
	}
	n := 0
	for _, raw := range urls {
		locator, err := utils.ValidateLocator(raw)
		if err != nil {
			slog.Warn("Skipping invalid URL", "url", raw, "error", err)
			continue
		}
		instance.Queue.Enqueue(queue.Request{
			Locator:     locator,
			Destination: utils.DestinationPath(instance.Settings.General.DefaultDownloadDir, "%(title)s"),
			Priority:    priority,
		})
		n++
	}
	return n
}

// waitUntilDrained calls stop once nothing is pending, running or paused.
func waitUntilDrained(ctx context.Context, instance *app.App, stop func()) {
	changes := instance.Subscribe()
	for {
		if drained(instance.Queue.ListAll()) {
			slog.Info("All downloads finished")
			stop()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}
	}
}

func drained(items []queue.Item) bool {
	for _, it := range items {
		if !it.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func runTUI(ctx context.Context, instance *app.App) error {
	tui.ApplyTheme(instance.Settings.General.Theme)

	priority, err := queue.ParsePriority(instance.Settings.Queue.DefaultPriority)
	if err != nil {
		priority = queue.PriorityNormal
	}
	m := tui.NewModel(instance.Queue, instance.Feed, instance.Subscribe(), instance.Settings.General.DefaultDownloadDir, priority)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
