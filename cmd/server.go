package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/utils"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the headless godlp instance",
	Long:  `Start, stop, or check the status of godlp running without the terminal monitor.`,
}

var serverStartCmd = &cobra.Command{
	Use:     "start [url]...",
	Aliases: []string{"serve"},
	Short:   "Run the queue and the API without the terminal monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		savePID()
		defer removePID()
		return runInstance(cmd, args, false)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running headless instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid := readPID()
		if pid == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No running godlp server found (PID file missing).")
			return nil
		}
		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("error finding process: %w", err)
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("error stopping server: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent stop signal to process %d\n", pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the headless instance is running",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		pid := readPID()
		if pid == 0 {
			fmt.Fprintln(out, "godlp server is NOT running.")
			return
		}
		process, err := os.FindProcess(pid)
		if err != nil || process.Signal(syscall.Signal(0)) != nil {
			fmt.Fprintf(out, "godlp server is NOT running (process %d dead).\n", pid)
			return
		}
		fmt.Fprintf(out, "godlp server is running (PID: %d, API: %s).\n", pid, readActiveAddr())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd, serverStopCmd, serverStatusCmd)
	addInstanceFlags(serverStartCmd)
}

func pidPath() string {
	return filepath.Join(config.GetAppDir(), "pid")
}

func savePID() {
	if err := config.EnsureDirs(); err != nil {
		utils.Debug("Error creating app dir: %v", err)
		return
	}
	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		utils.Debug("Error writing PID file: %v", err)
	}
}

func removePID() {
	if err := os.Remove(pidPath()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing PID file: %v", err)
	}
}

func readPID() int {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}
