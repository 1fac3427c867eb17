package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/config"
	"github.com/godlp/godlp/internal/utils"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the auth token of the local API",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), ensureAuthToken())
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func tokenPath() string {
	return filepath.Join(config.GetAppDir(), "token")
}

// ensureAuthToken returns the stored API token, creating one on first use.
func ensureAuthToken() string {
	if data, err := os.ReadFile(tokenPath()); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}

	token := uuid.New().String()
	if err := config.EnsureDirs(); err != nil {
		utils.Debug("Error creating app dir: %v", err)
		return token
	}
	if err := os.WriteFile(tokenPath(), []byte(token), 0600); err != nil {
		utils.Debug("Error writing token file: %v", err)
	}
	return token
}
