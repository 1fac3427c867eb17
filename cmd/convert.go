package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/godlp/godlp/internal/api"
	"github.com/godlp/godlp/internal/utils"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file> <format>",
	Short: "Ask the host to convert a downloaded file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		client, err := apiClient(ctx)
		if err != nil {
			return err
		}
		req := api.ConvertRequest{SourcePath: utils.AbsPath(args[0]), TargetFormat: args[1]}
		if err := client.Convert(ctx, req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Converting %s to %s\n", req.SourcePath, req.TargetFormat)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
}
