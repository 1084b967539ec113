package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X github.com/opd-ai/radiolink/cli.version=x.y.z"
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the radiolink version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "radiolink version %s\n", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
