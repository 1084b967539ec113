package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opd-ai/radiolink/xtp"
)

// errNotVerified is returned when the receiver's hash does not match.
var errNotVerified = errors.New("remote copy failed verification")

var sendCmd = &cobra.Command{
	Use:   "send <file> [remote-path]",
	Short: "Send a file to the listening receiver and verify it",
	Long: `Send waits for a receiver beacon, transfers the file chunk by chunk and
checks the remote MD5. The remote path defaults to the file's base name.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote := filepath.Base(args[0])
		if len(args) == 2 {
			remote = args[1]
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		t, err := openTransport(cfg)
		if err != nil {
			return fmt.Errorf("failed to open radio: %w", err)
		}
		defer t.Close()

		client := xtp.NewClient(t, cfg.XTPConfig())
		result, err := client.SendFile(ctx, args[0], remote)
		if err != nil {
			return fmt.Errorf("failed to send %s: %w", args[0], err)
		}

		fmt.Fprint(cmd.OutOrStdout(), renderReport([]*xtp.FileResult{result}))
		if !result.Verified {
			return errNotVerified
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
