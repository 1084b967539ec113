package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/radiolink/file"
	"github.com/opd-ai/radiolink/stats"
	"github.com/opd-ai/radiolink/status"
	"github.com/opd-ai/radiolink/transport"
	"github.com/opd-ai/radiolink/xtp"
)

var (
	listenDir    string
	listenStatus string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive files into a directory",
	Long: `Listen beacons its address, accepts transfers into the receive
directory and answers hash checks. A failed radio is closed and reopened
from scratch until the command is interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenDir != "" {
			cfg.XTP.Directory = listenDir
		}
		if listenStatus != "" {
			cfg.Status.Listen = listenStatus
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		backend, err := stats.Open(cfg.StatsOptions())
		if err != nil {
			return fmt.Errorf("failed to open stats backend: %w", err)
		}
		audit := stats.NewLogger(backend, cfg.Stats.QueueSize)
		defer audit.Close()

		server := xtp.NewServer(file.NewStore(cfg.XTP.Directory), cfg.XTPConfig(), audit)

		if cfg.Status.Listen != "" {
			statusDone := make(chan struct{})
			defer func() { <-statusDone }()
			go func() {
				defer close(statusDone)
				if err := status.Serve(ctx, cfg.Status.Listen, status.NewHandler(server)); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "listen",
						"error":    err.Error(),
					}).Error("Status endpoint stopped")
				}
			}()
		}

		logrus.WithFields(logrus.Fields{
			"function":  "listen",
			"directory": cfg.XTP.Directory,
			"variant":   cfg.Radio.Variant,
		}).Info("Listening for transfers")

		sup := &transport.Supervisor{
			Open: func(context.Context) (transport.Transport, error) {
				return openTransport(cfg)
			},
			Backoff: cfg.Radio.RestartBackoff,
		}
		err = sup.Run(ctx, server.Serve)
		stop()
		return err
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenDir, "dir", "", "receive directory (overrides xtp.directory)")
	listenCmd.Flags().StringVar(&listenStatus, "status", "", "status endpoint address such as 127.0.0.1:8080 (overrides status.listen)")
	rootCmd.AddCommand(listenCmd)
}
