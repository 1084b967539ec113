package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/radiolink/config"
	"github.com/opd-ai/radiolink/link"
)

// linkOptions builds endpoint options from the link and radio sections.
func linkOptions(c *config.Config) (link.Options, error) {
	dialer, err := link.NewDialer(c.Link.SocksProxy)
	if err != nil {
		return link.Options{}, err
	}
	return link.Options{
		Dialer:           dialer,
		Throttle:         c.Link.Throttle,
		FragmentRetries:  c.Link.FragmentRetries,
		HandshakeTimeout: c.Link.HandshakeTimeout,
		Variant:          c.Radio.Variant,
		Radio:            c.TransportConfig(),
	}, nil
}

// runProxy keeps a proxy between urlA and urlB running until ctx is
// cancelled. A failed proxy is torn down and rebuilt after backoff; a bad
// URL is returned immediately.
func runProxy(ctx context.Context, urlA, urlB string, opts link.Options, backoff time.Duration) error {
	for attempt := 1; ; attempt++ {
		p, err := link.NewProxy(urlA, urlB, opts)
		if errors.Is(err, link.ErrInvalidURL) {
			return err
		}
		if err == nil {
			err = p.Run(ctx)
			p.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := logrus.Fields{
			"function": "runProxy",
			"attempt":  attempt,
			"backoff":  backoff,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logrus.WithFields(fields).Warn("Proxy stopped, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

var proxyCmd = &cobra.Command{
	Use:   "proxy <url-a> <url-b>",
	Short: "Bridge two link endpoints",
	Long: `Proxy forwards bytes in both directions between two endpoints:

  tcpserver:<host>:<port>
  tcpclient:<host>:<port>
  serial:<device>:<baud>:8N1
  xbee:<device>:<baud>:8N1:<isBasestation>

The proxy is restarted whenever an endpoint fails.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, raw := range args {
			if _, err := link.ParseURL(raw); err != nil {
				return err
			}
		}
		opts, err := linkOptions(cfg)
		if err != nil {
			return fmt.Errorf("failed to configure links: %w", err)
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		backoff := cfg.Radio.RestartBackoff
		if backoff <= 0 {
			backoff = time.Second
		}
		return runProxy(ctx, args[0], args[1], opts, backoff)
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}
