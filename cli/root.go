package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/radiolink/config"
)

var (
	// Global flags
	cfgFile     string
	logLevel    string
	portFlag    string
	variantFlag string

	// Shared state set during PersistentPreRunE
	cfg *config.Config
)

// rootCmd is the base command for radiolink.
var rootCmd = &cobra.Command{
	Use:   "radiolink",
	Short: "File transfer and link proxy over XBee packet radios",
	Long: `radiolink moves files and byte streams across a half-duplex XBee
radio link. It sends and receives files with acknowledged, verified
chunks, archives directories, and bridges the radio to TCP or serial
endpoints.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if portFlag != "" {
			loaded.Radio.Port = portFlag
		}
		if variantFlag != "" {
			loaded.Radio.Variant = variantFlag
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return err
		}

		if err := configureLogging(loaded.Logging); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// configureLogging applies the logging section to the standard logrus logger.
func configureLogging(l config.Logging) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	switch l.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.radiolink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "radio serial port as device:baud[:8N1]")
	rootCmd.PersistentFlags().StringVar(&variantFlag, "variant", "", "radio variant: 900hp or s1")
}
