// Package cmd implements the CLI commands for vertd.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string
	// appConfig is loaded once before any subcommand runs.
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vertd",
	Short:   "Media conversion job server",
	Version: version.Short(),
	Long: `vertd converts uploaded videos with ffmpeg.

Clients upload a file, start and follow the conversion over a websocket,
then download the result once. Hardware encoders are used when the host
has a supported GPU.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set here to avoid an initialization cycle through rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyLoggingFlags(cfg)
		appConfig = cfg
		initLogging(cfg.Logging)
		return nil
	}

	// These flags are not bound to viper. They override file and environment
	// values only when Changed(), which keeps the priority
	// flag > env > file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/vertd/config.yaml or $HOME/.vertd/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

func applyLoggingFlags(cfg *config.Config) {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
}

// initLogging installs the redacting logger as the slog default.
func initLogging(cfg config.LoggingConfig) {
	logger := observability.WithApp(observability.NewLogger(cfg, os.Stderr))
	slog.SetDefault(logger)
}
