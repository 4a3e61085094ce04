// Package cmd implements the CLI commands for grillmaster.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/observability"
	"github.com/grillmaster/grillmaster/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// appConfig is the loaded configuration, populated before any RunE executes.
var appConfig *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "grillmaster",
	Short:   "Video download, speech recognition, and subtitle translation pipeline",
	Version: version.Short(),
	Long: `grillmaster downloads videos from supported platforms, extracts the
audio track, runs speech recognition on it, translates the transcript into
Traditional Chinese, and packages the result as WebVTT subtitles.

Every pipeline run is checkpointed per step, so interrupted or failed tasks
resume from their last completed step on retry.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// PersistentPreRunE is set here to avoid an initialization cycle
	// (initApp references rootCmd.PersistentFlags).
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initApp()
	}

	// These flags are not bound to viper. We check Changed() and only then
	// override config/env values, preserving the priority
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/grillmaster, $HOME/.grillmaster)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initApp loads .env, the configuration, and configures the global logger.
func initApp() error {
	// A missing .env file is the normal case outside development.
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from .env")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	// The observability logger redacts credentials in log attributes.
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)

	appConfig = cfg
	return nil
}
