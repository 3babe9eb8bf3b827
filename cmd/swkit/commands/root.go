// Package commands implements the swkit CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/pkg/config"
)

// Version information, set from main.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "swkit",
	Short: "Service worker cache policies for Go hosts",
	Long: `swkit runs a page's service worker in process: per-resource cache
strategies, an offline fallback page and a registration lifecycle the host
can observe and drive.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/swkit/config.yaml)")
	rootCmd.AddCommand(serveCmd, initCmd, policiesCmd, pushCmd, versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
