package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryguy/swkit/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file with every default filled in, plus an
example policy list.

Examples:
  swkit init
  swkit init --config ./swkit.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	cfg := config.Default()
	cfg.Policies = []config.PolicyConfig{
		{Pattern: "/api/", Strategy: "NetworkFirst"},
		{Pattern: "/static/", Strategy: "CacheFirst", CacheKey: "static"},
		{Pattern: ".json", Strategy: "StaleWhileRevalidate"},
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
