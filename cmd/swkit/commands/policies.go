package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cryguy/swkit/internal/cli/output"
	"github.com/cryguy/swkit/internal/policy"
)

var policiesJSON bool

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the configured cache policies",
	Long: `List the configured cache policies in match order. With --json the
map is printed exactly as it is sent to the worker.`,
	RunE: runPolicies,
}

func init() {
	policiesCmd.Flags().BoolVar(&policiesJSON, "json", false, "print the worker message payload")
}

func runPolicies(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := policy.NewStore()
	if err := cfg.ApplyPolicies(store); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if policiesJSON {
		return output.PrintJSON(out, store.ExportForTransport())
	}

	table := output.NewTableData("Pattern", "Strategy", "Cache Key", "Max Age")
	for _, pc := range cfg.Policies {
		maxAge := "-"
		if pc.MaxAgeSeconds != nil {
			maxAge = fmt.Sprintf("%ds", *pc.MaxAgeSeconds)
		}
		key := pc.CacheKey
		if key == "" {
			key = "-"
		}
		table.AddRow(pc.Pattern, pc.Strategy, key, maxAge)
	}
	return output.PrintTable(out, table)
}
