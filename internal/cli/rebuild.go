package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kesyog/crabby-merge/internal/config"
	"github.com/kesyog/crabby-merge/internal/jenkins"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <build-url>",
	Short: "Re-trigger a Jenkins build by URL",
	Long: `Re-trigger a single Jenkins build, preserving the string and boolean
parameters of the original run. Useful for kicking a flaky build by hand
without waiting for a scan cycle.`,
	Example: `  crabby-merge rebuild https://jenkins.example.com/job/ci/142/`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Jenkins.Username == "" || cfg.Jenkins.Password == "" {
			return fmt.Errorf("jenkins credentials are not configured")
		}

		client := jenkins.NewClient(cfg.Jenkins.Username, cfg.Jenkins.Password)
		if err := client.Rebuild(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("triggering rebuild: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Re-triggered %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
