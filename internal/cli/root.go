package cli

import (
	"github.com/kesyog/crabby-merge/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "crabby-merge",
		Short: "Merge Bitbucket pull requests marked with a merge trigger",
		Long: `crabby-merge scans the open pull requests visible to its Bitbucket
account and merges the ones whose description (or own comments) carry the
merge trigger on a line of its own. With Jenkins credentials configured it
also re-triggers failed builds that block otherwise-mergeable PRs.

Each invocation is one stateless scan cycle; run it from cron or a systemd
timer for periodic operation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.config/crabby-merge/crabby-merge.jsonc)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)
	}
}

func Execute() error {
	return rootCmd.Execute()
}
