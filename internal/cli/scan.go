package cli

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
	"github.com/kesyog/crabby-merge/internal/config"
	"github.com/kesyog/crabby-merge/internal/jenkins"
	"github.com/kesyog/crabby-merge/internal/scan"
	"github.com/kesyog/crabby-merge/internal/trigger"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle",
	Long: `Scan open pull requests once, merge the ones carrying the merge
trigger, and re-trigger blocking failed builds when Jenkins is configured.

This is the same cycle the bare crabby-merge invocation runs.`,
	Example: `  crabby-merge scan
  crabby-merge scan --config ./crabby-merge.jsonc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	matcher, err := trigger.Compile(cfg.Scan.MergeTrigger)
	if err != nil {
		return fmt.Errorf("compiling merge trigger: %w", err)
	}

	runnerCfg := scan.RunnerConfig{
		Reviews: bitbucket.NewClient(cfg.Bitbucket.URL, cfg.Bitbucket.APIToken),
		Matcher: matcher,
		Trigger: trigger.Policy{
			CheckDescription: cfg.Scan.IsCheckDescriptionEnabled(),
			CheckComments:    cfg.Scan.IsCheckCommentsEnabled(),
		},
		Selection: scan.SelectionPolicy{
			CheckOwnPRs:      cfg.Scan.IsCheckOwnPRsEnabled(),
			CheckApprovedPRs: cfg.Scan.IsCheckApprovedPRsEnabled(),
		},
		Parallel: cfg.Scan.MaxParallelRequests,
	}
	if cfg.Jenkins.Enabled() {
		pattern, err := regexp.Compile(cfg.Jenkins.RetryTrigger)
		if err != nil {
			return fmt.Errorf("compiling retry trigger: %w", err)
		}
		runnerCfg.Builds = jenkins.NewClient(cfg.Jenkins.Username, cfg.Jenkins.Password)
		runnerCfg.RetryPattern = pattern
		runnerCfg.RetryLimit = cfg.Jenkins.RetryLimit
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Scan.ParseCycleTimeout())
	defer cancel()

	summary, err := scan.NewRunner(runnerCfg).Run(ctx)
	if err != nil {
		return err
	}

	renderSummary(cmd, summary)
	return nil
}

func renderSummary(cmd *cobra.Command, summary *scan.Summary) {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("OPEN", "EVALUATED", "MERGED", "SKIPPED", "FAILED", "RETRIED").
		Rows([]string{
			strconv.Itoa(summary.Open),
			strconv.Itoa(summary.Evaluated),
			strconv.Itoa(summary.Merged),
			strconv.Itoa(summary.Skipped),
			strconv.Itoa(summary.Failed),
			strconv.Itoa(summary.Retried),
		}).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	fmt.Fprintln(cmd.OutOrStdout(), t)

	for _, m := range summary.Merges {
		if m.Skipped {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", m.Outcome, m.PR.URL)
	}
	for _, d := range summary.Retries {
		if d.Retried {
			fmt.Fprintf(cmd.OutOrStdout(), "retried %s (%d/%d): %s\n", d.Build.Name, d.Attempts, d.Limit, d.PR.URL)
		}
	}
}
