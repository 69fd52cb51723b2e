package scan

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
	"github.com/kesyog/crabby-merge/internal/trigger"
)

// Summary aggregates the outcomes of one scan cycle for the invoking
// scheduler.
type Summary struct {
	// Open is the number of open pull requests on the server.
	Open int
	// Evaluated is the number of candidates admitted by the selection
	// policy and evaluated.
	Evaluated int
	// Merged counts successful merges.
	Merged int
	// Skipped counts candidates without a trigger, resolved elsewhere
	// (already merged by a race), or unresolved at the cycle deadline.
	Skipped int
	// Failed counts fetch errors and merge attempts the server refused.
	Failed int
	// Retried counts rebuild requests issued.
	Retried int

	Verdicts []Verdict
	Merges   []MergeResult
	Retries  []RetryDecision
}

// RunnerConfig assembles one cycle's collaborators and policy. Builds may
// be nil or RetryPattern empty; either disables the retry engine.
type RunnerConfig struct {
	Reviews      ReviewGateway
	Builds       BuildGateway
	Matcher      *trigger.Matcher
	Trigger      trigger.Policy
	Selection    SelectionPolicy
	RetryPattern *regexp.Regexp
	RetryLimit   int
	Parallel     int
}

// Runner drives exactly one scan cycle. It holds no state between runs;
// external scheduling supplies periodicity.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a runner for one or more independent cycles.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Runner{cfg: cfg}
}

// Run executes one scan cycle: list → select → evaluate → merge → retry →
// summarize. Per-candidate and per-job failures are recorded in the
// summary and never abort the cycle; the only fatal condition is failing
// to reach the review server for the initial listing (or the identity
// lookup the selection policy depends on).
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	prs, err := r.cfg.Reviews.OpenPullRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open pull requests: %w", err)
	}

	self, err := r.cfg.Reviews.Username(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving running identity: %w", err)
	}

	selected := Select(prs, r.cfg.Selection, self)
	slog.Info("scanning candidates", "open", len(prs), "selected", len(selected), "identity", self)

	evaluator := NewEvaluator(r.cfg.Reviews, r.cfg.Matcher, r.cfg.Trigger, self, r.cfg.Parallel)
	verdicts := evaluator.Evaluate(ctx, selected)

	var mergeable []bitbucket.PullRequest
	for _, v := range verdicts {
		if v.Mergeable {
			mergeable = append(mergeable, v.PR)
		}
	}

	merges := NewMergeExecutor(r.cfg.Reviews, r.cfg.Parallel).MergeAll(ctx, mergeable)

	var retries []RetryDecision
	if engine := r.retryEngine(); engine != nil {
		retries = engine.Retry(ctx, blockedCandidates(merges))
	}

	summary := tally(len(prs), verdicts, merges, retries)
	slog.Info("scan cycle complete",
		"open", summary.Open,
		"evaluated", summary.Evaluated,
		"merged", summary.Merged,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"retried", summary.Retried,
	)
	return summary, nil
}

// retryEngine returns the configured engine, or nil when the build system
// is not configured. Absence disables the feature at runtime; it is never
// an error.
func (r *Runner) retryEngine() *RetryEngine {
	if r.cfg.Builds == nil || r.cfg.RetryPattern == nil {
		return nil
	}
	return NewRetryEngine(r.cfg.Reviews, r.cfg.Builds, r.cfg.RetryPattern, r.cfg.RetryLimit, r.cfg.Parallel)
}

// blockedCandidates picks merge attempts the server refused for reasons a
// passing build could lift: the trigger matched, so a failing required
// build is the remaining obstacle. Permission denials are excluded since
// no rebuild fixes those.
func blockedCandidates(merges []MergeResult) []bitbucket.PullRequest {
	var blocked []bitbucket.PullRequest
	for _, m := range merges {
		if m.Skipped {
			continue
		}
		switch m.Outcome {
		case bitbucket.OutcomeConflict, bitbucket.OutcomeError:
			blocked = append(blocked, m.PR)
		}
	}
	return blocked
}

// tally folds per-candidate outcomes into the cycle summary.
func tally(open int, verdicts []Verdict, merges []MergeResult, retries []RetryDecision) *Summary {
	s := &Summary{
		Open:      open,
		Evaluated: len(verdicts),
		Verdicts:  verdicts,
		Merges:    merges,
		Retries:   retries,
	}

	for _, v := range verdicts {
		switch v.Reason {
		case ReasonNoTrigger, ReasonSkipped:
			s.Skipped++
		case ReasonFetchError:
			s.Failed++
		}
	}
	for _, m := range merges {
		if m.Skipped {
			s.Skipped++
			continue
		}
		switch m.Outcome {
		case bitbucket.OutcomeMerged:
			s.Merged++
		case bitbucket.OutcomeAlreadyMerged:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	for _, d := range retries {
		if d.Retried {
			s.Retried++
		}
	}
	return s
}
