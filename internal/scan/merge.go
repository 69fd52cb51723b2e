package scan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
)

// MergeResult records the outcome of one merge attempt.
type MergeResult struct {
	PR      bitbucket.PullRequest
	Outcome bitbucket.MergeOutcome
	// Skipped marks an attempt abandoned at the cycle deadline. The
	// candidate is unresolved, not failed, and the next run picks it up.
	Skipped bool
	Err     error
}

// MergeExecutor attempts merges for candidates whose verdict passed, each
// isolated from the others' failures. It never retries within a cycle: a
// conflict is recorded and left for the next scheduled run.
type MergeExecutor struct {
	reviews  ReviewGateway
	parallel int
}

// NewMergeExecutor creates an executor with the given fan-out bound.
func NewMergeExecutor(reviews ReviewGateway, parallel int) *MergeExecutor {
	if parallel < 1 {
		parallel = 1
	}
	return &MergeExecutor{reviews: reviews, parallel: parallel}
}

// MergeAll attempts to merge every given pull request concurrently and
// returns one result per candidate, in input order.
func (m *MergeExecutor) MergeAll(ctx context.Context, prs []bitbucket.PullRequest) []MergeResult {
	results := make([]MergeResult, len(prs))
	sem := make(chan struct{}, m.parallel)

	var wg sync.WaitGroup
	for i, pr := range prs {
		wg.Add(1)
		go func(i int, pr bitbucket.PullRequest) {
			defer wg.Done()
			results[i] = m.mergeOne(ctx, sem, pr)
		}(i, pr)
	}
	wg.Wait()

	return results
}

func (m *MergeExecutor) mergeOne(ctx context.Context, sem chan struct{}, pr bitbucket.PullRequest) MergeResult {
	var outcome bitbucket.MergeOutcome
	err := withSlot(ctx, sem, func() error {
		var err error
		outcome, err = m.reviews.Merge(ctx, pr)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return MergeResult{PR: pr, Skipped: true, Err: ctx.Err()}
		}
		slog.Error("merge attempt failed", "pr", pr.URL, "error", err)
		return MergeResult{PR: pr, Outcome: bitbucket.OutcomeError, Err: err}
	}

	switch outcome {
	case bitbucket.OutcomeMerged:
		slog.Info("merged", "pr", pr.URL)
	default:
		slog.Info("not merged", "pr", pr.URL, "outcome", outcome.String())
	}
	return MergeResult{PR: pr, Outcome: outcome}
}
