package scan

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
)

// RetryDecision records the outcome of considering one failed build for a
// rebuild.
type RetryDecision struct {
	PR    bitbucket.PullRequest
	Build bitbucket.BuildStatus
	// Attempts is the number of builds the build system already ran for
	// this change, derived from its history on this cycle.
	Attempts int
	Limit    int
	Eligible bool
	Retried  bool
	Err      error
}

// RetryEngine re-triggers failed builds that block otherwise-mergeable
// candidates. It is only constructed when the build system is configured;
// an absent engine is a disabled feature, not an error.
//
// The engine holds no counters: the attempt count is reconstructed from
// the build system's own history on every run, which is what makes
// back-to-back cycles idempotent.
type RetryEngine struct {
	reviews  ReviewGateway
	builds   BuildGateway
	pattern  *regexp.Regexp
	limit    int
	parallel int
}

// NewRetryEngine creates an engine that retries failed builds whose name
// matches pattern, up to limit attempts per change.
func NewRetryEngine(reviews ReviewGateway, builds BuildGateway, pattern *regexp.Regexp, limit, parallel int) *RetryEngine {
	if parallel < 1 {
		parallel = 1
	}
	return &RetryEngine{
		reviews:  reviews,
		builds:   builds,
		pattern:  pattern,
		limit:    limit,
		parallel: parallel,
	}
}

// Retry inspects the builds of each blocked candidate (one whose merge
// trigger matched but whose merge did not complete, leaving a failing
// build as the remaining obstacle) and re-triggers the eligible ones.
// Build jobs are processed concurrently and failures stay confined to
// their own job.
func (r *RetryEngine) Retry(ctx context.Context, blocked []bitbucket.PullRequest) []RetryDecision {
	var (
		mu        sync.Mutex
		decisions []RetryDecision
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, r.parallel)

	record := func(d RetryDecision) {
		mu.Lock()
		decisions = append(decisions, d)
		mu.Unlock()
	}

	for _, pr := range blocked {
		wg.Add(1)
		go func(pr bitbucket.PullRequest) {
			defer wg.Done()

			var builds []bitbucket.BuildStatus
			err := withSlot(ctx, sem, func() error {
				var err error
				builds, err = r.reviews.BuildStatuses(ctx, pr.Commit)
				return err
			})
			if err != nil {
				slog.Warn("failed to fetch build statuses", "pr", pr.URL, "error", err)
				record(RetryDecision{PR: pr, Limit: r.limit, Err: err})
				return
			}

			var jobs sync.WaitGroup
			for _, build := range builds {
				if build.State != bitbucket.BuildFailed || !r.pattern.MatchString(build.Name) {
					continue
				}
				jobs.Add(1)
				go func(build bitbucket.BuildStatus) {
					defer jobs.Done()
					record(r.retryOne(ctx, sem, pr, build))
				}(build)
			}
			jobs.Wait()
		}(pr)
	}
	wg.Wait()

	return decisions
}

// retryOne derives the attempt count for one failed build and re-triggers
// it when the count is under the limit.
func (r *RetryEngine) retryOne(ctx context.Context, sem chan struct{}, pr bitbucket.PullRequest, build bitbucket.BuildStatus) RetryDecision {
	decision := RetryDecision{PR: pr, Build: build, Limit: r.limit}

	err := withSlot(ctx, sem, func() error {
		var err error
		decision.Attempts, err = r.builds.CountBuilds(ctx, build.URL, pr.Commit)
		return err
	})
	if err != nil {
		slog.Warn("failed to count prior builds", "pr", pr.URL, "build", build.Name, "error", err)
		decision.Err = err
		return decision
	}

	decision.Eligible = decision.Attempts < r.limit
	if !decision.Eligible {
		slog.Info("retry limit reached", "pr", pr.URL, "build", build.Name,
			"attempts", decision.Attempts, "limit", r.limit)
		return decision
	}

	slog.Info("re-triggering failed build", "pr", pr.URL, "build", build.Name,
		"attempts", decision.Attempts, "limit", r.limit)

	err = withSlot(ctx, sem, func() error {
		return r.builds.Rebuild(ctx, build.URL)
	})
	if err != nil {
		// A failed trigger is logged and recorded, never escalated.
		slog.Warn("failed to trigger rebuild", "pr", pr.URL, "build", build.Name, "error", err)
		decision.Err = err
		return decision
	}

	decision.Retried = true
	return decision
}
