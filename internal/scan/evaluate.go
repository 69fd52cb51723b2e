package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
	"github.com/kesyog/crabby-merge/internal/trigger"
)

// Reason explains a verdict in cycle summaries and log lines.
type Reason string

const (
	// ReasonTriggerMatched means the merge trigger was found.
	ReasonTriggerMatched Reason = "trigger-matched"
	// ReasonNoTrigger means no searched corpus contained the trigger.
	ReasonNoTrigger Reason = "no-trigger"
	// ReasonFetchError means a required corpus could not be fetched.
	ReasonFetchError Reason = "fetch-error"
	// ReasonSkipped means the cycle deadline expired before the candidate
	// was resolved. Skipped is not a failure.
	ReasonSkipped Reason = "skipped"
)

// Verdict is the per-candidate evaluation result, produced fresh each
// cycle and never persisted.
type Verdict struct {
	PR        bitbucket.PullRequest
	Mergeable bool
	Reason    Reason
	Err       error
}

// Evaluator fetches whichever corpora the trigger policy requires and
// evaluates each candidate against the merge trigger.
type Evaluator struct {
	reviews  ReviewGateway
	matcher  *trigger.Matcher
	policy   trigger.Policy
	self     string
	parallel int
}

// NewEvaluator creates an evaluator. parallel bounds the number of
// simultaneously in-flight fetches against the review server.
func NewEvaluator(reviews ReviewGateway, matcher *trigger.Matcher, policy trigger.Policy, self string, parallel int) *Evaluator {
	if parallel < 1 {
		parallel = 1
	}
	return &Evaluator{
		reviews:  reviews,
		matcher:  matcher,
		policy:   policy,
		self:     self,
		parallel: parallel,
	}
}

// Evaluate produces one verdict per candidate. Candidates run in parallel;
// the semaphore bounds in-flight fetch operations, not candidates, so a
// candidate needing two corpora still counts twice against the limit. A
// fetch failure confines itself to its own candidate's verdict.
func (e *Evaluator) Evaluate(ctx context.Context, prs []bitbucket.PullRequest) []Verdict {
	verdicts := make([]Verdict, len(prs))
	sem := make(chan struct{}, e.parallel)

	var wg sync.WaitGroup
	for i, pr := range prs {
		wg.Add(1)
		go func(i int, pr bitbucket.PullRequest) {
			defer wg.Done()
			verdicts[i] = e.evaluateOne(ctx, sem, pr)
		}(i, pr)
	}
	wg.Wait()

	return verdicts
}

// evaluateOne fetches the enabled corpora concurrently and matches the
// trigger against them.
func (e *Evaluator) evaluateOne(ctx context.Context, sem chan struct{}, pr bitbucket.PullRequest) Verdict {
	var (
		description string
		comments    []bitbucket.Comment
		descErr     error
		commentsErr error
		wg          sync.WaitGroup
	)

	if e.policy.CheckDescription {
		wg.Add(1)
		go func() {
			defer wg.Done()
			descErr = withSlot(ctx, sem, func() error {
				var err error
				description, err = e.reviews.Description(ctx, pr)
				return err
			})
		}()
	}
	if e.policy.CheckComments {
		wg.Add(1)
		go func() {
			defer wg.Done()
			commentsErr = withSlot(ctx, sem, func() error {
				var err error
				comments, err = e.reviews.Comments(ctx, pr, e.self)
				return err
			})
		}()
	}
	wg.Wait()

	if err := errors.Join(descErr, commentsErr); err != nil {
		if ctx.Err() != nil {
			return Verdict{PR: pr, Reason: ReasonSkipped, Err: ctx.Err()}
		}
		slog.Warn("failed to fetch candidate data", "pr", pr.URL, "error", err)
		return Verdict{PR: pr, Reason: ReasonFetchError, Err: err}
	}

	texts := make([]string, len(comments))
	for i, c := range comments {
		texts[i] = c.Text
	}

	if matched, corpus := e.matcher.Matches(e.policy, description, texts); matched {
		slog.Info("merge trigger found", "pr", pr.URL, "corpus", corpus.String())
		return Verdict{PR: pr, Mergeable: true, Reason: ReasonTriggerMatched}
	}

	slog.Debug("no merge trigger", "pr", pr.URL)
	return Verdict{PR: pr, Reason: ReasonNoTrigger}
}

// withSlot runs fn while holding a semaphore slot. Waiting is abandoned
// when the context expires.
func withSlot(ctx context.Context, sem chan struct{}, fn func() error) error {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()
	return fn()
}
