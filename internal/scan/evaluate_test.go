package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
	"github.com/kesyog/crabby-merge/internal/trigger"
)

func shipitMatcher(t *testing.T) *trigger.Matcher {
	t.Helper()
	m, err := trigger.Compile(`:shipit:`)
	require.NoError(t, err)
	return m
}

func TestEvaluateVerdicts(t *testing.T) {
	reviews := newFakeReviews("alice")
	reviews.descriptions[1] = "fixes the thing\n:shipit:\n"
	reviews.descriptions[2] = "please :shipit: soon"
	reviews.comments[2] = []bitbucket.Comment{{Author: "alice", Text: ":shipit:"}}
	reviews.descriptions[3] = "work in progress"

	policy := trigger.Policy{CheckDescription: true, CheckComments: true}
	ev := NewEvaluator(reviews, shipitMatcher(t), policy, "alice", 4)

	verdicts := ev.Evaluate(context.Background(), []bitbucket.PullRequest{pr(1, "bob"), pr(2, "bob"), pr(3, "bob")})

	require.Len(t, verdicts, 3)
	assert.True(t, verdicts[0].Mergeable)
	assert.Equal(t, ReasonTriggerMatched, verdicts[0].Reason)
	// Inline mention in the description does not count, but the whole-line
	// comment does.
	assert.True(t, verdicts[1].Mergeable)
	assert.False(t, verdicts[2].Mergeable)
	assert.Equal(t, ReasonNoTrigger, verdicts[2].Reason)
}

func TestEvaluateFetchFailureIsolated(t *testing.T) {
	reviews := newFakeReviews("alice")
	reviews.descriptions[1] = ":shipit:"
	reviews.descErrs[2] = errors.New("boom")
	reviews.descriptions[3] = ":shipit:"

	policy := trigger.Policy{CheckDescription: true}
	ev := NewEvaluator(reviews, shipitMatcher(t), policy, "alice", 4)

	verdicts := ev.Evaluate(context.Background(), []bitbucket.PullRequest{pr(1, "bob"), pr(2, "bob"), pr(3, "bob")})

	require.Len(t, verdicts, 3)
	assert.True(t, verdicts[0].Mergeable)
	assert.Equal(t, ReasonFetchError, verdicts[1].Reason)
	assert.Error(t, verdicts[1].Err)
	assert.True(t, verdicts[2].Mergeable)
}

func TestEvaluateCommentsOnlyFetchesComments(t *testing.T) {
	reviews := newFakeReviews("alice")
	reviews.descErrs[1] = errors.New("must not be fetched")
	reviews.comments[1] = []bitbucket.Comment{
		{Author: "bob", Text: ":shipit:"},
		{Author: "alice", Text: "lgtm"},
	}

	policy := trigger.Policy{CheckComments: true}
	ev := NewEvaluator(reviews, shipitMatcher(t), policy, "alice", 4)

	verdicts := ev.Evaluate(context.Background(), []bitbucket.PullRequest{pr(1, "bob")})

	require.Len(t, verdicts, 1)
	// Only alice's own comments are searched; bob's trigger does not count.
	assert.False(t, verdicts[0].Mergeable)
	assert.Equal(t, ReasonNoTrigger, verdicts[0].Reason)
}

func TestEvaluateBoundsInFlightFetches(t *testing.T) {
	reviews := newFakeReviews("alice")
	reviews.delay = 10 * time.Millisecond
	var prs []bitbucket.PullRequest
	for i := 1; i <= 8; i++ {
		reviews.descriptions[i] = ":shipit:"
		prs = append(prs, pr(i, "bob"))
	}

	policy := trigger.Policy{CheckDescription: true, CheckComments: true}
	ev := NewEvaluator(reviews, shipitMatcher(t), policy, "alice", 3)

	verdicts := ev.Evaluate(context.Background(), prs)

	require.Len(t, verdicts, 8)
	assert.LessOrEqual(t, reviews.maxInFlight, 3)
	assert.Positive(t, reviews.maxInFlight)
}

func TestEvaluateDeadlineSkips(t *testing.T) {
	reviews := newFakeReviews("alice")
	reviews.descriptions[1] = ":shipit:"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := trigger.Policy{CheckDescription: true}
	ev := NewEvaluator(reviews, shipitMatcher(t), policy, "alice", 1)

	verdicts := ev.Evaluate(ctx, []bitbucket.PullRequest{pr(1, "bob")})

	require.Len(t, verdicts, 1)
	assert.Equal(t, ReasonSkipped, verdicts[0].Reason)
	assert.False(t, verdicts[0].Mergeable)
}
