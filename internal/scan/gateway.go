// Package scan implements one scan-evaluate-act cycle over the open pull
// requests of a code-review server: select candidates, evaluate the merge
// trigger concurrently, merge what passed, and optionally re-trigger
// failed builds blocking otherwise-mergeable candidates. The process is
// stateless across cycles; everything it needs is fetched fresh.
package scan

import (
	"context"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
)

// ReviewGateway is the slice of the code-review server the cycle consumes.
// *bitbucket.Client implements it; tests substitute fakes.
type ReviewGateway interface {
	// OpenPullRequests lists every open pull request visible to the
	// running identity.
	OpenPullRequests(ctx context.Context) ([]bitbucket.PullRequest, error)
	// Username returns the running identity's username.
	Username(ctx context.Context) (string, error)
	// Description fetches the current description text of a pull request.
	Description(ctx context.Context, pr bitbucket.PullRequest) (string, error)
	// Comments fetches the comments on a pull request, filtered to the
	// given author when non-empty.
	Comments(ctx context.Context, pr bitbucket.PullRequest, author string) ([]bitbucket.Comment, error)
	// Merge attempts to merge a pull request, at most once.
	Merge(ctx context.Context, pr bitbucket.PullRequest) (bitbucket.MergeOutcome, error)
	// BuildStatuses lists the build statuses attached to a commit.
	BuildStatuses(ctx context.Context, commit string) ([]bitbucket.BuildStatus, error)
}

// BuildGateway is the slice of the build system the retry engine consumes.
// *jenkins.Client implements it.
type BuildGateway interface {
	// CountBuilds returns how many builds of the job owning buildURL
	// reference the given commit. This external count is the retry
	// attempt count; the process never keeps one of its own.
	CountBuilds(ctx context.Context, buildURL, commit string) (int, error)
	// Rebuild re-triggers the build at the given URL.
	Rebuild(ctx context.Context, buildURL string) error
}
