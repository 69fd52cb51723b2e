package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kesyog/crabby-merge/internal/bitbucket"
)

// fakeReviews is an in-memory ReviewGateway. It instruments in-flight call
// counts so tests can assert the fan-out bound.
type fakeReviews struct {
	mu sync.Mutex

	prs         []bitbucket.PullRequest
	username    string
	usernameErr error

	descriptions map[int]string
	descErrs     map[int]error
	comments     map[int][]bitbucket.Comment
	commentErrs  map[int]error

	mergeOutcomes map[int]bitbucket.MergeOutcome
	mergeErrs     map[int]error
	mergeCalls    map[int]int

	statuses   map[string][]bitbucket.BuildStatus
	statusErrs map[string]error

	// delay stretches each call so concurrent calls overlap.
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeReviews(username string) *fakeReviews {
	return &fakeReviews{
		username:      username,
		descriptions:  make(map[int]string),
		descErrs:      make(map[int]error),
		comments:      make(map[int][]bitbucket.Comment),
		commentErrs:   make(map[int]error),
		mergeOutcomes: make(map[int]bitbucket.MergeOutcome),
		mergeErrs:     make(map[int]error),
		mergeCalls:    make(map[int]int),
		statuses:      make(map[string][]bitbucket.BuildStatus),
		statusErrs:    make(map[string]error),
	}
}

func (f *fakeReviews) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeReviews) exit() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeReviews) OpenPullRequests(ctx context.Context) ([]bitbucket.PullRequest, error) {
	return f.prs, nil
}

func (f *fakeReviews) Username(ctx context.Context) (string, error) {
	return f.username, f.usernameErr
}

func (f *fakeReviews) Description(ctx context.Context, pr bitbucket.PullRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.enter()
	defer f.exit()
	if err := f.descErrs[pr.ID]; err != nil {
		return "", err
	}
	return f.descriptions[pr.ID], nil
}

func (f *fakeReviews) Comments(ctx context.Context, pr bitbucket.PullRequest, author string) ([]bitbucket.Comment, error) {
	f.enter()
	defer f.exit()
	if err := f.commentErrs[pr.ID]; err != nil {
		return nil, err
	}
	var filtered []bitbucket.Comment
	for _, c := range f.comments[pr.ID] {
		if author == "" || c.Author == author {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func (f *fakeReviews) Merge(ctx context.Context, pr bitbucket.PullRequest) (bitbucket.MergeOutcome, error) {
	if err := ctx.Err(); err != nil {
		return bitbucket.OutcomeError, err
	}
	f.enter()
	defer f.exit()
	f.mu.Lock()
	f.mergeCalls[pr.ID]++
	f.mu.Unlock()
	if err := f.mergeErrs[pr.ID]; err != nil {
		return bitbucket.OutcomeError, err
	}
	return f.mergeOutcomes[pr.ID], nil
}

func (f *fakeReviews) BuildStatuses(ctx context.Context, commit string) ([]bitbucket.BuildStatus, error) {
	f.enter()
	defer f.exit()
	if err := f.statusErrs[commit]; err != nil {
		return nil, err
	}
	return f.statuses[commit], nil
}

// fakeBuilds is an in-memory BuildGateway keyed by build URL.
type fakeBuilds struct {
	mu sync.Mutex

	counts     map[string]int
	countErrs  map[string]error
	countCalls map[string]int

	rebuildErrs map[string]error
	rebuilds    []string
}

func newFakeBuilds() *fakeBuilds {
	return &fakeBuilds{
		counts:      make(map[string]int),
		countErrs:   make(map[string]error),
		countCalls:  make(map[string]int),
		rebuildErrs: make(map[string]error),
	}
}

func (f *fakeBuilds) CountBuilds(ctx context.Context, buildURL, commit string) (int, error) {
	f.mu.Lock()
	f.countCalls[buildURL]++
	f.mu.Unlock()
	if err := f.countErrs[buildURL]; err != nil {
		return 0, err
	}
	return f.counts[buildURL], nil
}

func (f *fakeBuilds) Rebuild(ctx context.Context, buildURL string) error {
	if err := f.rebuildErrs[buildURL]; err != nil {
		return err
	}
	f.mu.Lock()
	f.rebuilds = append(f.rebuilds, buildURL)
	f.mu.Unlock()
	return nil
}

func pr(id int, author string, approvedBy ...string) bitbucket.PullRequest {
	return bitbucket.PullRequest{
		ID:         id,
		ProjectKey: "PROJ",
		RepoSlug:   "repo",
		Author:     author,
		ApprovedBy: approvedBy,
		Version:    1,
		Commit:     fmt.Sprintf("commit-%d", id),
		URL:        fmt.Sprintf("https://bitbucket.example.com/projects/PROJ/repos/repo/pull-requests/%d", id),
	}
}
