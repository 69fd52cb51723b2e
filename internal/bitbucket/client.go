// Package bitbucket is a typed REST client for the subset of the Bitbucket
// Server API the scan cycle needs: listing open pull requests, fetching
// descriptions and comments, attempting merges, and reading build statuses.
package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrAuthExpired indicates the API token was rejected. Callers can check
// for this with errors.Is to abort a cycle early instead of issuing a
// doomed request per candidate.
var ErrAuthExpired = fmt.Errorf("bitbucket authentication rejected, check BITBUCKET_API_TOKEN")

const (
	apiBase   = "/rest/api/1.0"
	buildBase = "/rest/build-status/1.0"
	pageLimit = 100
)

// Client talks to a single Bitbucket Server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given server base URL. The token is
// attached to every request as a Bearer credential via an oauth2 static
// token transport.
func NewClient(baseURL, token string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = 60 * time.Second
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// OpenPullRequests lists all open pull requests visible on the running
// identity's dashboard, traversing every page.
func (c *Client) OpenPullRequests(ctx context.Context) ([]PullRequest, error) {
	params := url.Values{}
	params.Set("state", "OPEN")

	raw, err := c.getPaged(ctx, apiBase+"/dashboard/pull-requests", params)
	if err != nil {
		return nil, fmt.Errorf("listing open pull requests: %w", err)
	}

	prs := make([]PullRequest, 0, len(raw))
	for _, msg := range raw {
		var rest restPullRequest
		if err := json.Unmarshal(msg, &rest); err != nil {
			return nil, fmt.Errorf("decoding pull request: %w", err)
		}
		prs = append(prs, mapPullRequest(rest))
	}
	return prs, nil
}

// Username returns the username the API token authenticates as.
func (c *Client) Username(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/plugins/servlet/applinks/whoami", nil)
	if err != nil {
		return "", fmt.Errorf("fetching username: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.parseError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading username response: %w", err)
	}
	name := strings.TrimSpace(string(body))
	if name == "" {
		return "", fmt.Errorf("server returned an empty username")
	}
	return name, nil
}

// Description fetches the current description text of a pull request.
func (c *Client) Description(ctx context.Context, pr PullRequest) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.prPath(pr, ""), nil)
	if err != nil {
		return "", fmt.Errorf("fetching PR %d description: %w", pr.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.parseError(resp)
	}
	var rest restPullRequest
	if err := json.NewDecoder(resp.Body).Decode(&rest); err != nil {
		return "", fmt.Errorf("decoding PR %d: %w", pr.ID, err)
	}
	return rest.Description, nil
}

// Comments returns the comments on a pull request in activity order. When
// author is non-empty only comments authored by that username are returned.
func (c *Client) Comments(ctx context.Context, pr PullRequest, author string) ([]Comment, error) {
	raw, err := c.getPaged(ctx, c.prPath(pr, "/activities"), url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetching PR %d activities: %w", pr.ID, err)
	}

	var comments []Comment
	for _, msg := range raw {
		var act restActivity
		if err := json.Unmarshal(msg, &act); err != nil {
			return nil, fmt.Errorf("decoding PR %d activity: %w", pr.ID, err)
		}
		if act.Action != "COMMENTED" || act.Comment == nil {
			continue
		}
		if author != "" && act.Comment.Author.Name != author {
			continue
		}
		comments = append(comments, Comment{
			Author: act.Comment.Author.Name,
			Text:   act.Comment.Text,
		})
	}
	return comments, nil
}

// Merge attempts to merge a pull request. The server's merge precheck runs
// first so a veto (conflict, failed required build) is reported without
// consuming the POST. One call means at most one merge attempt; retrying is
// the next cycle's job.
func (c *Client) Merge(ctx context.Context, pr PullRequest) (MergeOutcome, error) {
	check, err := c.mergeCheck(ctx, pr)
	if err != nil {
		return OutcomeError, err
	}
	if !check.CanMerge {
		for _, veto := range check.Vetoes {
			slog.Info("merge vetoed", "pr", pr.URL, "reason", veto.SummaryMessage)
		}
		return OutcomeConflict, nil
	}

	params := url.Values{}
	params.Set("version", strconv.Itoa(pr.Version))
	path := c.prPath(pr, "/merge") + "?" + params.Encode()

	resp, err := c.doRequest(ctx, http.MethodPost, path, struct{}{})
	if err != nil {
		return OutcomeError, fmt.Errorf("merging PR %d: %w", pr.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return OutcomeMerged, nil
	case resp.StatusCode == http.StatusConflict:
		if isAlreadyMerged(resp) {
			return OutcomeAlreadyMerged, nil
		}
		return OutcomeConflict, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return OutcomeForbidden, nil
	default:
		return OutcomeError, c.parseError(resp)
	}
}

// BuildStatuses lists the build statuses attached to a commit hash.
func (c *Client) BuildStatuses(ctx context.Context, commit string) ([]BuildStatus, error) {
	raw, err := c.getPaged(ctx, buildBase+"/commits/"+url.PathEscape(commit), url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetching build statuses for %s: %w", commit, err)
	}

	builds := make([]BuildStatus, 0, len(raw))
	for _, msg := range raw {
		var rest restBuildStatus
		if err := json.Unmarshal(msg, &rest); err != nil {
			return nil, fmt.Errorf("decoding build status: %w", err)
		}
		name := rest.Name
		if name == "" {
			// Older servers only report the build key.
			name = rest.Key
		}
		builds = append(builds, BuildStatus{
			Name:  name,
			State: rest.State,
			URL:   rest.URL,
		})
	}
	return builds, nil
}

// mergeCheck runs the server-side merge precheck for a pull request.
func (c *Client) mergeCheck(ctx context.Context, pr PullRequest) (*restMergeCheck, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.prPath(pr, "/merge"), nil)
	if err != nil {
		return nil, fmt.Errorf("merge precheck for PR %d: %w", pr.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}
	var check restMergeCheck
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return nil, fmt.Errorf("decoding merge precheck for PR %d: %w", pr.ID, err)
	}
	return &check, nil
}

// prPath builds the REST path for a pull request, with an optional suffix
// such as "/merge" or "/activities".
func (c *Client) prPath(pr PullRequest, suffix string) string {
	return fmt.Sprintf("%s/projects/%s/repos/%s/pull-requests/%d%s",
		apiBase, url.PathEscape(pr.ProjectKey), url.PathEscape(pr.RepoSlug), pr.ID, suffix)
}

// getPaged traverses a paged collection endpoint, following nextPageStart
// until the server reports the last page.
func (c *Client) getPaged(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	var values []json.RawMessage
	params.Set("limit", strconv.Itoa(pageLimit))
	start := 0

	for {
		params.Set("start", strconv.Itoa(start))
		resp, err := c.doRequest(ctx, http.MethodGet, path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			IsLastPage    bool              `json:"isLastPage"`
			NextPageStart *int              `json:"nextPageStart"`
			Values        []json.RawMessage `json:"values"`
		}
		if resp.StatusCode != http.StatusOK {
			err := c.parseError(resp)
			resp.Body.Close()
			return nil, err
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decoding page of %s: %w", path, err)
		}
		resp.Body.Close()

		values = append(values, page.Values...)
		if page.IsLastPage || page.NextPageStart == nil {
			return values, nil
		}
		start = *page.NextPageStart
	}
}

// doRequest makes an authenticated request. It retries on 429 with
// exponential backoff and surfaces ErrAuthExpired on 401 so callers can
// short-circuit the cycle.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	fullURL := c.baseURL + path

	const maxRetries = 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			jsonBytes, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshaling request body: %w", err)
			}
			bodyReader = bytes.NewReader(jsonBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, ErrAuthExpired
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited. Close the body and retry.
		resp.Body.Close()
		if attempt == maxRetries {
			return nil, fmt.Errorf("rate limited after %d retries", maxRetries)
		}

		delay := retryDelay(resp, attempt)
		slog.Warn("rate limited by Bitbucket, retrying", "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("unexpected: exhausted retries")
}

// retryDelay honors the Retry-After header when present, otherwise backs
// off exponentially from one second.
func retryDelay(resp *http.Response, attempt int) time.Duration {
	if after := resp.Header.Get("Retry-After"); after != "" {
		if seconds, err := strconv.Atoi(after); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// parseError turns a non-2xx response into an error carrying the server's
// message when the body is the standard error envelope.
func (c *Client) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bitbucket API error (status %d): could not read response body", resp.StatusCode)
	}

	var restErr restError
	if err := json.Unmarshal(body, &restErr); err != nil || len(restErr.Errors) == 0 {
		truncated := string(body)
		if len(truncated) > 200 {
			truncated = truncated[:200] + "... (truncated)"
		}
		return fmt.Errorf("bitbucket API error (status %d): %s", resp.StatusCode, truncated)
	}

	first := restErr.Errors[0]
	return fmt.Errorf("bitbucket API error (status %d, %s): %s", resp.StatusCode, first.ExceptionName, first.Message)
}

// isAlreadyMerged inspects a 409 response body for the already-merged
// exception. The body is consumed.
func isAlreadyMerged(resp *http.Response) bool {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	var restErr restError
	if err := json.Unmarshal(body, &restErr); err != nil {
		return false
	}
	for _, e := range restErr.Errors {
		if strings.Contains(e.ExceptionName, "AlreadyMerged") {
			return true
		}
	}
	return false
}

// mapPullRequest converts the REST representation into the domain snapshot.
func mapPullRequest(rest restPullRequest) PullRequest {
	var approved []string
	for _, r := range rest.Reviewers {
		if r.Approved {
			approved = append(approved, r.User.Name)
		}
	}

	var webURL string
	if len(rest.Links.Self) > 0 {
		webURL = rest.Links.Self[0].Href
	}

	return PullRequest{
		ID:         rest.ID,
		ProjectKey: rest.ToRef.Repository.Project.Key,
		RepoSlug:   rest.ToRef.Repository.Slug,
		Title:      rest.Title,
		Author:     rest.Author.User.Name,
		ApprovedBy: approved,
		Version:    rest.Version,
		Commit:     rest.FromRef.LatestCommit,
		URL:        webURL,
	}
}
