// Package jenkins talks to the build system behind the build statuses
// Bitbucket reports: re-triggering a failed build with its original
// parameters, and counting how many builds a job has already run for a
// given change. The count substitutes for local persistence: the process
// keeps no retry counters of its own.
package jenkins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
)

// jobURLPattern extracts the job base URL and build number from a build
// URL as reported by Bitbucket, tolerating a trailing slash and the
// "display/redirect" suffix Jenkins appends to notification links.
var jobURLPattern = regexp.MustCompile(`^(.*)/(\d+)(?:/)?(?:display/redirect)?$`)

// Job locates one numbered build within a Jenkins job.
type Job struct {
	// BaseURL is the job URL without the build number.
	BaseURL string
	// BuildID is the numeric build identifier within the job.
	BuildID string
}

// ParseJobURL splits a build URL into the owning job and build number.
func ParseJobURL(buildURL string) (Job, error) {
	m := jobURLPattern.FindStringSubmatch(buildURL)
	if m == nil {
		return Job{}, fmt.Errorf("invalid Jenkins build URL: %s", buildURL)
	}
	return Job{BaseURL: m[1], BuildID: m[2]}, nil
}

// buildAPIURL returns the JSON API URL of the specific build.
func (j Job) buildAPIURL() string {
	return fmt.Sprintf("%s/%s/api/json", j.BaseURL, j.BuildID)
}

// triggerURL returns the parameterized-build trigger URL of the job.
func (j Job) triggerURL() string {
	return j.BaseURL + "/buildWithParameters"
}

// historyURL returns the JSON API URL listing the job's builds with their
// parameters, pruned to the fields the attempt count needs.
func (j Job) historyURL() string {
	return j.BaseURL + "/api/json?tree=" + url.QueryEscape("builds[number,actions[parameters[name,value]]]")
}

// Client is an authenticated Jenkins API client.
type Client struct {
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client using HTTP basic auth. The password may be an
// API token.
func NewClient(username, password string) *Client {
	return &Client{
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Rebuild re-triggers the build at the given URL, re-using the original
// build's string and boolean parameters. Parameters of other types are
// skipped; Jenkins fills their defaults.
func (c *Client) Rebuild(ctx context.Context, buildURL string) error {
	job, err := ParseJobURL(buildURL)
	if err != nil {
		return err
	}

	body, err := c.getJSON(ctx, job.buildAPIURL())
	if err != nil {
		return fmt.Errorf("fetching build %s: %w", buildURL, err)
	}

	params := buildParameters(body)
	trigger := job.triggerURL()
	if len(params) > 0 {
		trigger += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trigger, nil)
	if err != nil {
		return fmt.Errorf("creating rebuild request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("triggering rebuild of %s: %w", buildURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("rebuild of %s returned status %d", buildURL, resp.StatusCode)
	}
	return nil
}

// CountBuilds returns how many builds of the job owning buildURL reference
// the given commit hash in their parameters. Recomputed from Jenkins on
// every call; never cached.
func (c *Client) CountBuilds(ctx context.Context, buildURL, commit string) (int, error) {
	job, err := ParseJobURL(buildURL)
	if err != nil {
		return 0, err
	}

	body, err := c.getJSON(ctx, job.historyURL())
	if err != nil {
		return 0, fmt.Errorf("fetching build history for %s: %w", job.BaseURL, err)
	}

	count := 0
	gjson.GetBytes(body, "builds").ForEach(func(_, build gjson.Result) bool {
		if buildReferencesCommit(build, commit) {
			count++
		}
		return true
	})
	return count, nil
}

// buildReferencesCommit reports whether any parameter of the build carries
// the commit hash as its value.
func buildReferencesCommit(build gjson.Result, commit string) bool {
	found := false
	build.Get("actions").ForEach(func(_, action gjson.Result) bool {
		action.Get("parameters").ForEach(func(_, param gjson.Result) bool {
			if param.Get("value").String() == commit {
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return found
}

// buildParameters extracts string and boolean parameters from a build's
// actions. Jenkins mixes parameter shapes within one array, so the values
// are pulled with gjson rather than a rigid struct.
func buildParameters(body []byte) url.Values {
	params := url.Values{}
	gjson.GetBytes(body, "actions").ForEach(func(_, action gjson.Result) bool {
		action.Get("parameters").ForEach(func(_, param gjson.Result) bool {
			name := param.Get("name").String()
			if name == "" {
				return true
			}
			value := param.Get("value")
			switch value.Type {
			case gjson.String:
				params.Set(name, value.String())
			case gjson.True, gjson.False:
				params.Set(name, value.Raw)
			}
			return true
		})
		return true
	})
	return params
}

// getJSON fetches a Jenkins API URL with basic auth and returns the body.
func (c *Client) getJSON(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jenkins API returned status %d for %s", resp.StatusCode, apiURL)
	}
	return io.ReadAll(resp.Body)
}
