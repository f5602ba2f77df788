// Package buildkite provides a client for the Buildkite REST API and the
// Test Analytics API. It covers the small surface the scanner needs: listing
// builds, fetching build details with jobs, downloading raw job logs, and
// reading per-test run history.
package buildkite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for Buildkite API failures.
var (
	// ErrMissingToken indicates no API token was configured.
	ErrMissingToken = errors.New("buildkite API token not set")

	// ErrNotFound indicates the requested resource does not exist or the
	// token cannot see it.
	ErrNotFound = errors.New("buildkite resource not found")

	// ErrRateLimited indicates the API rejected the request with HTTP 429.
	ErrRateLimited = errors.New("buildkite rate limit exceeded")
)

// maxErrorBodyLength bounds how much of an error response body is carried
// into error messages.
const maxErrorBodyLength = 512

// perPageMax is the API's hard cap on page size.
const perPageMax = 100

// Client talks to the Buildkite REST and Test Analytics APIs. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
}

// ListBuildsOptions filters a ListBuilds call. Zero values are omitted from
// the request.
type ListBuildsOptions struct {
	Branch string
	State  string
	Limit  int
}

// NewClient creates a Buildkite API client from the given config.
//
// Returns ErrMissingToken when no token is configured.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	cfg = cfg.applyDefaults()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.LogTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		config:     cfg,
	}, nil
}

// ListBuilds returns builds for a pipeline, newest first.
//
// The pipeline reference may carry an organization prefix ("vllm/ci") or be a
// bare slug ("ci"), in which case the configured default organization is used.
func (c *Client) ListBuilds(ctx context.Context, pipeline string, opts ListBuildsOptions) ([]Build, error) {
	org, pipe := c.splitPipeline(pipeline)

	params := url.Values{}
	params.Set("per_page", strconv.Itoa(clampPerPage(opts.Limit)))

	if opts.Branch != "" {
		params.Set("branch", opts.Branch)
	}

	if opts.State != "" {
		params.Set("state", opts.State)
	}

	endpoint := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds?%s",
		c.config.BaseURL, org, pipe, params.Encode())

	var builds []Build
	if err := c.getJSON(ctx, endpoint, c.config.Timeout, &builds); err != nil {
		return nil, fmt.Errorf("list builds for %s: %w", pipeline, err)
	}

	return builds, nil
}

// GetBuild returns full build details including the jobs array.
func (c *Client) GetBuild(ctx context.Context, pipeline string, buildNumber int) (*Build, error) {
	org, pipe := c.splitPipeline(pipeline)

	endpoint := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds/%d",
		c.config.BaseURL, org, pipe, buildNumber)

	var build Build
	if err := c.getJSON(ctx, endpoint, c.config.Timeout, &build); err != nil {
		return nil, fmt.Errorf("get build %s#%d: %w", pipeline, buildNumber, err)
	}

	return &build, nil
}

// GetJobLog downloads the raw log text for a job. The log endpoint returns
// plain text and can be large, so the longer log timeout applies.
func (c *Client) GetJobLog(ctx context.Context, pipeline string, buildNumber int, jobID string) (string, error) {
	org, pipe := c.splitPipeline(pipeline)

	endpoint := fmt.Sprintf("%s/organizations/%s/pipelines/%s/builds/%d/jobs/%s/log",
		c.config.BaseURL, org, pipe, buildNumber, jobID)

	body, err := c.get(ctx, endpoint, c.config.LogTimeout, "text/plain")
	if err != nil {
		return "", fmt.Errorf("get log for job %s in %s#%d: %w", jobID, pipeline, buildNumber, err)
	}

	return string(body), nil
}

// ListAnalyticsTests fetches tests from the Test Analytics API for a suite.
//
// Order accepts the API's sort keys ("recently_failed", "slowest") and state
// accepts its filters ("flaky", "failed"); empty strings are omitted.
func (c *Client) ListAnalyticsTests(ctx context.Context, suiteSlug, order, state string, limit int) ([]AnalyticsTest, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(clampPerPage(limit)))

	if order != "" {
		params.Set("order", order)
	}

	if state != "" {
		params.Set("state", state)
	}

	endpoint := fmt.Sprintf("%s/analytics/organizations/%s/suites/%s/tests?%s",
		c.config.BaseURL, c.config.OrgSlug, suiteSlug, params.Encode())

	var tests []AnalyticsTest
	if err := c.getJSON(ctx, endpoint, c.config.Timeout, &tests); err != nil {
		return nil, fmt.Errorf("list analytics tests for suite %s: %w", suiteSlug, err)
	}

	return tests, nil
}

// GetAnalyticsTestRuns returns the run history for one test, most recent
// first.
func (c *Client) GetAnalyticsTestRuns(ctx context.Context, suiteSlug, testID string, limit int) ([]TestRun, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(clampPerPage(limit)))

	endpoint := fmt.Sprintf("%s/analytics/organizations/%s/suites/%s/tests/%s/runs?%s",
		c.config.BaseURL, c.config.OrgSlug, suiteSlug, testID, params.Encode())

	var runs []TestRun
	if err := c.getJSON(ctx, endpoint, c.config.Timeout, &runs); err != nil {
		return nil, fmt.Errorf("get runs for test %s in suite %s: %w", testID, suiteSlug, err)
	}

	return runs, nil
}

// getJSON issues a GET request and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, timeout time.Duration, out any) error {
	body, err := c.get(ctx, endpoint, timeout, "application/json")
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// get issues a rate-limited, authenticated GET request and returns the
// response body.
func (c *Client) get(ctx context.Context, endpoint string, timeout time.Duration, accept string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}

	return body, nil
}

// splitPipeline resolves a pipeline reference into organization and pipeline
// slugs.
func (c *Client) splitPipeline(pipeline string) (org, pipe string) {
	if before, after, found := strings.Cut(pipeline, "/"); found {
		return before, after
	}

	return c.config.OrgSlug, pipeline
}

func clampPerPage(limit int) int {
	if limit <= 0 || limit > perPageMax {
		return perPageMax
	}

	return limit
}

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyLength {
		return text[:maxErrorBodyLength] + "..."
	}

	return text
}
