// Package github is the repository-service adapter. It speaks the GitHub
// REST v3 API over a single authenticated HTTP client; transient failures
// (429, 5xx, network) retry with jittered exponential backoff, other 4xx
// propagate to the caller.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const githubAPIURL = "https://api.github.com"

// Client is the upstream API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string // For testing - defaults to githubAPIURL
}

// NewClient creates a new client authenticated with a personal access token
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: githubAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a new client with a custom base URL (for testing)
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		token:   token,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// doRequest performs an HTTP request against the upstream API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				return fmt.Errorf("%w (Retry-After: %s)", apiErr, ra)
			}
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// GetRepository fetches repository info. A 404 means the repo is gone or the
// token lost access; callers detect that with IsNotFound.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	return WithRetry(ctx, func() (*Repository, error) {
		path := fmt.Sprintf("/repos/%s/%s", owner, repo)
		var repository Repository
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &repository); err != nil {
			return nil, err
		}
		return &repository, nil
	}, DefaultRetryOptions())
}

// GetIssue fetches an issue by owner, repo, and number
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	return WithRetry(ctx, func() (*Issue, error) {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
		var issue Issue
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
			return nil, err
		}
		return &issue, nil
	}, DefaultRetryOptions())
}

// ListIssues lists issues for a repository with optional filters.
// Labels are filtered case-insensitively in Go code after fetching, because
// the upstream label query is case-sensitive.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts *ListIssuesOptions) ([]*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues?", owner, repo)

	params := []string{}
	var filterLabels []string
	if opts != nil {
		filterLabels = opts.Labels
		if opts.State != "" {
			params = append(params, "state="+opts.State)
		}
		if opts.Sort != "" {
			params = append(params, "sort="+opts.Sort)
		}
		if !opts.Since.IsZero() {
			params = append(params, "since="+opts.Since.Format(time.RFC3339))
		}
	}
	path += strings.Join(params, "&")

	issues, err := WithRetry(ctx, func() ([]*Issue, error) {
		var issues []*Issue
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &issues); err != nil {
			return nil, err
		}
		return issues, nil
	}, DefaultRetryOptions())
	if err != nil {
		return nil, err
	}

	if len(filterLabels) > 0 {
		var filtered []*Issue
		for _, issue := range issues {
			hasAll := true
			for _, want := range filterLabels {
				if !HasLabel(issue, want) {
					hasAll = false
					break
				}
			}
			if hasAll {
				filtered = append(filtered, issue)
			}
		}
		return filtered, nil
	}

	return issues, nil
}

// HasLabel checks if an issue has a specific label (case-insensitive)
func HasLabel(issue *Issue, labelName string) bool {
	for _, label := range issue.Labels {
		if strings.EqualFold(label.Name, labelName) {
			return true
		}
	}
	return false
}

// AddComment adds a comment to an issue or pull request
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	return WithRetry(ctx, func() (*Comment, error) {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
		reqBody := map[string]string{"body": body}
		var comment Comment
		if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &comment); err != nil {
			return nil, err
		}
		return &comment, nil
	}, DefaultRetryOptions())
}

// AddLabels adds labels to an issue
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, number)
		reqBody := map[string][]string{"labels": labels}
		return c.doRequest(ctx, http.MethodPost, path, reqBody, nil)
	}, DefaultRetryOptions())
}

// RemoveLabel removes a label from an issue. A 404 is tolerated; the label
// may already be gone.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", owner, repo, number, url.PathEscape(label))
		err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
		if IsNotFound(err) {
			return nil
		}
		return err
	}, DefaultRetryOptions())
}

// CloseIssue closes an issue
func (c *Client) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
		reqBody := map[string]string{"state": StateClosed}
		return c.doRequest(ctx, http.MethodPatch, path, reqBody, nil)
	}, DefaultRetryOptions())
}

// CreatePullRequest creates a new pull request
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, input *PullRequestInput) (*PullRequest, error) {
	return WithRetry(ctx, func() (*PullRequest, error) {
		path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
		var result PullRequest
		if err := c.doRequest(ctx, http.MethodPost, path, input, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}, DefaultRetryOptions())
}

// GetPullRequest fetches a pull request by number
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	return WithRetry(ctx, func() (*PullRequest, error) {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
		var result PullRequest
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}, DefaultRetryOptions())
}

// FindPRByBranch returns the open pull request whose head is the given
// branch, or nil when none exists.
func (c *Client) FindPRByBranch(ctx context.Context, owner, repo, branch string) (*PullRequest, error) {
	return WithRetry(ctx, func() (*PullRequest, error) {
		path := fmt.Sprintf("/repos/%s/%s/pulls?state=open&head=%s", owner, repo, url.QueryEscape(owner+":"+branch))
		var prs []*PullRequest
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &prs); err != nil {
			return nil, err
		}
		if len(prs) == 0 {
			return nil, nil
		}
		return prs[0], nil
	}, DefaultRetryOptions())
}

// MergePullRequest merges a pull request.
// method can be "merge", "squash", or "rebase" (use MergeMethod* constants);
// commitTitle is optional.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, method, commitTitle string) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
		body := map[string]string{"merge_method": method}
		if commitTitle != "" {
			body["commit_title"] = commitTitle
		}
		return c.doRequest(ctx, http.MethodPut, path, body, nil)
	}, DefaultRetryOptions())
}

// ClosePullRequest closes a pull request without merging
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
		payload := map[string]string{"state": "closed"}
		return c.doRequest(ctx, http.MethodPatch, path, payload, nil)
	}, DefaultRetryOptions())
}

// ListPullRequestReviews lists all reviews for a pull request
func (c *Client) ListPullRequestReviews(ctx context.Context, owner, repo string, number int) ([]*PullRequestReview, error) {
	return WithRetry(ctx, func() ([]*PullRequestReview, error) {
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number)
		var result []*PullRequestReview
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		return result, nil
	}, DefaultRetryOptions())
}

// LatestReviewStates returns each user's most recent review, keyed by login.
// Reviews arrive oldest first, so later entries overwrite earlier ones.
func LatestReviewStates(reviews []*PullRequestReview) map[string]*PullRequestReview {
	latest := make(map[string]*PullRequestReview)
	for _, review := range reviews {
		latest[review.User.Login] = review
	}
	return latest
}

// GetCombinedStatus gets the combined commit status for a SHA
func (c *Client) GetCombinedStatus(ctx context.Context, owner, repo, sha string) (*CombinedStatus, error) {
	return WithRetry(ctx, func() (*CombinedStatus, error) {
		path := fmt.Sprintf("/repos/%s/%s/commits/%s/status", owner, repo, sha)
		var status CombinedStatus
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &status); err != nil {
			return nil, err
		}
		return &status, nil
	}, DefaultRetryOptions())
}

// ListCheckRuns lists check runs for a commit SHA
func (c *Client) ListCheckRuns(ctx context.Context, owner, repo, sha string) (*CheckRunsResponse, error) {
	return WithRetry(ctx, func() (*CheckRunsResponse, error) {
		path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", owner, repo, sha)
		var result CheckRunsResponse
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}, DefaultRetryOptions())
}

// DeleteBranch deletes a branch. 404 (never existed) and 422 (already
// deleted) are success cases for cleanup.
func (c *Client) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, url.PathEscape(branch))
		err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
		if IsNotFound(err) || isUnprocessableError(err) {
			return nil
		}
		return err
	}, DefaultRetryOptions())
}

// IsNotFound reports whether err is an upstream 404
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "API error (status 404")
}

// isUnprocessableError reports whether err is an upstream 422
func isUnprocessableError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "API error (status 422")
}
