package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// GitHub REST API defaults.
const (
	DefaultAPIEndpoint = "https://api.github.com"
	DefaultTimeout     = 30 * time.Second

	maxResponseSize = 10 * 1024 * 1024
	maxRetryElapsed = 2 * time.Minute
)

// Client implements Substrate against the GitHub REST API.
type Client struct {
	Token      string
	Owner      string
	Repo       string
	BaseURL    string
	HTTPClient *http.Client
}

var _ Substrate = (*Client)(nil)

// NewClient creates a new GitHub substrate client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		Owner:      c.Owner,
		Repo:       c.Repo,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// apiError is a non-2xx response. Client errors other than rate limits are
// permanent; retrying them cannot help.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error: %s (status %d)", e.Body, e.Status)
}

// doRequest performs an authenticated request with exponential-backoff
// retry on transport failures and rate limits.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte
	var respHeader http.Header

	attempt := func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		// GitHub rate limits via 429, or 403 with X-RateLimit-Remaining: 0.
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			return fmt.Errorf("rate limited (status %d)", resp.StatusCode)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &apiError{Status: resp.StatusCode, Body: string(data)}
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		respBody = data
		respHeader = resp.Header
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxRetryElapsed
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return nil, nil, err
	}
	return respBody, respHeader, nil
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageURL checks the Link header for a next page URL.
func nextPageURL(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	m := linkNextPattern.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// issuePayload is the wire shape of a GitHub issue.
type issuePayload struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (p *issuePayload) toIssue() *Issue {
	issue := &Issue{
		Number: p.Number,
		Title:  p.Title,
		Body:   p.Body,
		State:  p.State,
	}
	for _, a := range p.Assignees {
		issue.Assignees = append(issue.Assignees, a.Login)
	}
	for _, l := range p.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue
}

// GetIssue fetches the issue body and assignee list.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	u := fmt.Sprintf("%s/repos/%s/issues/%d", c.BaseURL, c.repoPath(), number)
	data, _, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, wrapErr("get issue", err)
	}
	var payload issuePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, wrapErr("get issue", fmt.Errorf("decode: %w", err))
	}
	return payload.toIssue(), nil
}

// AddAssignee adds a user to the issue's assignee set. This is the only
// primitive the claim protocol can use as a mutex; the storage layer is
// assumed, not guaranteed, to apply it close to atomically.
func (c *Client) AddAssignee(ctx context.Context, number int, user string) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d/assignees", c.BaseURL, c.repoPath(), number)
	_, _, err := c.doRequest(ctx, http.MethodPost, u, map[string][]string{"assignees": {user}})
	return wrapErr("add assignee", err)
}

// RemoveAssignee removes a user from the issue's assignee set.
func (c *Client) RemoveAssignee(ctx context.Context, number int, user string) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d/assignees", c.BaseURL, c.repoPath(), number)
	_, _, err := c.doRequest(ctx, http.MethodDelete, u, map[string][]string{"assignees": {user}})
	return wrapErr("remove assignee", err)
}

// UpdateIssueBody replaces the issue body.
func (c *Client) UpdateIssueBody(ctx context.Context, number int, body string) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d", c.BaseURL, c.repoPath(), number)
	_, _, err := c.doRequest(ctx, http.MethodPatch, u, map[string]string{"body": body})
	return wrapErr("update issue body", err)
}

// PostComment posts a comment on the issue thread.
func (c *Client) PostComment(ctx context.Context, number int, text string) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.BaseURL, c.repoPath(), number)
	_, _, err := c.doRequest(ctx, http.MethodPost, u, map[string]string{"body": text})
	return wrapErr("post comment", err)
}

// AddLabel adds a label to the issue.
func (c *Client) AddLabel(ctx context.Context, number int, label string) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d/labels", c.BaseURL, c.repoPath(), number)
	_, _, err := c.doRequest(ctx, http.MethodPost, u, map[string][]string{"labels": {label}})
	return wrapErr("add label", err)
}

// RemoveLabel removes a label from the issue. A 404 (label not present) is
// not an error worth surfacing.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d/labels/%s", c.BaseURL, c.repoPath(), number, url.PathEscape(label))
	_, _, err := c.doRequest(ctx, http.MethodDelete, u, nil)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil
		}
		return wrapErr("remove label", err)
	}
	return nil
}

// CloseIssue closes the issue.
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	u := fmt.Sprintf("%s/repos/%s/issues/%d", c.BaseURL, c.repoPath(), number)
	_, _, err := c.doRequest(ctx, http.MethodPatch, u, map[string]string{"state": "closed"})
	return wrapErr("close issue", err)
}

// ListRemoteBranches lists branch names on the repository, following
// pagination.
func (c *Client) ListRemoteBranches(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/repos/%s/branches?per_page=100", c.BaseURL, c.repoPath())
	var names []string
	for u != "" {
		data, headers, err := c.doRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, wrapErr("list branches", err)
		}
		var page []struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, wrapErr("list branches", fmt.Errorf("decode: %w", err))
		}
		for _, b := range page {
			names = append(names, b.Name)
		}
		next, ok := nextPageURL(headers)
		if !ok {
			break
		}
		u = next
	}
	return names, nil
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	u := fmt.Sprintf("%s/repos/%s/pulls", c.BaseURL, c.repoPath())
	data, _, err := c.doRequest(ctx, http.MethodPost, u, map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	})
	if err != nil {
		return nil, wrapErr("create pull request", err)
	}
	var payload struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, wrapErr("create pull request", fmt.Errorf("decode: %w", err))
	}
	return &PullRequest{Number: payload.Number, URL: payload.HTMLURL}, nil
}

// RequestReviewers requests reviews on a pull request.
func (c *Client) RequestReviewers(ctx context.Context, prNumber int, users []string) error {
	u := fmt.Sprintf("%s/repos/%s/pulls/%d/requested_reviewers", c.BaseURL, c.repoPath(), prNumber)
	_, _, err := c.doRequest(ctx, http.MethodPost, u, map[string][]string{"reviewers": users})
	return wrapErr("request reviewers", err)
}

// ListCollaborators lists collaborators with write (push) access.
func (c *Client) ListCollaborators(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/repos/%s/collaborators?permission=push&per_page=100", c.BaseURL, c.repoPath())
	var logins []string
	for u != "" {
		data, headers, err := c.doRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, wrapErr("list collaborators", err)
		}
		var page []struct {
			Login string `json:"login"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, wrapErr("list collaborators", fmt.Errorf("decode: %w", err))
		}
		for _, collab := range page {
			logins = append(logins, collab.Login)
		}
		next, ok := nextPageURL(headers)
		if !ok {
			break
		}
		u = next
	}
	return logins, nil
}
