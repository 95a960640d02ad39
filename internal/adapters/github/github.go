// Package github implements the GitHub issue source and pull request target.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alekspetrov/hourglass/internal/provider"
)

const (
	// Name is the provider name used in configuration.
	Name = "github"

	githubAPIURL = "https://api.github.com"
	defaultLabel = "hourglass"
)

// Config configures GitHub access.
//
// Example YAML configuration:
//
//	ticket_sources:
//	  github:
//	    enabled: true
//	    token: ${GITHUB_TOKEN}
//	    label: hourglass
//	    repositories: [acme/api, acme/web]
type Config struct {
	Enabled      bool     `yaml:"enabled"`
	Token        string   `yaml:"token"`
	APIURL       string   `yaml:"api_url"`
	Label        string   `yaml:"label"`
	Repositories []string `yaml:"repositories"`
}

// DefaultConfig returns a disabled GitHub configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL: githubAPIURL,
		Label:  defaultLabel,
	}
}

// Validate lists missing settings. asSource also requires repositories.
func (c *Config) Validate(asSource bool) []string {
	var problems []string
	if c.Token == "" {
		problems = append(problems, "github.token is required")
	}
	if c.APIURL != "" {
		if _, err := url.ParseRequestURI(c.APIURL); err != nil {
			problems = append(problems, fmt.Sprintf("github.api_url %q is not a valid URL", c.APIURL))
		}
	}
	if asSource {
		if len(c.Repositories) == 0 {
			problems = append(problems, "github.repositories must list at least one owner/repo")
		}
		for _, r := range c.Repositories {
			if _, _, err := splitRepo(r); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	return problems
}

// Client is a minimal GitHub REST client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. An empty baseURL means api.github.com.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = githubAPIURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Issue is a GitHub issue.
type Issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	Labels      []Label   `json:"labels"`
	HTMLURL     string    `json:"html_url"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label is a GitHub label.
type Label struct {
	Name string `json:"name"`
}

// Repository is a GitHub repository.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	Private       bool   `json:"private"`
}

// PullRequest is a GitHub pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Head    struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

// PullRequestInput is the body of a create pull request call.
type PullRequestInput struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
	Draft bool   `json:"draft,omitempty"`
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return provider.NewError(Name, op, provider.KindPayload, fmt.Errorf("failed to marshal request body: %w", err))
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return provider.NewError(Name, op, provider.KindNetwork, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NewError(Name, op, provider.KindNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewError(Name, op, provider.KindNetwork, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := provider.NewError(Name, op, provider.KindResponse, fmt.Errorf("API error: %s", truncate(string(respBody), 300)))
		pe.StatusCode = resp.StatusCode
		return pe
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return provider.NewError(Name, op, provider.KindPayload, fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return nil
}

// ListOpenIssues lists open issues carrying label (case-insensitive).
// Pull requests returned by the issues endpoint are skipped.
func (c *Client) ListOpenIssues(ctx context.Context, owner, repo, label string) ([]*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues?state=open&sort=created&direction=asc&per_page=100", owner, repo)
	var issues []*Issue
	if err := c.doRequest(ctx, "list_issues", http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}

	var out []*Issue
	for _, issue := range issues {
		if issue.PullRequest != nil {
			continue
		}
		if label == "" || HasLabel(issue, label) {
			out = append(out, issue)
		}
	}
	return out, nil
}

// AddComment comments on an issue or pull request.
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	return c.doRequest(ctx, "add_comment", http.MethodPost, path, map[string]string{"body": body}, nil)
}

// AddLabels adds labels to an issue.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, number)
	return c.doRequest(ctx, "add_labels", http.MethodPost, path, map[string][]string{"labels": labels}, nil)
}

// RemoveLabel removes a label. A missing label is not an error.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", owner, repo, number, url.PathEscape(label))
	err := c.doRequest(ctx, "remove_label", http.MethodDelete, path, nil, nil)
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// UpdateIssueState sets an issue to "open" or "closed".
func (c *Client) UpdateIssueState(ctx context.Context, owner, repo string, number int, state string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	return c.doRequest(ctx, "update_issue", http.MethodPatch, path, map[string]string{"state": state}, nil)
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var r Repository
	if err := c.doRequest(ctx, "get_repository", http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetAuthenticatedUser checks the token.
func (c *Client) GetAuthenticatedUser(ctx context.Context) (string, error) {
	var u struct {
		Login string `json:"login"`
	}
	if err := c.doRequest(ctx, "get_user", http.MethodGet, "/user", nil, &u); err != nil {
		return "", err
	}
	return u.Login, nil
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, input *PullRequestInput) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	if err := c.doRequest(ctx, "create_pull_request", http.MethodPost, path, input, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// FindOpenPullRequest returns the open pull request for head, or nil.
func (c *Client) FindOpenPullRequest(ctx context.Context, owner, repo, head string) (*PullRequest, error) {
	var prs []*PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=open&head=%s", owner, repo, url.QueryEscape(owner+":"+head))
	if err := c.doRequest(ctx, "list_pull_requests", http.MethodGet, path, nil, &prs); err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

// MergePullRequest merges with method merge, squash or rebase.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) error {
	if method == "" {
		method = "squash"
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", owner, repo, number)
	return c.doRequest(ctx, "merge", http.MethodPut, path, map[string]string{"merge_method": method}, nil)
}

// DeleteBranch deletes a branch. Already-deleted branches are not an error.
func (c *Client) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	path := fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, url.PathEscape(branch))
	err := c.doRequest(ctx, "delete_branch", http.MethodDelete, path, nil, nil)
	if s := statusOf(err); s == http.StatusNotFound || s == http.StatusUnprocessableEntity {
		return nil
	}
	return err
}

// HasLabel checks a label case-insensitively.
func HasLabel(issue *Issue, name string) bool {
	for _, l := range issue.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func splitRepo(full string) (string, string, error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q must be owner/repo", full)
	}
	return parts[0], parts[1], nil
}

// webHost maps the API URL to the host that appears in issue and repo URLs.
func webHost(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "github.com"
	}
	if u.Host == "api.github.com" {
		return "github.com"
	}
	return u.Host
}

func matchesHost(rawURL, host string) bool {
	if !strings.Contains(rawURL, "://") {
		// scp-like remote: git@github.com:owner/repo.git
		at := strings.Index(rawURL, "@")
		colon := strings.Index(rawURL, ":")
		if at >= 0 && colon > at {
			return strings.EqualFold(rawURL[at+1:colon], host)
		}
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), host)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
