// Package gitlab implements the GitLab issue source and merge request target.
package gitlab

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
	Name = "gitlab"

	gitlabURL    = "https://gitlab.com"
	defaultLabel = "hourglass"
)

// Config configures GitLab access.
type Config struct {
	Enabled  bool     `yaml:"enabled"`
	Token    string   `yaml:"token"`
	BaseURL  string   `yaml:"base_url"`
	Label    string   `yaml:"label"`
	Projects []string `yaml:"projects"` // namespace/project
}

// DefaultConfig returns a disabled GitLab configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: gitlabURL,
		Label:   defaultLabel,
	}
}

// Validate lists missing settings. asSource also requires projects.
func (c *Config) Validate(asSource bool) []string {
	var problems []string
	if c.Token == "" {
		problems = append(problems, "gitlab.token is required")
	}
	if c.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
			problems = append(problems, fmt.Sprintf("gitlab.base_url %q is not a valid URL", c.BaseURL))
		}
	}
	if asSource && len(c.Projects) == 0 {
		problems = append(problems, "gitlab.projects must list at least one namespace/project")
	}
	return problems
}

// Client is a GitLab REST client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. An empty baseURL means gitlab.com.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = gitlabURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Issue is a GitLab issue.
type Issue struct {
	IID         int      `json:"iid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Labels      []string `json:"labels"`
	WebURL      string   `json:"web_url"`
}

// Project is a GitLab project.
type Project struct {
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
	WebURL            string `json:"web_url"`
	HTTPURLToRepo     string `json:"http_url_to_repo"`
	Visibility        string `json:"visibility"`
}

// MergeRequest is a GitLab merge request.
type MergeRequest struct {
	IID          int    `json:"iid"`
	WebURL       string `json:"web_url"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
}

// MergeRequestInput is the body of a create merge request call.
type MergeRequestInput struct {
	SourceBranch       string `json:"source_branch"`
	TargetBranch       string `json:"target_branch"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	RemoveSourceBranch bool   `json:"remove_source_branch"`
}

func projectPath(project string) string {
	return "/api/v4/projects/" + url.PathEscape(project)
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
	req.Header.Set("Accept", "application/json")
	req.Header.Set("PRIVATE-TOKEN", c.token)
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
		pe := provider.NewError(Name, op, provider.KindResponse, fmt.Errorf("API error: %s", strings.TrimSpace(string(respBody))))
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

// ListOpenIssues lists opened issues carrying label, oldest first.
func (c *Client) ListOpenIssues(ctx context.Context, project, label string) ([]*Issue, error) {
	q := url.Values{}
	q.Set("state", "opened")
	q.Set("order_by", "created_at")
	q.Set("sort", "asc")
	q.Set("per_page", "100")
	if label != "" {
		q.Set("labels", label)
	}
	var issues []*Issue
	if err := c.doRequest(ctx, "list_issues", http.MethodGet, projectPath(project)+"/issues?"+q.Encode(), nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// AddIssueNote comments on an issue.
func (c *Client) AddIssueNote(ctx context.Context, project string, iid int, body string) error {
	path := fmt.Sprintf("%s/issues/%d/notes", projectPath(project), iid)
	return c.doRequest(ctx, "add_note", http.MethodPost, path, map[string]string{"body": body}, nil)
}

// UpdateIssue edits labels and state. stateEvent is "", "close" or "reopen".
func (c *Client) UpdateIssue(ctx context.Context, project string, iid int, add, remove []string, stateEvent string) error {
	body := map[string]string{}
	if len(add) > 0 {
		body["add_labels"] = strings.Join(add, ",")
	}
	if len(remove) > 0 {
		body["remove_labels"] = strings.Join(remove, ",")
	}
	if stateEvent != "" {
		body["state_event"] = stateEvent
	}
	if len(body) == 0 {
		return nil
	}
	path := fmt.Sprintf("%s/issues/%d", projectPath(project), iid)
	return c.doRequest(ctx, "update_issue", http.MethodPut, path, body, nil)
}

// GetProject fetches project metadata.
func (c *Client) GetProject(ctx context.Context, project string) (*Project, error) {
	var p Project
	if err := c.doRequest(ctx, "get_project", http.MethodGet, projectPath(project), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CurrentUser checks the token.
func (c *Client) CurrentUser(ctx context.Context) error {
	return c.doRequest(ctx, "get_user", http.MethodGet, "/api/v4/user", nil, nil)
}

// CreateMergeRequest opens a merge request.
func (c *Client) CreateMergeRequest(ctx context.Context, project string, input *MergeRequestInput) (*MergeRequest, error) {
	var mr MergeRequest
	if err := c.doRequest(ctx, "create_merge_request", http.MethodPost, projectPath(project)+"/merge_requests", input, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// FindOpenMergeRequest returns the opened merge request for sourceBranch, or nil.
func (c *Client) FindOpenMergeRequest(ctx context.Context, project, sourceBranch string) (*MergeRequest, error) {
	q := url.Values{}
	q.Set("state", "opened")
	q.Set("source_branch", sourceBranch)
	var mrs []*MergeRequest
	if err := c.doRequest(ctx, "list_merge_requests", http.MethodGet, projectPath(project)+"/merge_requests?"+q.Encode(), nil, &mrs); err != nil {
		return nil, err
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return mrs[0], nil
}

// AddMergeRequestNote comments on a merge request.
func (c *Client) AddMergeRequestNote(ctx context.Context, project string, iid int, body string) error {
	path := fmt.Sprintf("%s/merge_requests/%d/notes", projectPath(project), iid)
	return c.doRequest(ctx, "add_mr_note", http.MethodPost, path, map[string]string{"body": body}, nil)
}

// AcceptMergeRequest merges a merge request.
func (c *Client) AcceptMergeRequest(ctx context.Context, project string, iid int, squash bool) error {
	path := fmt.Sprintf("%s/merge_requests/%d/merge", projectPath(project), iid)
	return c.doRequest(ctx, "merge", http.MethodPut, path, map[string]bool{"squash": squash}, nil)
}

// DeleteBranch deletes a branch. A missing branch is not an error.
func (c *Client) DeleteBranch(ctx context.Context, project, branch string) error {
	path := fmt.Sprintf("%s/repository/branches/%s", projectPath(project), url.PathEscape(branch))
	err := c.doRequest(ctx, "delete_branch", http.MethodDelete, path, nil, nil)
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// HasLabel checks a label case-insensitively.
func HasLabel(issue *Issue, name string) bool {
	for _, l := range issue.Labels {
		if strings.EqualFold(l, name) {
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

func webHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "gitlab.com"
	}
	return u.Hostname()
}

func matchesHost(rawURL, host string) bool {
	if !strings.Contains(rawURL, "://") {
		// scp-like remote: git@gitlab.com:group/project.git
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
