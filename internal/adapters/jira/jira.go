// Package jira implements a Jira ticket source.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alekspetrov/hourglass/internal/provider"
)

// Name is the provider name used in configuration.
const Name = "jira"

// Platform types
const (
	PlatformCloud  = "cloud"
	PlatformServer = "server"
)

const defaultJQL = `labels = hourglass AND statusCategory != Done ORDER BY created ASC`

// Config holds Jira source configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Platform string `yaml:"platform"` // "cloud" or "server"
	BaseURL  string `yaml:"base_url"` // e.g. https://acme.atlassian.net
	Username string `yaml:"username"` // email for Cloud, username for Server
	APIToken string `yaml:"api_token"`
	JQL      string `yaml:"jql"`
	// Transitions maps a ticket status (analyzing, completed, ...) to the
	// Jira workflow status or transition name to move the issue to.
	Transitions map[string]string `yaml:"transitions"`
}

// DefaultConfig returns a disabled Jira configuration.
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformCloud,
		JQL:      defaultJQL,
		Transitions: map[string]string{
			"analyzing":       "In Progress",
			"completed":       "Done",
			"requires_review": "In Review",
		},
	}
}

// Validate lists missing settings.
func (c *Config) Validate() []string {
	var problems []string
	if c.BaseURL == "" {
		problems = append(problems, "jira.base_url is required")
	} else if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		problems = append(problems, fmt.Sprintf("jira.base_url %q is not a valid URL", c.BaseURL))
	}
	if c.Username == "" {
		problems = append(problems, "jira.username is required")
	}
	if c.APIToken == "" {
		problems = append(problems, "jira.api_token is required")
	}
	switch c.Platform {
	case "", PlatformCloud, PlatformServer:
	default:
		problems = append(problems, fmt.Sprintf("jira.platform must be cloud or server, got %q", c.Platform))
	}
	return problems
}

// Client is a Jira REST client.
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	platform   string
	httpClient *http.Client
}

// NewClient creates a Jira client.
func NewClient(baseURL, username, apiToken, platform string) *Client {
	if platform == "" {
		platform = PlatformCloud
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		platform: platform,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) apiPath() string {
	if c.platform == PlatformCloud {
		return "/rest/api/3"
	}
	return "/rest/api/2"
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

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.apiPath()+path, bodyReader)
	if err != nil {
		return provider.NewError(Name, op, provider.KindNetwork, fmt.Errorf("failed to create request: %w", err))
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.apiToken))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
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

// Issue is a Jira issue.
type Issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// Fields holds the issue fields Hourglass reads.
type Fields struct {
	Summary string `json:"summary"`
	// Description is a plain string on Server and an ADF document on Cloud.
	Description json.RawMessage `json:"description"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
	Priority *struct {
		Name string `json:"name"`
	} `json:"priority,omitempty"`
	Labels     []string `json:"labels"`
	Components []struct {
		Name string `json:"name"`
	} `json:"components"`
	Project struct {
		Key string `json:"key"`
	} `json:"project"`
}

// Transition is a workflow transition available on an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

// SearchIssues runs a JQL query.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]*Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", fmt.Sprint(maxResults))
	q.Set("fields", "summary,description,status,priority,labels,components,project")

	var resp struct {
		Issues []*Issue `json:"issues"`
	}
	if err := c.doRequest(ctx, "search", http.MethodGet, "/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// AddComment comments on an issue. Cloud requires an ADF body.
func (c *Client) AddComment(ctx context.Context, issueKey, body string) error {
	var reqBody any = map[string]string{"body": body}
	if c.platform == PlatformCloud {
		reqBody = map[string]any{"body": textDocument(body)}
	}
	return c.doRequest(ctx, "add_comment", http.MethodPost, fmt.Sprintf("/issue/%s/comment", issueKey), reqBody, nil)
}

// GetTransitions lists the transitions available on an issue.
func (c *Client) GetTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	var resp struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := c.doRequest(ctx, "get_transitions", http.MethodGet, fmt.Sprintf("/issue/%s/transitions", issueKey), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transitions, nil
}

// TransitionIssueTo moves an issue along the first transition whose name or
// target status matches statusName.
func (c *Client) TransitionIssueTo(ctx context.Context, issueKey, statusName string) error {
	transitions, err := c.GetTransitions(ctx, issueKey)
	if err != nil {
		return fmt.Errorf("failed to get transitions: %w", err)
	}
	for _, t := range transitions {
		if strings.EqualFold(t.To.Name, statusName) || strings.EqualFold(t.Name, statusName) {
			body := map[string]any{"transition": map[string]string{"id": t.ID}}
			return c.doRequest(ctx, "transition", http.MethodPost, fmt.Sprintf("/issue/%s/transitions", issueKey), body, nil)
		}
	}
	return fmt.Errorf("no transition found to status: %s", statusName)
}

// Myself checks the credentials.
func (c *Client) Myself(ctx context.Context) error {
	return c.doRequest(ctx, "myself", http.MethodGet, "/myself", nil, nil)
}

func textDocument(text string) map[string]any {
	var paragraphs []map[string]any
	for _, line := range strings.Split(text, "\n") {
		p := map[string]any{"type": "paragraph"}
		if line != "" {
			p["content"] = []map[string]any{{"type": "text", "text": line}}
		}
		paragraphs = append(paragraphs, p)
	}
	return map[string]any{"type": "doc", "version": 1, "content": paragraphs}
}
