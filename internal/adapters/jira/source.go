package jira

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// Source pulls issues matching a JQL query.
type Source struct {
	cfg    *Config
	client *Client
	host   string
	log    *slog.Logger
}

// NewSource builds a ticket source from cfg.
func NewSource(cfg *Config) *Source {
	c := *cfg
	if c.JQL == "" {
		c.JQL = defaultJQL
	}
	var host string
	if u, err := url.Parse(c.BaseURL); err == nil {
		host = u.Hostname()
	}
	return &Source{
		cfg:    &c,
		client: NewClient(c.BaseURL, c.Username, c.APIToken, c.Platform),
		host:   host,
		log:    logging.WithComponent("jira"),
	}
}

func (s *Source) Name() string { return Name }

// MatchesURL claims browse links on the configured Jira host.
func (s *Source) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || s.host == "" {
		return false
	}
	return strings.EqualFold(u.Hostname(), s.host)
}

// ValidateConfiguration lists missing settings.
func (s *Source) ValidateConfiguration() []string { return s.cfg.Validate() }

// TestConnection verifies the credentials.
func (s *Source) TestConnection(ctx context.Context) error { return s.client.Myself(ctx) }

// FetchTickets runs the configured JQL query.
func (s *Source) FetchTickets(ctx context.Context) ([]ticket.Payload, error) {
	issues, err := s.client.SearchIssues(ctx, s.cfg.JQL, 100)
	if err != nil {
		return nil, fmt.Errorf("jql search: %w", err)
	}
	out := make([]ticket.Payload, 0, len(issues))
	for _, issue := range issues {
		out = append(out, s.toPayload(issue))
	}
	s.log.Debug("Fetched issues", slog.Int("count", len(out)))
	return out, nil
}

func (s *Source) toPayload(issue *Issue) ticket.Payload {
	p := ticket.Payload{
		Source:      Name,
		ExternalKey: issue.Key,
		ProjectKey:  issue.Fields.Project.Key,
		Title:       issue.Fields.Summary,
		Description: descriptionText(issue.Fields.Description),
		URL:         strings.TrimSuffix(s.cfg.BaseURL, "/") + "/browse/" + issue.Key,
	}
	if p.ProjectKey == "" {
		if dash := strings.LastIndex(issue.Key, "-"); dash > 0 {
			p.ProjectKey = issue.Key[:dash]
		}
	}
	if issue.Fields.Priority != nil {
		p.Priority = ticket.ParsePriority(issue.Fields.Priority.Name)
	}
	for _, l := range issue.Fields.Labels {
		if strings.EqualFold(l, "hourglass") {
			continue
		}
		p.Labels = append(p.Labels, l)
	}
	for _, c := range issue.Fields.Components {
		p.Components = append(p.Components, c.Name)
	}
	return p
}

// AddComment comments on an issue.
func (s *Source) AddComment(ctx context.Context, key, text string) error {
	return s.client.AddComment(ctx, key, text)
}

// UpdateStatus transitions the issue when a workflow status is mapped for
// status. Unmapped statuses are a no-op.
func (s *Source) UpdateStatus(ctx context.Context, key string, status ticket.Status) error {
	target, ok := s.cfg.Transitions[string(status)]
	if !ok || target == "" {
		return nil
	}
	if err := s.client.TransitionIssueTo(ctx, key, target); err != nil {
		return fmt.Errorf("transition %s to %q: %w", key, target, err)
	}
	return nil
}

var _ adapters.TicketSource = (*Source)(nil)
