package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// Source pulls labelled issues from the configured projects.
type Source struct {
	cfg    *Config
	client *Client
	host   string
	log    *slog.Logger
}

// NewSource builds a ticket source from cfg.
func NewSource(cfg *Config) *Source {
	c := *cfg
	if c.Label == "" {
		c.Label = defaultLabel
	}
	return &Source{
		cfg:    &c,
		client: NewClient(c.Token, c.BaseURL),
		host:   webHost(c.BaseURL),
		log:    logging.WithComponent("gitlab"),
	}
}

func (s *Source) Name() string { return Name }

// MatchesURL claims issue URLs on the configured GitLab host.
func (s *Source) MatchesURL(rawURL string) bool { return matchesHost(rawURL, s.host) }

// ValidateConfiguration lists missing settings.
func (s *Source) ValidateConfiguration() []string { return s.cfg.Validate(true) }

// TestConnection verifies the token.
func (s *Source) TestConnection(ctx context.Context) error { return s.client.CurrentUser(ctx) }

// FetchTickets returns opened, labelled issues not already marked done.
func (s *Source) FetchTickets(ctx context.Context) ([]ticket.Payload, error) {
	var out []ticket.Payload
	for _, project := range s.cfg.Projects {
		issues, err := s.client.ListOpenIssues(ctx, project, s.cfg.Label)
		if err != nil {
			return nil, fmt.Errorf("list issues for %s: %w", project, err)
		}
		for _, issue := range issues {
			if HasLabel(issue, s.statusLabel("done")) {
				continue
			}
			out = append(out, s.toPayload(project, issue))
		}
		s.log.Debug("Fetched issues", slog.String("project", project), slog.Int("count", len(issues)))
	}
	return out, nil
}

func (s *Source) toPayload(project string, issue *Issue) ticket.Payload {
	p := ticket.Payload{
		Source:      Name,
		ExternalKey: fmt.Sprintf("%s#%d", project, issue.IID),
		ProjectKey:  project,
		Title:       issue.Title,
		Description: issue.Description,
		URL:         issue.WebURL,
	}
	for _, l := range issue.Labels {
		if strings.EqualFold(l, s.cfg.Label) {
			continue
		}
		// GitLab scoped labels use "::" as the separator.
		if v, ok := scopedValue(l, "priority"); ok {
			p.Priority = ticket.ParsePriority(v)
			continue
		}
		if v, ok := scopedValue(l, "component"); ok {
			p.Components = append(p.Components, v)
			continue
		}
		p.Labels = append(p.Labels, l)
	}
	return p
}

// AddComment adds a note to the issue identified by key (namespace/project#iid).
func (s *Source) AddComment(ctx context.Context, key, text string) error {
	project, iid, err := parseKey(key)
	if err != nil {
		return err
	}
	return s.client.AddIssueNote(ctx, project, iid, text)
}

// UpdateStatus mirrors a ticket status onto the issue labels, closing the
// issue on completion.
func (s *Source) UpdateStatus(ctx context.Context, key string, status ticket.Status) error {
	project, iid, err := parseKey(key)
	if err != nil {
		return err
	}

	inProgress := s.statusLabel("in-progress")
	switch status {
	case ticket.StatusPending:
		return s.client.UpdateIssue(ctx, project, iid, nil,
			[]string{inProgress, s.statusLabel("failed"), s.statusLabel("review")}, "")
	case ticket.StatusCompleted:
		return s.client.UpdateIssue(ctx, project, iid, []string{s.statusLabel("done")}, []string{inProgress}, "close")
	case ticket.StatusRequiresReview:
		return s.client.UpdateIssue(ctx, project, iid, []string{s.statusLabel("review")}, []string{inProgress}, "")
	case ticket.StatusFailed:
		return s.client.UpdateIssue(ctx, project, iid, []string{s.statusLabel("failed")}, []string{inProgress}, "")
	default:
		return s.client.UpdateIssue(ctx, project, iid, []string{inProgress}, nil, "")
	}
}

func (s *Source) statusLabel(suffix string) string {
	return s.cfg.Label + "-" + suffix
}

func scopedValue(label, scope string) (string, bool) {
	for _, sep := range []string{"::", ":"} {
		prefix := scope + sep
		if len(label) > len(prefix) && strings.EqualFold(label[:len(prefix)], prefix) {
			return strings.TrimSpace(label[len(prefix):]), true
		}
	}
	return "", false
}

func parseKey(key string) (string, int, error) {
	hash := strings.LastIndex(key, "#")
	if hash <= 0 {
		return "", 0, fmt.Errorf("invalid gitlab ticket key %q", key)
	}
	iid, err := strconv.Atoi(key[hash+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid issue iid in %q", key)
	}
	return key[:hash], iid, nil
}

var _ adapters.TicketSource = (*Source)(nil)
