package github

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// Source pulls labelled issues from the configured repositories.
type Source struct {
	cfg    *Config
	client *Client
	host   string
	log    *slog.Logger
}

// NewSource builds a ticket source from cfg.
func NewSource(cfg *Config) *Source {
	label := cfg.Label
	if label == "" {
		label = defaultLabel
	}
	c := *cfg
	c.Label = label
	return &Source{
		cfg:    &c,
		client: NewClient(cfg.Token, cfg.APIURL),
		host:   webHost(cfg.APIURL),
		log:    logging.WithComponent("github"),
	}
}

func (s *Source) Name() string { return Name }

// MatchesURL claims issue URLs on the configured GitHub host.
func (s *Source) MatchesURL(rawURL string) bool { return matchesHost(rawURL, s.host) }

// ValidateConfiguration lists missing settings.
func (s *Source) ValidateConfiguration() []string { return s.cfg.Validate(true) }

// TestConnection verifies the token.
func (s *Source) TestConnection(ctx context.Context) error {
	_, err := s.client.GetAuthenticatedUser(ctx)
	return err
}

// FetchTickets returns open issues carrying the trigger label that are not
// already marked done.
func (s *Source) FetchTickets(ctx context.Context) ([]ticket.Payload, error) {
	var out []ticket.Payload
	for _, full := range s.cfg.Repositories {
		owner, repo, err := splitRepo(full)
		if err != nil {
			return nil, err
		}
		issues, err := s.client.ListOpenIssues(ctx, owner, repo, s.cfg.Label)
		if err != nil {
			return nil, fmt.Errorf("list issues for %s: %w", full, err)
		}
		for _, issue := range issues {
			if HasLabel(issue, s.statusLabel("done")) {
				continue
			}
			out = append(out, s.toPayload(full, issue))
		}
		s.log.Debug("Fetched issues", slog.String("repo", full), slog.Int("count", len(issues)))
	}
	return out, nil
}

func (s *Source) toPayload(full string, issue *Issue) ticket.Payload {
	p := ticket.Payload{
		Source:      Name,
		ExternalKey: fmt.Sprintf("%s#%d", full, issue.Number),
		ProjectKey:  full,
		Title:       issue.Title,
		Description: issue.Body,
		URL:         issue.HTMLURL,
	}
	for _, l := range issue.Labels {
		name := l.Name
		if strings.EqualFold(name, s.cfg.Label) {
			continue
		}
		if v, ok := cutPrefixFold(name, "priority:"); ok {
			p.Priority = ticket.ParsePriority(v)
			continue
		}
		if v, ok := cutPrefixFold(name, "component:"); ok {
			p.Components = append(p.Components, v)
			continue
		}
		p.Labels = append(p.Labels, name)
	}
	return p
}

// AddComment comments on the issue identified by key (owner/repo#number).
func (s *Source) AddComment(ctx context.Context, key, text string) error {
	owner, repo, number, err := parseKey(key)
	if err != nil {
		return err
	}
	return s.client.AddComment(ctx, owner, repo, number, text)
}

// UpdateStatus mirrors a ticket status onto the issue with labels, closing
// it on completion.
func (s *Source) UpdateStatus(ctx context.Context, key string, status ticket.Status) error {
	owner, repo, number, err := parseKey(key)
	if err != nil {
		return err
	}

	var add string
	remove := []string{s.statusLabel("in-progress")}
	switch status {
	case ticket.StatusPending:
		remove = append(remove, s.statusLabel("failed"), s.statusLabel("review"))
	case ticket.StatusCompleted:
		add = s.statusLabel("done")
	case ticket.StatusRequiresReview:
		add = s.statusLabel("review")
	case ticket.StatusFailed:
		add = s.statusLabel("failed")
	default:
		add = s.statusLabel("in-progress")
		remove = nil
	}

	for _, l := range remove {
		if err := s.client.RemoveLabel(ctx, owner, repo, number, l); err != nil {
			return err
		}
	}
	if add != "" {
		if err := s.client.AddLabels(ctx, owner, repo, number, []string{add}); err != nil {
			return err
		}
	}
	if status == ticket.StatusCompleted {
		return s.client.UpdateIssueState(ctx, owner, repo, number, "closed")
	}
	return nil
}

func (s *Source) statusLabel(suffix string) string {
	return s.cfg.Label + "-" + suffix
}

func parseKey(key string) (owner, repo string, number int, err error) {
	hash := strings.LastIndex(key, "#")
	if hash < 0 {
		return "", "", 0, fmt.Errorf("invalid github ticket key %q", key)
	}
	owner, repo, err = splitRepo(key[:hash])
	if err != nil {
		return "", "", 0, err
	}
	number, err = strconv.Atoi(key[hash+1:])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid issue number in %q", key)
	}
	return owner, repo, number, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):]), true
	}
	return "", false
}
