package adapters

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

type stubSource struct {
	name    string
	host    string
	healthy bool
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) MatchesURL(rawURL string) bool { return strings.Contains(rawURL, s.host) }
func (s *stubSource) FetchTickets(context.Context) ([]ticket.Payload, error) {
	return nil, nil
}
func (s *stubSource) TestConnection(context.Context) error {
	if !s.healthy {
		return errors.New("down")
	}
	return nil
}
func (s *stubSource) AddComment(context.Context, string, string) error { return nil }
func (s *stubSource) UpdateStatus(context.Context, string, ticket.Status) error { return nil }
func (s *stubSource) ValidateConfiguration() []string { return nil }

type stubTarget struct {
	stubSource
}

func (s *stubTarget) Publish(context.Context, routing.Repository, *ticket.Ticket, Change) (*Publication, error) {
	return &Publication{}, nil
}
func (s *stubTarget) GetRepositoryInfo(context.Context, string, string) (*RepositoryInfo, error) {
	return &RepositoryInfo{}, nil
}
func (s *stubTarget) AddComment(context.Context, string, int, string) error { return nil }
func (s *stubTarget) Merge(context.Context, string, int, string) error { return nil }
func (s *stubTarget) DeleteBranch(context.Context, string, string) error { return nil }

func newRegistry() *Registry {
	return &Registry{
		Sources: []TicketSource{
			&stubSource{name: "github", host: "github.com", healthy: false},
			&stubSource{name: "jira", host: "atlassian.net", healthy: true},
		},
		Targets: []PublicationTarget{
			&stubTarget{stubSource{name: "github", host: "github.com", healthy: true}},
			&stubTarget{stubSource{name: "gitlab", host: "gitlab.com", healthy: true}},
		},
	}
}

func TestSourceFor(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	tests := []struct {
		name    string
		project *routing.Project
		ticket  *ticket.Ticket
		want    string
	}{
		{"ticket origin wins", &routing.Project{Source: "jira"}, &ticket.Ticket{Source: "github"}, "github"},
		{"project override", &routing.Project{Source: "jira"}, &ticket.Ticket{URL: "https://github.com/a/b/issues/1"}, "jira"},
		{"url match", nil, &ticket.Ticket{URL: "https://acme.atlassian.net/browse/X-1"}, "jira"},
		{"first healthy", nil, &ticket.Ticket{}, "jira"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.SourceFor(ctx, tt.project, tt.ticket)
			if err != nil {
				t.Fatalf("SourceFor: %v", err)
			}
			if got.Name() != tt.want {
				t.Errorf("SourceFor = %s, want %s", got.Name(), tt.want)
			}
		})
	}

	r.DefaultSource = "github"
	got, err := r.SourceFor(ctx, nil, &ticket.Ticket{})
	if err != nil || got.Name() != "github" {
		t.Errorf("default source = %v, %v", got, err)
	}
}

func TestTargetFor(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	r.DefaultTarget = "github"

	tests := []struct {
		name    string
		project *routing.Project
		repo    routing.Repository
		want    string
	}{
		{"repository host", &routing.Project{CodeHost: "github"}, routing.Repository{Host: "gitlab"}, "gitlab"},
		{"project host", &routing.Project{CodeHost: "gitlab"}, routing.Repository{URL: "https://github.com/a/b"}, "gitlab"},
		{"url match", nil, routing.Repository{URL: "git@gitlab.com:a/b.git"}, "gitlab"},
		{"default", nil, routing.Repository{}, "github"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.TargetFor(ctx, tt.project, tt.repo)
			if err != nil {
				t.Fatalf("TargetFor: %v", err)
			}
			if got.Name() != tt.want {
				t.Errorf("TargetFor = %s, want %s", got.Name(), tt.want)
			}
		})
	}

	if _, err := r.TargetFor(ctx, nil, routing.Repository{Host: "bitbucket"}); err == nil {
		t.Error("expected error for unknown override")
	}
}
