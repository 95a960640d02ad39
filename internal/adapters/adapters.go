// Package adapters defines the contracts for ticket trackers and code hosts
// and resolves which implementation serves a project.
package adapters

import (
	"context"

	"github.com/alekspetrov/hourglass/internal/provider"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// TicketSource is a tracker that hands out tickets and receives updates.
type TicketSource interface {
	Name() string
	MatchesURL(rawURL string) bool
	FetchTickets(ctx context.Context) ([]ticket.Payload, error)
	TestConnection(ctx context.Context) error
	AddComment(ctx context.Context, key, text string) error
	UpdateStatus(ctx context.Context, key string, status ticket.Status) error
	// ValidateConfiguration lists missing or invalid settings.
	ValidateConfiguration() []string
}

// Pusher uploads a local branch to the code host.
type Pusher interface {
	Push(ctx context.Context, branch string) error
}

// Change is a committed change ready to publish.
type Change struct {
	Branch        string
	BaseBranch    string
	Title         string
	Body          string
	CommitHash    string
	CommitMessage string
	Files         []string
	Draft         bool
	Pusher        Pusher
}

// Publication is the result of a successful publish.
type Publication struct {
	URL        string `json:"url"`
	Number     int    `json:"number"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commit_hash"`
}

// RepositoryInfo describes a hosted repository.
type RepositoryInfo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	URL           string `json:"url"`
	CloneURL      string `json:"clone_url"`
	Private       bool   `json:"private"`
}

// PublicationTarget is a code host that accepts change requests.
type PublicationTarget interface {
	Name() string
	MatchesURL(rawURL string) bool
	Publish(ctx context.Context, repo routing.Repository, t *ticket.Ticket, ch Change) (*Publication, error)
	TestConnection(ctx context.Context) error
	GetRepositoryInfo(ctx context.Context, owner, repo string) (*RepositoryInfo, error)
	AddComment(ctx context.Context, repo string, number int, body string) error
	Merge(ctx context.Context, repo string, number int, method string) error
	DeleteBranch(ctx context.Context, repo, branch string) error
}

// Registry holds the configured sources and targets.
type Registry struct {
	Sources       []TicketSource
	Targets       []PublicationTarget
	DefaultSource string
	DefaultTarget string
}

// Source returns a source by name.
func (r *Registry) Source(name string) (TicketSource, bool) {
	for _, s := range r.Sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// SourceFor resolves the tracker for a ticket: project override, ticket URL
// pattern, configured default, first healthy source.
func (r *Registry) SourceFor(ctx context.Context, project *routing.Project, t *ticket.Ticket) (TicketSource, error) {
	if t.Source != "" {
		if s, ok := r.Source(t.Source); ok {
			return s, nil
		}
	}
	sel := provider.Selection{URL: t.URL, Default: r.DefaultSource}
	if project != nil {
		sel.Override = project.Source
	}
	return provider.Resolve(ctx, r.Sources, sel)
}

// TargetFor resolves the code host for a repository: repository or project
// override, repository URL pattern, configured default, first healthy host.
func (r *Registry) TargetFor(ctx context.Context, project *routing.Project, repo routing.Repository) (PublicationTarget, error) {
	sel := provider.Selection{URL: repo.URL, Default: r.DefaultTarget, Override: repo.Host}
	if sel.Override == "" && project != nil {
		sel.Override = project.CodeHost
	}
	return provider.Resolve(ctx, r.Targets, sel)
}
