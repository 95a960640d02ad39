package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// Publisher opens merge requests on GitLab.
type Publisher struct {
	client *Client
	host   string
	log    *slog.Logger
}

// NewPublisher builds a publication target from cfg.
func NewPublisher(cfg *Config) *Publisher {
	return &Publisher{
		client: NewClient(cfg.Token, cfg.BaseURL),
		host:   webHost(cfg.BaseURL),
		log:    logging.WithComponent("gitlab"),
	}
}

func (p *Publisher) Name() string { return Name }

// MatchesURL claims project URLs and remotes on the GitLab host.
func (p *Publisher) MatchesURL(rawURL string) bool { return matchesHost(rawURL, p.host) }

// TestConnection verifies the token.
func (p *Publisher) TestConnection(ctx context.Context) error { return p.client.CurrentUser(ctx) }

// Publish pushes the change branch and opens a merge request, reusing an
// opened one for the same branch.
func (p *Publisher) Publish(ctx context.Context, repo routing.Repository, t *ticket.Ticket, ch adapters.Change) (*adapters.Publication, error) {
	if ch.Pusher != nil {
		if err := ch.Pusher.Push(ctx, ch.Branch); err != nil {
			return nil, fmt.Errorf("push %s: %w", ch.Branch, err)
		}
	}

	target := ch.BaseBranch
	if target == "" {
		target = repo.BaseBranch
	}
	if target == "" {
		target = "main"
	}

	title := ch.Title
	if ch.Draft {
		title = "Draft: " + title
	}

	mr, err := p.client.CreateMergeRequest(ctx, repo.Name, &MergeRequestInput{
		SourceBranch:       ch.Branch,
		TargetBranch:       target,
		Title:              title,
		Description:        ch.Body,
		RemoveSourceBranch: true,
	})
	if statusOf(err) == http.StatusConflict {
		existing, ferr := p.client.FindOpenMergeRequest(ctx, repo.Name, ch.Branch)
		if ferr == nil && existing != nil {
			p.log.Info("Reusing open merge request",
				slog.String("ticket", t.ExternalKey),
				slog.Int("mr", existing.IID))
			mr, err = existing, nil
		}
	}
	if err != nil {
		return nil, err
	}

	return &adapters.Publication{
		URL:        mr.WebURL,
		Number:     mr.IID,
		Branch:     ch.Branch,
		CommitHash: ch.CommitHash,
	}, nil
}

// GetRepositoryInfo fetches project metadata.
func (p *Publisher) GetRepositoryInfo(ctx context.Context, owner, repo string) (*adapters.RepositoryInfo, error) {
	proj, err := p.client.GetProject(ctx, owner+"/"+repo)
	if err != nil {
		return nil, err
	}
	return &adapters.RepositoryInfo{
		FullName:      proj.PathWithNamespace,
		DefaultBranch: proj.DefaultBranch,
		URL:           proj.WebURL,
		CloneURL:      proj.HTTPURLToRepo,
		Private:       proj.Visibility == "private",
	}, nil
}

// AddComment comments on a merge request.
func (p *Publisher) AddComment(ctx context.Context, repo string, number int, body string) error {
	return p.client.AddMergeRequestNote(ctx, repo, number, body)
}

// Merge merges a merge request. Method "squash" squashes commits.
func (p *Publisher) Merge(ctx context.Context, repo string, number int, method string) error {
	return p.client.AcceptMergeRequest(ctx, repo, number, method == "" || method == "squash")
}

// DeleteBranch deletes a remote branch.
func (p *Publisher) DeleteBranch(ctx context.Context, repo, branch string) error {
	return p.client.DeleteBranch(ctx, repo, branch)
}

var _ adapters.PublicationTarget = (*Publisher)(nil)
