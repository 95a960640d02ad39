package github

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

// Publisher opens pull requests on GitHub.
type Publisher struct {
	client *Client
	host   string
	log    *slog.Logger
}

// NewPublisher builds a publication target from cfg.
func NewPublisher(cfg *Config) *Publisher {
	return &Publisher{
		client: NewClient(cfg.Token, cfg.APIURL),
		host:   webHost(cfg.APIURL),
		log:    logging.WithComponent("github"),
	}
}

func (p *Publisher) Name() string { return Name }

// MatchesURL claims repository URLs and remotes on the GitHub host.
func (p *Publisher) MatchesURL(rawURL string) bool { return matchesHost(rawURL, p.host) }

// TestConnection verifies the token.
func (p *Publisher) TestConnection(ctx context.Context) error {
	_, err := p.client.GetAuthenticatedUser(ctx)
	return err
}

// Publish pushes the change branch and opens a pull request. If a pull
// request for the branch is already open it is reused.
func (p *Publisher) Publish(ctx context.Context, repo routing.Repository, t *ticket.Ticket, ch adapters.Change) (*adapters.Publication, error) {
	owner, name, err := splitRepo(repo.Name)
	if err != nil {
		return nil, err
	}

	if ch.Pusher != nil {
		if err := ch.Pusher.Push(ctx, ch.Branch); err != nil {
			return nil, fmt.Errorf("push %s: %w", ch.Branch, err)
		}
	}

	base := ch.BaseBranch
	if base == "" {
		base = repo.BaseBranch
	}
	if base == "" {
		base = "main"
	}

	pr, err := p.client.CreatePullRequest(ctx, owner, name, &PullRequestInput{
		Title: ch.Title,
		Head:  ch.Branch,
		Base:  base,
		Body:  ch.Body,
		Draft: ch.Draft,
	})
	if statusOf(err) == http.StatusUnprocessableEntity {
		existing, ferr := p.client.FindOpenPullRequest(ctx, owner, name, ch.Branch)
		if ferr == nil && existing != nil {
			p.log.Info("Reusing open pull request",
				slog.String("ticket", t.ExternalKey),
				slog.Int("pr", existing.Number))
			pr, err = existing, nil
		}
	}
	if err != nil {
		return nil, err
	}

	return &adapters.Publication{
		URL:        pr.HTMLURL,
		Number:     pr.Number,
		Branch:     ch.Branch,
		CommitHash: ch.CommitHash,
	}, nil
}

// GetRepositoryInfo fetches repository metadata.
func (p *Publisher) GetRepositoryInfo(ctx context.Context, owner, repo string) (*adapters.RepositoryInfo, error) {
	r, err := p.client.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	return &adapters.RepositoryInfo{
		FullName:      r.FullName,
		DefaultBranch: r.DefaultBranch,
		URL:           r.HTMLURL,
		CloneURL:      r.CloneURL,
		Private:       r.Private,
	}, nil
}

// AddComment comments on a pull request.
func (p *Publisher) AddComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	return p.client.AddComment(ctx, owner, name, number, body)
}

// Merge merges a pull request.
func (p *Publisher) Merge(ctx context.Context, repo string, number int, method string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	return p.client.MergePullRequest(ctx, owner, name, number, method)
}

// DeleteBranch deletes a remote branch.
func (p *Publisher) DeleteBranch(ctx context.Context, repo, branch string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	return p.client.DeleteBranch(ctx, owner, name, branch)
}

var (
	_ adapters.TicketSource      = (*Source)(nil)
	_ adapters.PublicationTarget = (*Publisher)(nil)
)
