// Package pipeline drives one ticket from pending to a terminal state:
// analysis, solution generation, guarded execution, review and publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/ai"
	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/retry"
	"github.com/alekspetrov/hourglass/internal/review"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/ticket"
	"github.com/alekspetrov/hourglass/internal/workspace"
)

// Generator produces and applies solutions. *ai.Chain implements it.
type Generator interface {
	GenerateSolution(ctx context.Context, prompt string) (*ai.Solution, error)
	ApplyChange(ctx context.Context, ws *workspace.Workspace, t *ticket.Ticket, sol *ai.Solution) (*ai.Change, error)
}

// Reviewer scores a committed change. *review.Gate implements it.
type Reviewer interface {
	Enabled() bool
	Evaluate(ctx context.Context, in review.Input) *review.Result
}

// Outcome is the terminal result of Process.
type Outcome struct {
	Status      ticket.Status
	Reason      string
	Err         error
	Ticket      *ticket.Ticket
	Solution    *ai.Solution
	Change      *ai.Change
	Review      *review.Result
	Publication *adapters.Publication
	Attempts    int
	Healed      bool
}

// Succeeded is true only for completed tickets.
func (o *Outcome) Succeeded() bool { return o.Status == ticket.StatusCompleted }

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Tickets   ticket.Store
	Router    *routing.Router
	Registry  *adapters.Registry
	Generator Generator
	Reviewer  Reviewer
	Retry     retry.Policy
	Clock     clock.Clock
	// Workspace opens the checkout of a repository. Defaults to
	// workspace.New(repo.LocalPath).
	Workspace func(repo routing.Repository) *workspace.Workspace
}

// Pipeline processes tickets one at a time.
type Pipeline struct {
	tickets   ticket.Store
	router    *routing.Router
	registry  *adapters.Registry
	gen       Generator
	reviewer  Reviewer
	policy    retry.Policy
	clock     clock.Clock
	workspace func(repo routing.Repository) *workspace.Workspace
	log       *slog.Logger
}

// New creates a pipeline.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		tickets:   d.Tickets,
		router:    d.Router,
		registry:  d.Registry,
		gen:       d.Generator,
		reviewer:  d.Reviewer,
		policy:    d.Retry,
		clock:     d.Clock,
		workspace: d.Workspace,
		log:       logging.WithComponent("pipeline"),
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.policy.MaxAttempts == 0 {
		p.policy = retry.DefaultPolicy()
	}
	if p.workspace == nil {
		p.workspace = func(repo routing.Repository) *workspace.Workspace {
			return workspace.New(repo.LocalPath)
		}
	}
	return p
}

// run carries per-ticket state between stages.
type run struct {
	t        *ticket.Ticket
	log      *slog.Logger
	project  *routing.Project
	repo     routing.Repository
	ws       *workspace.Workspace
	base     string
	branch   string
	analysis ticket.Analysis
	outcome  *Outcome
}

// Process runs t through every stage and persists each transition. It
// always returns an Outcome; stage failures are reported in it rather
// than as errors.
func (p *Pipeline) Process(ctx context.Context, t *ticket.Ticket) *Outcome {
	r := &run{
		t:       t,
		log:     p.log.With(slog.String("ticket", t.ExternalKey)),
		outcome: &Outcome{Ticket: t},
	}

	if err := p.advance(ctx, r, ticket.StatusAnalyzing, func(t *ticket.Ticket) {
		now := p.clock.Now().UTC()
		t.ProcessingStartedAt = &now
	}); err != nil {
		return p.fail(ctx, r, "start processing", err)
	}

	if err := p.analyze(ctx, r); err != nil {
		return p.fail(ctx, r, "routing", err)
	}

	sol, err := p.generate(ctx, r)
	if err != nil {
		return p.fail(ctx, r, "solution generation", err)
	}

	if err := p.advance(ctx, r, ticket.StatusExecuting, nil); err != nil {
		return p.fail(ctx, r, "start execution", err)
	}
	change, sha, err := p.execute(ctx, r, sol, true)
	if err != nil {
		return p.fail(ctx, r, "execution", err)
	}
	if err := p.tickets.CompleteSubtasks(ctx, r.t.ID); err != nil {
		r.log.Warn("Failed to complete subtasks", slog.Any("error", err))
	}

	flagged := false
	if p.reviewer != nil && p.reviewer.Enabled() {
		var reviewed *review.Result
		reviewed, change, sha = p.reviewWithHeal(ctx, r, sol, change, sha)
		r.outcome.Review = reviewed
		flagged = !reviewed.Passed
	}

	if err := p.advance(ctx, r, ticket.StatusCreatingPR, func(t *ticket.Ticket) {
		t.CommitHash = sha
	}); err != nil {
		return p.fail(ctx, r, "start publication", err)
	}
	return p.publish(ctx, r, change, sha, flagged)
}

func (p *Pipeline) analyze(ctx context.Context, r *run) error {
	r.analysis = ticket.Analyze(r.t)
	r.log.Debug("Ticket analyzed",
		slog.Float64("complexity", r.analysis.Score),
		slog.String("level", string(r.analysis.Level)))

	project, assoc, err := p.router.RouteTicket(r.t)
	if err != nil {
		return err
	}
	r.project = project
	r.repo = assoc.Repository
	r.ws = p.workspace(r.repo)
	r.base = r.repo.BaseBranch
	if r.base == "" {
		r.base = r.ws.DefaultBranch(ctx)
	}
	r.branch = workspace.BranchName(r.t.ExternalKey)

	return p.save(ctx, r, func(t *ticket.Ticket) {
		t.ComplexityScore = r.analysis.Score
		t.Repository = r.repo.Name
		t.Branch = r.branch
	})
}

// generate asks the provider chain for a solution. Failover is the only
// recovery at this stage.
func (p *Pipeline) generate(ctx context.Context, r *run) (*ai.Solution, error) {
	if err := p.advance(ctx, r, ticket.StatusGeneratingSolution, nil); err != nil {
		return nil, err
	}

	sol, err := p.gen.GenerateSolution(ctx, ai.BuildPrompt(r.t, r.analysis))
	if err != nil {
		return nil, err
	}
	r.outcome.Solution = sol
	r.log.Info("Solution generated",
		slog.String("provider", sol.Provider),
		slog.Bool("fallback", sol.Fallback),
		slog.Float64("confidence", sol.Confidence),
		slog.Int("steps", len(sol.Steps)))

	if err := p.save(ctx, r, func(t *ticket.Ticket) { t.AIProviderUsed = sol.Provider }); err != nil {
		return nil, err
	}
	if _, err := p.tickets.ReplaceSubtasks(ctx, r.t.ID, sol.Steps); err != nil {
		r.log.Warn("Failed to store subtasks", slog.Any("error", err))
	}
	return sol, nil
}

// execute applies sol under the retry policy. A fresh branch replaces any
// earlier one when fresh is set; otherwise the change is committed on top
// of the current branch and discarded on failure.
func (p *Pipeline) execute(ctx context.Context, r *run, sol *ai.Solution, fresh bool) (*ai.Change, string, error) {
	for attempt := 1; ; attempt++ {
		r.outcome.Attempts++
		change, sha, err := p.attempt(ctx, r, sol, fresh)
		if err == nil {
			r.log.Info("Change committed",
				slog.Int("attempt", attempt),
				slog.Int("files", len(change.Files)),
				slog.String("commit", sha))
			return change, sha, nil
		}

		if !fresh {
			if derr := r.ws.Discard(ctx); derr != nil {
				r.log.Warn("Failed to discard partial change", slog.Any("error", derr))
			}
		}
		if !p.policy.ShouldRetry(attempt, err) {
			return nil, "", fmt.Errorf("attempt %d/%d: %w", attempt, p.policy.Attempts(), err)
		}

		delay := p.policy.Delay(attempt)
		r.log.Warn("Execution failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := clock.Sleep(ctx, p.clock, delay); err != nil {
			return nil, "", err
		}
	}
}

func (p *Pipeline) attempt(ctx context.Context, r *run, sol *ai.Solution, fresh bool) (*ai.Change, string, error) {
	if fresh {
		if err := r.ws.PrepareBranch(ctx, r.base, r.branch); err != nil {
			return nil, "", err
		}
	}
	change, err := p.gen.ApplyChange(ctx, r.ws, r.t, sol)
	if err != nil {
		return nil, "", err
	}
	sha, err := r.ws.CommitAll(ctx, change.CommitMessage)
	if err != nil {
		return nil, "", err
	}
	return change, sha, nil
}

// reviewWithHeal scores the change and, below threshold, regenerates once
// with the review feedback and commits the fix on top. The returned result
// is the final verdict.
func (p *Pipeline) reviewWithHeal(ctx context.Context, r *run, sol *ai.Solution, change *ai.Change, sha string) (*review.Result, *ai.Change, string) {
	res := p.evaluate(ctx, r)
	if res.Passed {
		return res, change, sha
	}

	r.log.Info("Review below threshold, attempting self-heal",
		slog.Float64("score", res.Score),
		slog.Float64("threshold", res.Threshold))

	prompt := ai.BuildPrompt(r.t, r.analysis) + "\n\n" + review.Feedback(res)
	healed, err := p.gen.GenerateSolution(ctx, prompt)
	if err != nil {
		r.log.Warn("Self-heal generation failed", slog.Any("error", err))
		return res, change, sha
	}
	healChange, healSHA, err := p.execute(ctx, r, healed, false)
	if err != nil {
		r.log.Warn("Self-heal execution failed", slog.Any("error", err))
		return res, change, sha
	}
	r.outcome.Healed = true

	healChange.Files = mergeFiles(change.Files, healChange.Files)
	healChange.Summary = change.Summary + "\n\nReview fixes:\n" + healChange.Summary
	healChange.CommitMessage = change.CommitMessage
	if err := p.save(ctx, r, func(t *ticket.Ticket) { t.AIProviderUsed = healed.Provider }); err != nil {
		r.log.Warn("Failed to record heal provider", slog.Any("error", err))
	}
	return p.evaluate(ctx, r), healChange, healSHA
}

func (p *Pipeline) evaluate(ctx context.Context, r *run) *review.Result {
	in := review.Input{Ticket: r.t, Dir: r.ws.Dir()}
	if diff, err := r.ws.Diff(ctx, r.base); err == nil {
		in.Diff = diff
	} else {
		r.log.Warn("Failed to read diff", slog.Any("error", err))
	}
	if stats, err := r.ws.Stats(ctx, r.base); err == nil {
		in.Stats = stats
	}
	return p.reviewer.Evaluate(ctx, in)
}

// publish opens the change request. A failed publication or a flagged
// review ends in requires_review.
func (p *Pipeline) publish(ctx context.Context, r *run, change *ai.Change, sha string, flagged bool) *Outcome {
	r.outcome.Change = change

	target, err := p.registry.TargetFor(ctx, r.project, r.repo)
	if err == nil {
		var pub *adapters.Publication
		pub, err = target.Publish(ctx, r.repo, r.t, adapters.Change{
			Branch:        r.branch,
			BaseBranch:    r.base,
			Title:         change.CommitMessage,
			Body:          changeBody(r.t, r.outcome),
			CommitHash:    sha,
			CommitMessage: change.CommitMessage,
			Files:         change.Files,
			Draft:         flagged,
			Pusher:        r.ws,
		})
		r.outcome.Publication = pub
	}

	if err != nil {
		r.log.Warn("Publication failed", slog.Any("error", err))
		return p.finish(ctx, r, ticket.StatusRequiresReview, "publication failed", err)
	}

	pub := r.outcome.Publication
	if serr := p.save(ctx, r, func(t *ticket.Ticket) {
		t.PRURL = pub.URL
		t.PRNumber = pub.Number
		t.CommitHash = sha
	}); serr != nil {
		r.log.Warn("Failed to record publication", slog.Any("error", serr))
	}

	if flagged {
		return p.finish(ctx, r, ticket.StatusRequiresReview,
			fmt.Sprintf("review score %.2f below threshold %.2f", r.outcome.Review.Score, r.outcome.Review.Threshold), nil)
	}
	return p.finish(ctx, r, ticket.StatusCompleted, "", nil)
}

func (p *Pipeline) fail(ctx context.Context, r *run, stage string, err error) *Outcome {
	r.log.Error("Ticket failed", slog.String("stage", stage), slog.Any("error", err))
	return p.finish(ctx, r, ticket.StatusFailed, stage+" failed", err)
}

func (p *Pipeline) finish(ctx context.Context, r *run, status ticket.Status, reason string, cause error) *Outcome {
	r.outcome.Status = status
	r.outcome.Reason = reason
	r.outcome.Err = cause

	msg := reason
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", reason, cause)
	}
	if err := p.advance(ctx, r, status, func(t *ticket.Ticket) { t.ErrorMessage = msg }); err != nil {
		r.log.Error("Failed to persist terminal status",
			slog.String("status", string(status)),
			slog.Any("error", err))
		r.outcome.Err = errors.Join(cause, err)
	}
	r.outcome.Ticket = r.t

	r.log.Info("Ticket finished",
		slog.String("status", string(status)),
		slog.String("reason", reason),
		slog.Int("attempts", r.outcome.Attempts))
	return r.outcome
}

// advance persists a state machine transition plus optional field changes.
func (p *Pipeline) advance(ctx context.Context, r *run, next ticket.Status, mutate func(*ticket.Ticket)) error {
	now := p.clock.Now().UTC()
	updated, err := p.tickets.UpdateTicket(ctx, r.t.ID, func(t *ticket.Ticket) error {
		if err := t.Transition(next, now); err != nil {
			return err
		}
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.t = updated
	r.outcome.Ticket = updated
	return nil
}

func (p *Pipeline) save(ctx context.Context, r *run, mutate func(*ticket.Ticket)) error {
	now := p.clock.Now().UTC()
	updated, err := p.tickets.UpdateTicket(ctx, r.t.ID, func(t *ticket.Ticket) error {
		mutate(t)
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	r.t = updated
	r.outcome.Ticket = updated
	return nil
}

// Abort fails a ticket left mid-pipeline, e.g. after a panic. Tickets
// already terminal are left alone.
func (p *Pipeline) Abort(ctx context.Context, t *ticket.Ticket, cause error) *Outcome {
	r := &run{
		t:       t,
		log:     p.log.With(slog.String("ticket", t.ExternalKey)),
		outcome: &Outcome{Ticket: t},
	}
	if current, err := p.tickets.GetTicket(ctx, t.ID); err == nil {
		r.t = current
	}
	if r.t.Status.IsTerminal() {
		r.outcome.Status = r.t.Status
		r.outcome.Ticket = r.t
		return r.outcome
	}
	return p.fail(ctx, r, "processing", cause)
}

func mergeFiles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, f := range append(append([]string{}, a...), b...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
