package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/ai"
	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/provider"
	"github.com/alekspetrov/hourglass/internal/retry"
	"github.com/alekspetrov/hourglass/internal/review"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/store"
	"github.com/alekspetrov/hourglass/internal/ticket"
	"github.com/alekspetrov/hourglass/internal/workspace"
)

type fakeGen struct {
	mu        sync.Mutex
	solutions []*ai.Solution
	genErr    error
	applyErr  []error
	generated int
	applied   int
}

func (g *fakeGen) GenerateSolution(_ context.Context, prompt string) (*ai.Solution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.genErr != nil {
		return nil, g.genErr
	}
	sol := &ai.Solution{Text: "plan", Steps: []string{"edit fix.txt", "run tests"}, Provider: "primary", Confidence: 0.8}
	if g.generated < len(g.solutions) {
		sol = g.solutions[g.generated]
	}
	g.generated++
	return sol, nil
}

func (g *fakeGen) ApplyChange(ctx context.Context, ws *workspace.Workspace, t *ticket.Ticket, sol *ai.Solution) (*ai.Change, error) {
	g.mu.Lock()
	g.applied++
	n := g.applied
	var err error
	if n <= len(g.applyErr) {
		err = g.applyErr[n-1]
	}
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("fix-%d.txt", n)
	if err := os.WriteFile(filepath.Join(ws.Dir(), name), []byte(sol.Text+"\n"), 0o644); err != nil {
		return nil, err
	}
	files, err := ws.ChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	return &ai.Change{Files: files, Summary: "- " + sol.Text, CommitMessage: ai.CommitMessage(t)}, nil
}

type fakeReviewer struct {
	scores []float64
	calls  int
}

func (r *fakeReviewer) Enabled() bool { return true }

func (r *fakeReviewer) Evaluate(context.Context, review.Input) *review.Result {
	score := r.scores[len(r.scores)-1]
	if r.calls < len(r.scores) {
		score = r.scores[r.calls]
	}
	r.calls++
	return &review.Result{Score: score, Threshold: 0.7, Passed: score >= 0.7}
}

type fakeSource struct {
	statuses []ticket.Status
	comments []string
}

func (s *fakeSource) Name() string { return "fake" }
func (s *fakeSource) MatchesURL(string) bool { return false }
func (s *fakeSource) FetchTickets(context.Context) ([]ticket.Payload, error) { return nil, nil }
func (s *fakeSource) TestConnection(context.Context) error { return nil }
func (s *fakeSource) ValidateConfiguration() []string { return nil }

func (s *fakeSource) AddComment(_ context.Context, _ string, text string) error {
	s.comments = append(s.comments, text)
	return nil
}

func (s *fakeSource) UpdateStatus(_ context.Context, _ string, status ticket.Status) error {
	s.statuses = append(s.statuses, status)
	return nil
}

type fakeTarget struct {
	published []adapters.Change
	err       error
}

func (f *fakeTarget) Name() string { return "host" }
func (f *fakeTarget) MatchesURL(u string) bool { return strings.Contains(u, "example.com") }
func (f *fakeTarget) TestConnection(context.Context) error { return nil }

func (f *fakeTarget) Publish(_ context.Context, repo routing.Repository, t *ticket.Ticket, ch adapters.Change) (*adapters.Publication, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, ch)
	return &adapters.Publication{URL: "https://example.com/" + repo.Name + "/pull/3", Number: 3, Branch: ch.Branch, CommitHash: ch.CommitHash}, nil
}

func (f *fakeTarget) GetRepositoryInfo(context.Context, string, string) (*adapters.RepositoryInfo, error) {
	return &adapters.RepositoryInfo{}, nil
}
func (f *fakeTarget) AddComment(context.Context, string, int, string) error { return nil }
func (f *fakeTarget) Merge(context.Context, string, int, string) error { return nil }
func (f *fakeTarget) DeleteBranch(context.Context, string, string) error { return nil }

type harness struct {
	store  *store.Store
	clock  *clock.FakeClock
	gen    *fakeGen
	source *fakeSource
	target *fakeTarget
	deps   Deps
	ticket *ticket.Ticket
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test User"},
		{"config", "commit.gpgsign", "false"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := workspace.New(dir).CommitAll(context.Background(), "initial"); err != nil {
		t.Fatalf("initial commit: %v", err)
	}
	return dir
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := initRepo(t)
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	st, err := store.Open(&store.Config{Driver: store.DriverSQLite, Path: filepath.Join(t.TempDir(), "hourglass.db")}, store.WithClock(clk))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	router, err := routing.NewRouter([]routing.Project{{
		Key:        "acme",
		BotEnabled: true,
		Associations: []routing.Association{{
			Repository: routing.Repository{Name: "acme/api", URL: "https://example.com/acme/api", LocalPath: dir, BaseBranch: "main", BotEnabled: true},
			IsDefault:  true,
		}},
	}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	tk, _, err := st.UpsertTicket(context.Background(), ticket.Payload{
		Source:      "fake",
		ExternalKey: "acme/api#7",
		ProjectKey:  "acme",
		Title:       "Round refunds to cents",
		Description: "Refund totals are off by a fraction of a cent.",
		URL:         "https://example.com/acme/api/issues/7",
	})
	if err != nil {
		t.Fatalf("UpsertTicket: %v", err)
	}

	h := &harness{store: st, clock: clk, gen: &fakeGen{}, source: &fakeSource{}, target: &fakeTarget{}, ticket: tk}
	h.deps = Deps{
		Tickets:   st,
		Router:    router,
		Registry:  &adapters.Registry{Sources: []adapters.TicketSource{h.source}, Targets: []adapters.PublicationTarget{h.target}},
		Generator: h.gen,
		Retry:     retry.Policy{MaxAttempts: 3},
		Clock:     clk,
	}
	return h
}

func TestProcessCompletes(t *testing.T) {
	h := newHarness(t)
	p := New(h.deps)
	ctx := context.Background()

	out := p.Process(ctx, h.ticket)
	if out.Status != ticket.StatusCompleted || !out.Succeeded() {
		t.Fatalf("outcome = %s (%s: %v)", out.Status, out.Reason, out.Err)
	}

	got, err := h.store.GetTicket(ctx, h.ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ticket.StatusCompleted || !got.Retired {
		t.Errorf("stored ticket = %s retired=%v", got.Status, got.Retired)
	}
	if got.PRURL != "https://example.com/acme/api/pull/3" || got.PRNumber != 3 || got.CommitHash == "" {
		t.Errorf("publication not recorded: %+v", got)
	}
	if got.AIProviderUsed != "primary" || got.Branch != "hourglass/acme-api-7" || got.Repository != "acme/api" {
		t.Errorf("ticket fields = %+v", got)
	}

	subtasks, err := h.store.ListSubtasks(ctx, h.ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(subtasks) != 2 || !subtasks[0].Done || !subtasks[1].Done {
		t.Errorf("subtasks = %+v", subtasks)
	}

	if len(h.target.published) != 1 {
		t.Fatalf("published %d times", len(h.target.published))
	}
	ch := h.target.published[0]
	if ch.BaseBranch != "main" || ch.Draft || ch.Pusher == nil || !strings.Contains(ch.Body, "Resolves acme/api#7") {
		t.Errorf("change = %+v", ch)
	}

	if len(h.source.statuses) != 0 {
		t.Error("tracker touched before SyncTracker")
	}
	if err := p.SyncTracker(ctx, out, 0.25); err != nil {
		t.Fatalf("SyncTracker: %v", err)
	}
	if len(h.source.statuses) != 1 || h.source.statuses[0] != ticket.StatusCompleted {
		t.Errorf("statuses = %v", h.source.statuses)
	}
	if len(h.source.comments) != 3 {
		t.Fatalf("comments = %q", h.source.comments)
	}
	for i, want := range []string{"Time spent: 0.25h", "fix-1.txt", "Pull request: https://example.com/acme/api/pull/3"} {
		if !strings.Contains(h.source.comments[i], want) {
			t.Errorf("comment %d missing %q:\n%s", i, want, h.source.comments[i])
		}
	}
	if strings.Contains(h.source.comments[0], "Pull request") {
		t.Errorf("time tracking comment carries the link:\n%s", h.source.comments[0])
	}
}

func TestGenerationFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.gen.genErr = &provider.ChainError{Op: "generate_solution", Attempts: []provider.Attempt{
		{Provider: "primary", Err: errors.New("timeout")},
		{Provider: "fallback", Err: errors.New("503")},
	}}

	out := New(h.deps).Process(context.Background(), h.ticket)
	if out.Status != ticket.StatusFailed || out.Attempts != 0 {
		t.Fatalf("outcome = %s attempts=%d", out.Status, out.Attempts)
	}
	var chain *provider.ChainError
	if !errors.As(out.Err, &chain) || len(chain.Providers()) != 2 {
		t.Errorf("err = %v", out.Err)
	}
	if h.gen.applied != 0 || len(h.target.published) != 0 {
		t.Error("execution ran after generation failure")
	}
}

func TestExecutionRetriesWithBackoff(t *testing.T) {
	h := newHarness(t)
	flaky := errors.New("agent crashed")
	h.gen.applyErr = []error{flaky, flaky, flaky}
	h.deps.Retry = retry.Policy{InitialDelay: 5 * time.Second, Multiplier: 2, MaxDelay: time.Minute, MaxAttempts: 3}

	done := make(chan *Outcome)
	go func() { done <- New(h.deps).Process(context.Background(), h.ticket) }()

	start := h.clock.Now()
	h.clock.BlockUntil(1)
	h.clock.Advance(5 * time.Second)
	h.clock.BlockUntil(1)
	h.clock.Advance(10 * time.Second)

	out := <-done
	if out.Status != ticket.StatusFailed || out.Attempts != 3 {
		t.Fatalf("outcome = %s attempts=%d", out.Status, out.Attempts)
	}
	if !errors.Is(out.Err, flaky) {
		t.Errorf("err = %v", out.Err)
	}
	if elapsed := h.clock.Now().Sub(start); elapsed != 15*time.Second {
		t.Errorf("backoff total = %v, want 15s", elapsed)
	}
}

func TestExecutionRecoversOnRetry(t *testing.T) {
	h := newHarness(t)
	h.gen.applyErr = []error{errors.New("transient")}

	out := New(h.deps).Process(context.Background(), h.ticket)
	if out.Status != ticket.StatusCompleted || out.Attempts != 2 {
		t.Fatalf("outcome = %s attempts=%d err=%v", out.Status, out.Attempts, out.Err)
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.gen.applyErr = []error{retry.Permanent(errors.New("no edits"))}

	out := New(h.deps).Process(context.Background(), h.ticket)
	if out.Status != ticket.StatusFailed || out.Attempts != 1 {
		t.Fatalf("outcome = %s attempts=%d", out.Status, out.Attempts)
	}
}

func TestReviewSelfHealPasses(t *testing.T) {
	h := newHarness(t)
	rev := &fakeReviewer{scores: []float64{0.5, 0.9}}
	h.deps.Reviewer = rev

	out := New(h.deps).Process(context.Background(), h.ticket)
	if out.Status != ticket.StatusCompleted {
		t.Fatalf("outcome = %s (%s)", out.Status, out.Reason)
	}
	if !out.Healed || h.gen.generated != 2 || rev.calls != 2 {
		t.Errorf("healed=%v generated=%d reviews=%d", out.Healed, h.gen.generated, rev.calls)
	}
	if len(out.Change.Files) != 2 {
		t.Errorf("files = %v", out.Change.Files)
	}
	if h.target.published[0].Draft {
		t.Error("passing change published as draft")
	}
}

func TestReviewStillBelowPublishesFlagged(t *testing.T) {
	h := newHarness(t)
	h.deps.Reviewer = &fakeReviewer{scores: []float64{0.4, 0.5}}

	out := New(h.deps).Process(context.Background(), h.ticket)
	if out.Status != ticket.StatusRequiresReview {
		t.Fatalf("outcome = %s", out.Status)
	}
	if !strings.Contains(out.Reason, "0.50 below threshold 0.70") {
		t.Errorf("reason = %q", out.Reason)
	}
	got, _ := h.store.GetTicket(context.Background(), h.ticket.ID)
	if got.PRURL == "" {
		t.Error("flagged ticket should record its pull request")
	}
	if !h.target.published[0].Draft {
		t.Error("flagged change should be a draft")
	}
	if !strings.Contains(h.target.published[0].Body, "below the threshold") {
		t.Errorf("body = %s", h.target.published[0].Body)
	}
}

func TestPublishFailureRequiresReview(t *testing.T) {
	h := newHarness(t)
	h.target.err = provider.NewError("host", "publish", provider.KindResponse, errors.New("HTTP 500"))

	out := New(h.deps).Process(context.Background(), h.ticket)
	if out.Status != ticket.StatusRequiresReview || out.Reason != "publication failed" {
		t.Fatalf("outcome = %s (%s)", out.Status, out.Reason)
	}
}

func TestUnroutableTicketFails(t *testing.T) {
	h := newHarness(t)
	tk, _, err := h.store.UpsertTicket(context.Background(), ticket.Payload{Source: "fake", ExternalKey: "other#1", ProjectKey: "other", Title: "x"})
	if err != nil {
		t.Fatal(err)
	}

	out := New(h.deps).Process(context.Background(), tk)
	if out.Status != ticket.StatusFailed || !errors.Is(out.Err, routing.ErrUnknownProject) {
		t.Fatalf("outcome = %s err=%v", out.Status, out.Err)
	}
}

func TestAbortFailsInFlightTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.store.UpdateTicket(ctx, h.ticket.ID, func(tk *ticket.Ticket) error {
		return tk.Transition(ticket.StatusAnalyzing, h.clock.Now())
	}); err != nil {
		t.Fatal(err)
	}

	out := New(h.deps).Abort(ctx, h.ticket, errors.New("panic: nil map"))
	if out.Status != ticket.StatusFailed {
		t.Fatalf("status = %s", out.Status)
	}
	again := New(h.deps).Abort(ctx, h.ticket, errors.New("again"))
	if again.Status != ticket.StatusFailed || again.Err != nil {
		t.Errorf("second abort = %+v", again)
	}
}

func TestTrackerCommentsForFailure(t *testing.T) {
	out := &Outcome{Status: ticket.StatusFailed, Reason: "execution failed", Err: errors.New("attempt 3/3: boom")}
	comments := TrackerComments(out, 0.1)
	if len(comments) != 1 || comments[0].Kind != CommentTimeTracking {
		t.Fatalf("comments = %+v", comments)
	}
	got := comments[0].Body
	for _, want := range []string{"could not complete", "Time spent: 0.10h", "Reason: execution failed", "Error: attempt 3/3: boom"} {
		if !strings.Contains(got, want) {
			t.Errorf("comment missing %q:\n%s", want, got)
		}
	}
}

func TestTrackerCommentsSeparateKinds(t *testing.T) {
	out := &Outcome{
		Status:      ticket.StatusRequiresReview,
		Change:      &ai.Change{Summary: "- fix the handler", Files: []string{"api/handler.go"}},
		Publication: &adapters.Publication{URL: "https://example.com/acme/api/pull/9", Number: 9},
	}
	comments := TrackerComments(out, 0.5)

	var kinds []string
	for _, c := range comments {
		kinds = append(kinds, c.Kind)
	}
	want := []string{CommentTimeTracking, CommentChangeSummary, CommentPublication}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	if !strings.Contains(comments[0].Body, "needs a human review") || strings.Contains(comments[0].Body, "handler.go") {
		t.Errorf("time tracking = %q", comments[0].Body)
	}
	if !strings.Contains(comments[1].Body, "Files (1): api/handler.go") {
		t.Errorf("change summary = %q", comments[1].Body)
	}
	if comments[2].Body != "Pull request: https://example.com/acme/api/pull/9" {
		t.Errorf("publication = %q", comments[2].Body)
	}
}
