package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/hourglass/internal/config"
	"github.com/alekspetrov/hourglass/internal/gateway"
	"github.com/alekspetrov/hourglass/internal/orchestrator"
	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/testutil"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
logging:
  output: %s
storage:
  driver: sqlite
  path: %s
cache:
  backend: none
`, filepath.Join(dir, "hourglass.log"), filepath.Join(dir, "hourglass.db"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

var createdID = regexp.MustCompile(`Created session (\S+) for`)

func TestSessionCommands(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "session", "create", "--customer", "acme", "--hours", "12.5", "--meta", "invoice=INV-204")
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	m := createdID.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no session id in %q", out)
	}
	id := m[1]

	out, err = run(t, cfg, "session", "list")
	if err != nil || !strings.Contains(out, id) || !strings.Contains(out, "12.50h") {
		t.Errorf("list: %v\n%s", err, out)
	}

	out, err = run(t, cfg, "session", "show", id)
	if err != nil || !strings.Contains(out, "Customer:     acme") || !strings.Contains(out, "Remaining:    12.50h") {
		t.Errorf("show: %v\n%s", err, out)
	}

	out, err = run(t, cfg, "session", "pause", id)
	if err != nil || !strings.Contains(out, "is paused") {
		t.Errorf("pause: %v\n%s", err, out)
	}
	out, err = run(t, cfg, "session", "resume", id)
	if err != nil || !strings.Contains(out, "is active") {
		t.Errorf("resume: %v\n%s", err, out)
	}
	out, err = run(t, cfg, "session", "cancel", id)
	if err != nil || !strings.Contains(out, "is cancelled") {
		t.Errorf("cancel: %v\n%s", err, out)
	}

	out, err = run(t, cfg, "session", "list")
	if err != nil || strings.Contains(out, id) {
		t.Errorf("cancelled session listed without --all: %v\n%s", err, out)
	}
	out, err = run(t, cfg, "session", "list", "--all")
	if err != nil || !strings.Contains(out, id) {
		t.Errorf("list --all: %v\n%s", err, out)
	}
}

func TestSessionCreateRejectsBadInput(t *testing.T) {
	cfg := testConfig(t)
	if _, err := run(t, cfg, "session", "create", "--customer", "acme", "--hours=-1"); err == nil {
		t.Error("negative hours accepted")
	}
	if _, err := run(t, cfg, "session", "create", "--customer", "acme", "--hours", "1", "--meta", "novalue"); err == nil {
		t.Error("bad --meta accepted")
	}
	if _, err := run(t, cfg, "session", "show", "missing"); err == nil || !strings.Contains(err.Error(), session.ErrNotFound.Error()) {
		t.Errorf("show missing: %v", err)
	}
}

func TestTicketCommands(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "ticket", "list")
	if err != nil || !strings.Contains(out, "No tickets.") {
		t.Errorf("list: %v\n%s", err, out)
	}
	if _, err := run(t, cfg, "ticket", "list", "--status", "done"); err == nil {
		t.Error("unknown status accepted")
	}
	if _, err := run(t, cfg, "ticket", "retry", "acme/api#1"); err == nil || !strings.Contains(err.Error(), ticket.ErrNotFound.Error()) {
		t.Errorf("retry missing: %v", err)
	}
}

func TestStartRefusesInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "start", "--session", "whatever")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("start err = %v", err)
	}
}

func TestDoctorOffline(t *testing.T) {
	cfg := testConfig(t)
	out, err := run(t, cfg, "doctor", "--offline")
	if err == nil {
		t.Fatal("doctor passed with no projects or providers")
	}
	for _, want := range []string{"Hourglass Doctor", "ai.providers must list at least one provider", "reachable"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, testConfig(t), "version")
	if err != nil || out != "Hourglass v"+version+"\n" {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestStreamURL(t *testing.T) {
	cfg := &gateway.Config{Host: "0.0.0.0", Port: 9191}
	got, err := streamURL(cfg, "s 1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ws://127.0.0.1:9191/ws/sessions/s%201" {
		t.Errorf("url = %q", got)
	}
	if got, _ := streamURL(cfg, "team/7"); got != "ws://127.0.0.1:9191/ws/sessions/team%2F7" {
		t.Errorf("url with slash = %q", got)
	}

	cfg.JWTSecret = testutil.FakeJWTSecret
	got, err = streamURL(cfg, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(got)
	token := u.Query().Get("access_token")
	claims, err := gateway.NewTokenService(testutil.FakeJWTSecret, time.Hour).Validate(token)
	if err != nil || claims.Subject != "dashboard" {
		t.Errorf("token claims = %+v, %v", claims, err)
	}
}

type staticSessions struct{ s *session.Session }

func (f staticSessions) List(context.Context) ([]*session.Session, error) {
	return []*session.Session{f.s}, nil
}
func (f staticSessions) Get(context.Context, string) (*session.Session, error) { return f.s, nil }
func (f staticSessions) Pause(context.Context, string) (*session.Session, error) {
	return f.s, nil
}
func (f staticSessions) Resume(context.Context, string) (*session.Session, error) {
	return f.s, nil
}
func (f staticSessions) Report(s *session.Session) session.Report {
	return session.GenerateReport(s, time.Now())
}

type noTickets struct{}

func (noTickets) ListTickets(context.Context, ticket.Filter) ([]*ticket.Ticket, error) {
	return nil, nil
}

func TestStreamEventsFromGateway(t *testing.T) {
	hub := gateway.NewHub()
	sess := &session.Session{ID: "s-1", CustomerRef: "acme", Status: session.StatusActive, PurchasedHours: 4, RemainingHours: 4}
	srv := gateway.NewServer(&gateway.Config{Host: "127.0.0.1"}, staticSessions{sess}, noTickets{}, hub)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	port, _ := strconv.Atoi(u.Port())
	wsURL, err := streamURL(&gateway.Config{Host: u.Hostname(), Port: port}, "s-1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan orchestrator.Event, 4)
	go streamEvents(ctx, wsURL, func(ev orchestrator.Event) { events <- ev })

	select {
	case ev := <-events:
		if ev.Type != orchestrator.EventSessionUpdated || ev.Report == nil {
			t.Fatalf("first event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot event")
	}

	hub.Publish(orchestrator.Event{Type: orchestrator.EventTicketStarted, SessionID: "s-1", Ticket: "acme/api#3"})
	select {
	case ev := <-events:
		if ev.Ticket != "acme/api#3" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no published event")
	}
}

func TestStartupFeatures(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Enabled = true

	got := map[string]bool{}
	notes := map[string]string{}
	for _, f := range startupFeatures(cfg) {
		got[f.Name] = f.Enabled
		notes[f.Name] = f.Note
	}
	if !got["gateway"] || notes["gateway"] != cfg.Gateway.Addr() {
		t.Errorf("gateway = %v %q", got["gateway"], notes["gateway"])
	}
	if got["digest"] || got["email"] || got["webhooks"] {
		t.Errorf("disabled features reported enabled: %v", got)
	}
	if got["cache"] {
		t.Errorf("cache reported enabled by default")
	}
}
