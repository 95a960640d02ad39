package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/testutil"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

func TestFetchTickets(t *testing.T) {
	var gotLabels string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != testutil.FakeGitLabToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.EscapedPath() != "/api/v4/projects/acme%2Fapi/issues" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotLabels = r.URL.Query().Get("labels")
		_, _ = w.Write([]byte(`[
			{"iid": 5, "title": "Slow query", "description": "p99 is 2s", "web_url": "https://gitlab.com/acme/api/-/issues/5",
			 "labels": ["hourglass", "priority::critical", "component::db", "perf"]},
			{"iid": 6, "title": "Done", "labels": ["hourglass", "hourglass-done"]}
		]`))
	}))
	defer server.Close()

	src := NewSource(&Config{Token: testutil.FakeGitLabToken, BaseURL: server.URL, Projects: []string{"acme/api"}})
	got, err := src.FetchTickets(context.Background())
	if err != nil {
		t.Fatalf("FetchTickets: %v", err)
	}
	if gotLabels != "hourglass" {
		t.Errorf("labels filter = %q", gotLabels)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tickets, want 1", len(got))
	}
	p := got[0]
	if p.ExternalKey != "acme/api#5" || p.ProjectKey != "acme/api" {
		t.Errorf("identity = %+v", p)
	}
	if p.Priority != ticket.PriorityCritical {
		t.Errorf("Priority = %v", p.Priority)
	}
	if len(p.Components) != 1 || p.Components[0] != "db" {
		t.Errorf("Components = %v", p.Components)
	}
	if len(p.Labels) != 1 || p.Labels[0] != "perf" {
		t.Errorf("Labels = %v", p.Labels)
	}
}

func TestUpdateStatusCompleted(t *testing.T) {
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.EscapedPath() != "/api/v4/projects/acme%2Fapi/issues/5" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	src := NewSource(&Config{Token: "x", BaseURL: server.URL})
	if err := src.UpdateStatus(context.Background(), "acme/api#5", ticket.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if body["add_labels"] != "hourglass-done" || body["remove_labels"] != "hourglass-in-progress" || body["state_event"] != "close" {
		t.Errorf("update body = %v", body)
	}
}

func TestPublishReusesOpenMergeRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message": ["Another open merge request already exists"]}`))
		case http.MethodGet:
			if r.URL.Query().Get("source_branch") != "hourglass/fix" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			_, _ = w.Write([]byte(`[{"iid": 3, "web_url": "https://gitlab.com/acme/api/-/merge_requests/3"}]`))
		}
	}))
	defer server.Close()

	pub := NewPublisher(&Config{Token: "x", BaseURL: server.URL})
	res, err := pub.Publish(context.Background(), routing.Repository{Name: "acme/api"},
		&ticket.Ticket{ExternalKey: "acme/api#5"}, adapters.Change{Branch: "hourglass/fix", Title: "Fix"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Number != 3 || res.Branch != "hourglass/fix" {
		t.Errorf("publication = %+v", res)
	}
}

func TestPublishDraftTitle(t *testing.T) {
	var in MergeRequestInput
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"iid": 1, "web_url": "u"}`))
	}))
	defer server.Close()

	pub := NewPublisher(&Config{Token: "x", BaseURL: server.URL})
	_, err := pub.Publish(context.Background(), routing.Repository{Name: "acme/api", BaseBranch: "develop"},
		&ticket.Ticket{}, adapters.Change{Branch: "b", Title: "Fix", Draft: true})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if in.Title != "Draft: Fix" || in.TargetBranch != "develop" {
		t.Errorf("input = %+v", in)
	}
}

func TestParseKey(t *testing.T) {
	project, iid, err := parseKey("group/sub/project#12")
	if err != nil || project != "group/sub/project" || iid != 12 {
		t.Errorf("parseKey = %q %d %v", project, iid, err)
	}
	if _, _, err := parseKey("#12"); err == nil {
		t.Error("expected error for missing project")
	}
}

func TestMatchesURL(t *testing.T) {
	pub := NewPublisher(&Config{Token: "x", BaseURL: "https://git.acme.io"})
	if !pub.MatchesURL("git@git.acme.io:team/api.git") {
		t.Error("scp remote not matched")
	}
	if pub.MatchesURL("https://github.com/team/api") {
		t.Error("github URL matched gitlab")
	}
}
