package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alekspetrov/hourglass/internal/testutil"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

func TestFetchTicketsMapsIssues(t *testing.T) {
	var gotJQL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("dev@acme.io:"+testutil.FakeJiraToken))
		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/rest/api/3/search" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotJQL = r.URL.Query().Get("jql")
		_, _ = w.Write([]byte(`{"issues": [{
			"key": "PAY-42",
			"fields": {
				"summary": "Refund rounding",
				"description": {"type": "doc", "version": 1, "content": [
					{"type": "paragraph", "content": [{"type": "text", "text": "Refunds are off by a cent."}]}
				]},
				"priority": {"name": "Highest"},
				"labels": ["hourglass", "backend"],
				"components": [{"name": "billing"}],
				"project": {"key": "PAY"}
			}
		}]}`))
	}))
	defer server.Close()

	src := NewSource(&Config{BaseURL: server.URL, Username: "dev@acme.io", APIToken: testutil.FakeJiraToken, JQL: "project = PAY"})
	got, err := src.FetchTickets(context.Background())
	if err != nil {
		t.Fatalf("FetchTickets: %v", err)
	}
	if gotJQL != "project = PAY" {
		t.Errorf("jql = %q", gotJQL)
	}
	if len(got) != 1 {
		t.Fatalf("got %d tickets", len(got))
	}
	p := got[0]
	if p.ExternalKey != "PAY-42" || p.ProjectKey != "PAY" || p.Source != Name {
		t.Errorf("identity = %+v", p)
	}
	if p.Description != "Refunds are off by a cent." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Priority != ticket.PriorityCritical {
		t.Errorf("Priority = %v", p.Priority)
	}
	if len(p.Labels) != 1 || p.Labels[0] != "backend" {
		t.Errorf("Labels = %v", p.Labels)
	}
	if len(p.Components) != 1 || p.Components[0] != "billing" {
		t.Errorf("Components = %v", p.Components)
	}
	if p.URL != server.URL+"/browse/PAY-42" {
		t.Errorf("URL = %q", p.URL)
	}
	if !src.MatchesURL(p.URL) {
		t.Error("source should match its own browse URL")
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	var posted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"transitions": [
				{"id": "11", "name": "Start", "to": {"name": "In Progress"}},
				{"id": "31", "name": "Finish", "to": {"name": "Done"}}
			]}`))
		case http.MethodPost:
			var body struct {
				Transition struct {
					ID string `json:"id"`
				} `json:"transition"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			posted = body.Transition.ID
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	src := NewSource(cfg)

	if err := src.UpdateStatus(context.Background(), "PAY-42", ticket.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if posted != "31" {
		t.Errorf("transition id = %q, want 31", posted)
	}

	posted = ""
	if err := src.UpdateStatus(context.Background(), "PAY-42", ticket.StatusExecuting); err != nil {
		t.Fatalf("unmapped status: %v", err)
	}
	if posted != "" {
		t.Errorf("unmapped status should not transition, got %q", posted)
	}

	if err := src.UpdateStatus(context.Background(), "PAY-42", ticket.StatusRequiresReview); err == nil {
		t.Error("expected error when workflow lacks the mapped status")
	}
}

func TestAddCommentServerUsesPlainBody(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/OPS-1/comment" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	src := NewSource(&Config{BaseURL: server.URL, Platform: PlatformServer, Username: "u", APIToken: "t"})
	if err := src.AddComment(context.Background(), "OPS-1", "PR opened"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if body != `{"body":"PR opened"}` {
		t.Errorf("body = %s", body)
	}
}

func TestDescriptionText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", `null`, ""},
		{"plain", `"Fix it.\nh2. Environment\nprod\nh2. Notes\nkeep"`, "Fix it.\nh2. Notes\nkeep"},
		{"adf code", `{"type":"doc","content":[{"type":"codeBlock","content":[{"type":"text","text":"x := 1"}]}]}`, "```\nx := 1\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := descriptionText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("descriptionText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	problems := (&Config{Platform: "datacenter"}).Validate()
	joined := strings.Join(problems, "\n")
	for _, want := range []string{"base_url", "username", "api_token", "platform"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing problem for %s: %v", want, problems)
		}
	}
}
