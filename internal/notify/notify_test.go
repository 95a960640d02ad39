package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/testutil"
)

type recordingSender struct {
	to      []string
	subject string
	body    string
	err     error
}

func (r *recordingSender) Send(_ context.Context, to []string, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	return r.err
}

type failingChannel struct{ calls int }

func (f *failingChannel) Name() string { return "broken" }
func (f *failingChannel) Send(context.Context, Event) error {
	f.calls++
	return errors.New("unreachable")
}

func testSession() *session.Session {
	return &session.Session{
		ID:                "3f2b9c1e-0000-4000-8000-000000000000",
		CustomerRef:       "acme",
		Status:            session.StatusActive,
		PurchasedHours:    10,
		ConsumedHours:     7.6,
		RemainingHours:    2.4,
		TicketsProcessed:  4,
		TicketsSuccessful: 3,
		TicketsFailed:     1,
		StartedAt:         time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestEmailWarning(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(NewEmailChannel(sender, []string{"owner@acme.io"}))

	if err := d.SessionWarning(context.Background(), testSession(), session.Warning75); err != nil {
		t.Fatalf("SessionWarning: %v", err)
	}
	if sender.subject != "[Hourglass] Session 3f2b9c1e has used 75% of its hours" {
		t.Errorf("subject = %q", sender.subject)
	}
	for _, want := range []string{"75% of purchased hours used", "7.60 of 10.00", "acme", "3 successful"} {
		if !strings.Contains(sender.body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestWebhookSignsPayload(t *testing.T) {
	var got Event
	var sigOK bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sigOK = VerifySignature(body, r.Header.Get(SignatureHeader), testutil.FakeWebhookSecret)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := New(&Config{Webhooks: []WebhookConfig{{URL: server.URL, Secret: testutil.FakeWebhookSecret}}})
	s := testSession()
	if err := d.SessionExpired(context.Background(), s); err != nil {
		t.Fatalf("SessionExpired: %v", err)
	}
	if !sigOK {
		t.Error("signature did not verify")
	}
	if got.Type != EventSessionExpired || got.SessionID != s.ID || got.Report.TicketsProcessed != 4 {
		t.Errorf("event = %+v", got)
	}
}

func TestWebhookNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: server.URL})
	if err := ch.Send(context.Background(), Event{Type: EventSessionReport}); err == nil {
		t.Error("expected error for 502")
	}
}

func TestDispatcherTriesEveryChannel(t *testing.T) {
	broken := &failingChannel{}
	sender := &recordingSender{}
	d := NewDispatcher(broken, NewEmailChannel(sender, []string{"a@b.c"}))

	err := d.SessionReport(context.Background(), session.GenerateReport(testSession(), time.Now()))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v", err)
	}
	if sender.subject == "" {
		t.Error("email channel skipped after earlier failure")
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"session.report"}`)
	sig := Sign(payload, "s3cret")
	if !VerifySignature(payload, sig, "s3cret") {
		t.Error("valid signature rejected")
	}
	if VerifySignature(payload, sig, "other") || VerifySignature(payload, "", "s3cret") {
		t.Error("invalid signature accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{
		Email:    &EmailConfig{Enabled: true},
		Webhooks: []WebhookConfig{{Name: "x"}},
	}
	if p := cfg.Validate(); len(p) != 4 {
		t.Errorf("problems = %v", p)
	}
	if p := DefaultConfig().Validate(); len(p) != 0 {
		t.Errorf("default problems = %v", p)
	}
}
