package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/hourglass/internal/clock"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) ListSessions(_ context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *memStore) UpdateSession(_ context.Context, id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	return next.Clone(), nil
}

type countingCache struct {
	entries     map[string]*Session
	invalidated []string
}

func (c *countingCache) Get(_ context.Context, id string) (*Session, bool) {
	s, ok := c.entries[id]
	return s, ok
}

func (c *countingCache) Set(_ context.Context, s *Session) { c.entries[s.ID] = s }

func (c *countingCache) Invalidate(_ context.Context, id string) {
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(start)
	return NewLedger(newMemStore(), WithClock(clk)), clk
}

func mustCreate(t *testing.T, l *Ledger, hours float64) *Session {
	t.Helper()
	s, err := l.Create(context.Background(), "cust-1", hours, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreateRejectsNonPositiveHours(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, h := range []float64{0, -1, math.NaN()} {
		if _, err := l.Create(context.Background(), "cust-1", h, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Create(%v) error = %v, want ErrInvalidInput", h, err)
		}
	}
}

func TestCreateInitialState(t *testing.T) {
	l, _ := newTestLedger(t)
	s := mustCreate(t, l, 10)

	if s.Status != StatusActive || s.ConsumedHours != 0 || s.RemainingHours != 10 {
		t.Errorf("unexpected initial session: %+v", s)
	}
	if !s.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt, start)
	}
}

func TestConsumeThreeSuccessfulTickets(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 10)

	var err error
	for i := 0; i < 3; i++ {
		s, err = l.ConsumeHours(ctx, s.ID, 0.25, true)
		if err != nil {
			t.Fatalf("ConsumeHours: %v", err)
		}
	}

	if s.ConsumedHours != 0.75 || s.RemainingHours != 9.25 {
		t.Errorf("consumed=%v remaining=%v, want 0.75/9.25", s.ConsumedHours, s.RemainingHours)
	}
	if s.TicketsProcessed != 3 || s.TicketsSuccessful != 3 || s.TicketsFailed != 0 {
		t.Errorf("counters = %d/%d/%d", s.TicketsProcessed, s.TicketsSuccessful, s.TicketsFailed)
	}
	for _, th := range Thresholds {
		if ShouldSendWarning(s, th) {
			t.Errorf("unexpected warning at %d", th)
		}
	}
}

func TestWarningSuppressedAfterFlip(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 10)

	s, _ = l.ConsumeHours(ctx, s.ID, 7.4, true)
	if ShouldSendWarning(s, Warning75) {
		t.Fatal("74% should not trigger the 75 warning")
	}

	s, _ = l.ConsumeHours(ctx, s.ID, 0.2, true)
	if s.ConsumedHours != 7.6 {
		t.Fatalf("consumed = %v, want 7.6", s.ConsumedHours)
	}
	if !ShouldSendWarning(s, Warning75) {
		t.Fatal("76% should trigger the 75 warning")
	}
	if ShouldSendWarning(s, Warning90) {
		t.Fatal("76% should not trigger the 90 warning")
	}

	s, err := l.MarkWarningSent(ctx, s.ID, Warning75)
	if err != nil {
		t.Fatalf("MarkWarningSent: %v", err)
	}
	if ShouldSendWarning(s, Warning75) {
		t.Error("75 warning should stay suppressed after the flag flip")
	}

	s, _ = l.ConsumeHours(ctx, s.ID, 1.5, true)
	if ShouldSendWarning(s, Warning75) {
		t.Error("75 warning resurfaced after more consumption")
	}
	if !ShouldSendWarning(s, Warning90) {
		t.Error("91% should trigger the 90 warning")
	}
}

func TestConsumeExpiresInSameOperation(t *testing.T) {
	l, clk := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 10)

	s, _ = l.ConsumeHours(ctx, s.ID, 9.95, true)
	if s.RemainingHours != 0.05 {
		t.Fatalf("remaining = %v, want 0.05", s.RemainingHours)
	}

	clk.Advance(time.Minute)
	s, err := l.ConsumeHours(ctx, s.ID, 0.1, false)
	if err != nil {
		t.Fatalf("ConsumeHours: %v", err)
	}
	if s.ConsumedHours != 10.05 {
		t.Errorf("consumed = %v, want 10.05", s.ConsumedHours)
	}
	if s.RemainingHours != 0 || s.Status != StatusExpired {
		t.Errorf("remaining=%v status=%s, want 0/expired", s.RemainingHours, s.Status)
	}
	if s.ExpiredAt == nil || !s.ExpiredAt.Equal(start.Add(time.Minute)) {
		t.Errorf("ExpiredAt = %v", s.ExpiredAt)
	}
}

func TestExpiryIsFixedPoint(t *testing.T) {
	l, clk := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 1)

	s, _ = l.ConsumeHours(ctx, s.ID, 1, true)
	expiredAt := *s.ExpiredAt

	clk.Advance(time.Hour)
	s, _ = l.MarkExpired(ctx, s.ID)
	s, _ = l.ConsumeHours(ctx, s.ID, 0.5, false)
	s, _ = l.Resume(ctx, s.ID)

	if s.Status != StatusExpired || s.RemainingHours != 0 {
		t.Errorf("status=%s remaining=%v, want expired/0", s.Status, s.RemainingHours)
	}
	if !s.ExpiredAt.Equal(expiredAt) {
		t.Errorf("ExpiredAt moved from %v to %v", expiredAt, *s.ExpiredAt)
	}
	if s.TicketsProcessed != 2 || s.TicketsFailed != 1 {
		t.Errorf("bookkeeping not applied on expired session: %+v", s)
	}
}

func TestCancelledSessionStaysCancelled(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 1)

	if _, err := l.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	s, _ = l.ConsumeHours(ctx, s.ID, 2, true)
	if s.Status != StatusCancelled || s.RemainingHours != 0 {
		t.Errorf("status=%s remaining=%v", s.Status, s.RemainingHours)
	}
	s, _ = l.Resume(ctx, s.ID)
	if s.Status != StatusCancelled {
		t.Errorf("resume revived cancelled session: %s", s.Status)
	}
}

func TestCancelExpiredFails(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 1)
	_, _ = l.MarkExpired(ctx, s.ID)

	if _, err := l.Cancel(ctx, s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Cancel(expired) error = %v, want ErrInvalidTransition", err)
	}
}

func TestPauseResume(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	s := mustCreate(t, l, 5)

	s, _ = l.Pause(ctx, s.ID)
	if s.Status != StatusPaused || s.PausedAt == nil {
		t.Fatalf("Pause: %+v", s)
	}
	if s.IsActive() {
		t.Error("paused session reports active")
	}

	s, _ = l.Resume(ctx, s.ID)
	if s.Status != StatusActive || s.PausedAt != nil {
		t.Errorf("Resume: %+v", s)
	}
}

func TestConsumeRejectsNegativeHours(t *testing.T) {
	l, _ := newTestLedger(t)
	s := mustCreate(t, l, 5)
	if _, err := l.ConsumeHours(context.Background(), s.ID, -0.1, true); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestRemainingInvariantHoldsForRandomSequences(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		purchased := float64(1 + rng.Intn(20))
		s := mustCreate(t, l, purchased)
		for i := 0; i < 40; i++ {
			var err error
			s, err = l.ConsumeHours(ctx, s.ID, roundHours(rng.Float64()), rng.Intn(2) == 0)
			if err != nil {
				t.Fatalf("ConsumeHours: %v", err)
			}
			want := roundHours(math.Max(0, s.PurchasedHours-s.ConsumedHours))
			if s.RemainingHours != want {
				t.Fatalf("remaining %v != max(0, %v-%v)", s.RemainingHours, s.PurchasedHours, s.ConsumedHours)
			}
			if s.RemainingHours < 0 || s.RemainingHours > s.PurchasedHours {
				t.Fatalf("remaining %v out of [0, %v]", s.RemainingHours, s.PurchasedHours)
			}
			if s.IsExpired() && s.RemainingHours != 0 {
				t.Fatalf("expired session with remaining %v", s.RemainingHours)
			}
		}
	}
}

func TestLedgerInvalidatesCacheOnWrite(t *testing.T) {
	cache := &countingCache{entries: make(map[string]*Session)}
	l := NewLedger(newMemStore(), WithClock(clock.Fake(start)), WithCache(cache))
	ctx := context.Background()
	s := mustCreate(t, l, 4)

	if _, err := l.Get(ctx, s.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := cache.entries[s.ID]; !ok {
		t.Fatal("Get did not populate cache")
	}

	if _, err := l.ConsumeHours(ctx, s.ID, 1, true); err != nil {
		t.Fatalf("ConsumeHours: %v", err)
	}
	if _, ok := cache.entries[s.ID]; ok {
		t.Error("cache entry survived a write")
	}

	got, _ := l.Get(ctx, s.ID)
	if got.ConsumedHours != 1 {
		t.Errorf("Get after write returned stale consumed=%v", got.ConsumedHours)
	}
}

func TestGenerateReport(t *testing.T) {
	s := &Session{
		ID:                "s1",
		PurchasedHours:    10,
		ConsumedHours:     2,
		RemainingHours:    8,
		Status:            StatusActive,
		TicketsProcessed:  4,
		TicketsSuccessful: 3,
		TicketsFailed:     1,
	}

	r := GenerateReport(s, start)
	if r.SuccessRate != 75 {
		t.Errorf("SuccessRate = %v, want 75", r.SuccessRate)
	}
	if r.AverageHoursPerTicket != 0.5 {
		t.Errorf("AverageHoursPerTicket = %v, want 0.5", r.AverageHoursPerTicket)
	}
	if r.EstimatedRemainingTickets != 16 {
		t.Errorf("EstimatedRemainingTickets = %d, want 16", r.EstimatedRemainingTickets)
	}
	if r.UsagePercent != 20 {
		t.Errorf("UsagePercent = %v, want 20", r.UsagePercent)
	}

	empty := GenerateReport(&Session{PurchasedHours: 5, RemainingHours: 5}, start)
	if empty.EstimatedRemainingTickets != 0 || empty.SuccessRate != 0 {
		t.Errorf("empty report = %+v", empty)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusExpired, true},
		{StatusExpired, StatusActive, false},
		{StatusCancelled, StatusActive, false},
		{StatusExpired, StatusCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	if _, err := ParseStatus("zombie"); err == nil {
		t.Error("ParseStatus accepted unknown status")
	}
}

func TestElapsed(t *testing.T) {
	if got := Elapsed(start, start.Add(15*time.Minute)); got != 0.25 {
		t.Errorf("Elapsed(15m) = %v", got)
	}
	if got := Elapsed(start, start.Add(-time.Minute)); got != 0 {
		t.Errorf("Elapsed(negative) = %v", got)
	}
}
