package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/logging"
)

// Store persists sessions. UpdateSession must run fn inside a single
// transaction against the freshly read row and persist the result.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	UpdateSession(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
}

// Cache holds read-through session snapshots. The ledger invalidates an
// entry after every successful write.
type Cache interface {
	Get(ctx context.Context, id string) (*Session, bool)
	Set(ctx context.Context, s *Session)
	Invalidate(ctx context.Context, id string)
}

// Ledger is the only writer of session consumption and status.
type Ledger struct {
	store Store
	cache Cache
	clock clock.Clock
	log   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCache enables snapshot caching.
func WithCache(c Cache) Option { return func(l *Ledger) { l.cache = c } }

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: clock.Real(),
		log:   logging.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create opens a new active session with purchasedHours available.
func (l *Ledger) Create(ctx context.Context, customerRef string, purchasedHours float64, metadata map[string]string) (*Session, error) {
	if purchasedHours <= 0 || math.IsNaN(purchasedHours) || math.IsInf(purchasedHours, 0) {
		return nil, fmt.Errorf("%w: purchased hours must be positive, got %v", ErrInvalidInput, purchasedHours)
	}
	if customerRef == "" {
		return nil, fmt.Errorf("%w: customer reference is required", ErrInvalidInput)
	}

	now := l.clock.Now().UTC()
	purchased := roundHours(purchasedHours)
	s := &Session{
		ID:             uuid.NewString(),
		CustomerRef:    customerRef,
		Metadata:       metadata,
		PurchasedHours: purchased,
		RemainingHours: purchased,
		Status:         StatusActive,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	l.log.Info("Session created",
		slog.String("session_id", s.ID),
		slog.String("customer", customerRef),
		slog.Float64("hours", purchased))
	return s, nil
}

// Get returns a session, consulting the cache first.
func (l *Ledger) Get(ctx context.Context, id string) (*Session, error) {
	if l.cache != nil {
		if s, ok := l.cache.Get(ctx, id); ok {
			return s, nil
		}
	}
	s, err := l.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.Set(ctx, s)
	}
	return s, nil
}

// List returns every session.
func (l *Ledger) List(ctx context.Context) ([]*Session, error) {
	return l.store.ListSessions(ctx)
}

// ConsumeHours bills hours against the session in one atomic update and
// expires it when nothing remains. Terminal sessions still get bookkeeping.
func (l *Ledger) ConsumeHours(ctx context.Context, id string, hours float64, successful bool) (*Session, error) {
	if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return nil, fmt.Errorf("%w: hours must be a non-negative number, got %v", ErrInvalidInput, hours)
	}

	now := l.clock.Now().UTC()
	var wasExpired bool
	s, err := l.update(ctx, id, func(s *Session) error {
		wasExpired = s.IsExpired()
		s.consume(hours, successful, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("Hours consumed",
		slog.String("session_id", id),
		slog.Float64("hours", hours),
		slog.Bool("successful", successful),
		slog.Float64("consumed", s.ConsumedHours),
		slog.Float64("remaining", s.RemainingHours))
	if s.IsExpired() && !wasExpired {
		l.log.Warn("Session expired", slog.String("session_id", id))
	}
	return s, nil
}

// MarkExpired forces expiry. Calling it again changes nothing.
func (l *Ledger) MarkExpired(ctx context.Context, id string) (*Session, error) {
	now := l.clock.Now().UTC()
	return l.update(ctx, id, func(s *Session) error {
		if s.Status == StatusCancelled {
			return nil
		}
		s.expire(now)
		return nil
	})
}

// Pause stops billing. Non-active sessions are returned unchanged.
func (l *Ledger) Pause(ctx context.Context, id string) (*Session, error) {
	now := l.clock.Now().UTC()
	return l.update(ctx, id, func(s *Session) error {
		if s.Status != StatusActive {
			return nil
		}
		s.Status = StatusPaused
		s.PausedAt = &now
		s.UpdatedAt = now
		return nil
	})
}

// Resume reactivates a paused session. It is a no-op unless the session can
// be active.
func (l *Ledger) Resume(ctx context.Context, id string) (*Session, error) {
	now := l.clock.Now().UTC()
	return l.update(ctx, id, func(s *Session) error {
		if !s.CanBeActive() || s.Status == StatusActive {
			return nil
		}
		s.Status = StatusActive
		s.PausedAt = nil
		s.UpdatedAt = now
		return nil
	})
}

// Cancel ends a session for good. Expired sessions cannot be cancelled.
func (l *Ledger) Cancel(ctx context.Context, id string) (*Session, error) {
	now := l.clock.Now().UTC()
	return l.update(ctx, id, func(s *Session) error {
		if s.Status == StatusCancelled {
			return nil
		}
		if !s.Status.CanTransitionTo(StatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusCancelled)
		}
		s.Status = StatusCancelled
		s.CancelledAt = &now
		s.UpdatedAt = now
		return nil
	})
}

// ShouldSendWarning is true when the threshold was crossed and its flag is
// still unset. The caller flips the flag with MarkWarningSent after delivery.
func ShouldSendWarning(s *Session, th Threshold) bool {
	if s.WarningSent(th) {
		return false
	}
	switch th {
	case Warning75, Warning90:
	default:
		return false
	}
	return s.UsagePercent() >= float64(th)
}

// ShouldSendWarning is a convenience wrapper over the package function.
func (l *Ledger) ShouldSendWarning(s *Session, th Threshold) bool {
	return ShouldSendWarning(s, th)
}

// MarkWarningSent records delivery of a threshold warning.
func (l *Ledger) MarkWarningSent(ctx context.Context, id string, th Threshold) (*Session, error) {
	if th != Warning75 && th != Warning90 {
		return nil, fmt.Errorf("%w: unknown threshold %d", ErrInvalidInput, th)
	}
	now := l.clock.Now().UTC()
	return l.update(ctx, id, func(s *Session) error {
		switch th {
		case Warning75:
			s.Warning75Sent = true
		case Warning90:
			s.Warning90Sent = true
		}
		s.UpdatedAt = now
		return nil
	})
}

// MarkExpiryNotified records delivery of the expiry notice.
func (l *Ledger) MarkExpiryNotified(ctx context.Context, id string) (*Session, error) {
	now := l.clock.Now().UTC()
	return l.update(ctx, id, func(s *Session) error {
		s.ExpiryNotificationSent = true
		s.UpdatedAt = now
		return nil
	})
}

// Report projects a session into a report.
func (l *Ledger) Report(s *Session) Report {
	return GenerateReport(s, l.clock.Now())
}

func (l *Ledger) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	s, err := l.store.UpdateSession(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.Invalidate(ctx, id)
	}
	return s, nil
}

// Elapsed converts a wall-clock span into billable hours.
func Elapsed(start, end time.Time) float64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return roundHours(d.Hours())
}
