// Package orchestrator runs the single-threaded polling loop that turns
// tickets into billed hours for one session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/hourglass/internal/adapters"
	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/notify"
	"github.com/alekspetrov/hourglass/internal/pipeline"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/store"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

// ErrSessionInactive is returned by Run when the session cannot be billed.
var ErrSessionInactive = errors.New("session cannot be active")

// Processor runs a ticket to a terminal state. *pipeline.Pipeline
// implements it.
type Processor interface {
	Process(ctx context.Context, t *ticket.Ticket) *pipeline.Outcome
	Abort(ctx context.Context, t *ticket.Ticket, cause error) *pipeline.Outcome
	SyncTracker(ctx context.Context, o *pipeline.Outcome, hours float64) error
}

// Leaser guards a session against concurrent orchestrators.
type Leaser interface {
	AcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	RenewLease(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, sessionID, owner string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Config    *Config
	Ledger    *session.Ledger
	Tickets   ticket.Store
	Sources   []adapters.TicketSource
	Router    *routing.Router
	Processor Processor
	Notifier  notify.Notifier
	Leases    Leaser
	Events    Publisher
	Clock     clock.Clock
	// Owner identifies this process in the session lease.
	Owner string
}

// Orchestrator drives one session.
type Orchestrator struct {
	sessionID string
	cfg       *Config
	ledger    *session.Ledger
	tickets   ticket.Store
	sources   []adapters.TicketSource
	router    *routing.Router
	processor Processor
	notifier  notify.Notifier
	leases    Leaser
	events    Publisher
	clock     clock.Clock
	owner     string
	log       *slog.Logger

	lastLoad time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an orchestrator for sessionID.
func New(sessionID string, d Deps) *Orchestrator {
	o := &Orchestrator{
		sessionID: sessionID,
		cfg:       d.Config,
		ledger:    d.Ledger,
		tickets:   d.Tickets,
		sources:   d.Sources,
		router:    d.Router,
		processor: d.Processor,
		notifier:  d.Notifier,
		leases:    d.Leases,
		events:    d.Events,
		clock:     d.Clock,
		owner:     d.Owner,
		log:       logging.WithComponent("orchestrator").With(slog.String("session_id", sessionID)),
		stopCh:    make(chan struct{}),
	}
	if o.cfg == nil {
		o.cfg = DefaultConfig()
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.events == nil {
		o.events = nopPublisher{}
	}
	if o.owner == "" {
		o.owner = DefaultOwner()
	}
	return o
}

// DefaultOwner builds a lease owner token from host, pid and a random suffix.
func DefaultOwner() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Run loops until Stop, ctx cancellation or the session can no longer be
// billed. It fails fast when another process holds the session lease.
func (o *Orchestrator) Run(ctx context.Context) error {
	s, err := o.ledger.Get(ctx, o.sessionID)
	if err != nil {
		return err
	}

	if o.leases != nil {
		if err := o.leases.AcquireLease(ctx, o.sessionID, o.owner, o.cfg.LeaseTTL); err != nil {
			return err
		}
		defer func() {
			if err := o.leases.ReleaseLease(context.Background(), o.sessionID, o.owner); err != nil {
				o.log.Warn("Failed to release session lease", slog.Any("error", err))
			}
		}()
	}

	if !s.CanBeActive() {
		// A previous run may have expired the session without delivering
		// the notice.
		inactive := fmt.Errorf("%w: %s is %s with %.4fh remaining", ErrSessionInactive, s.ID, s.Status, s.RemainingHours)
		if err := o.handleExpiry(ctx, s); err != nil {
			return errors.Join(inactive, err)
		}
		return inactive
	}

	o.log.Info("Orchestrator started",
		slog.String("owner", o.owner),
		slog.Float64("remaining_hours", s.RemainingHours))
	defer o.events.Publish(Event{Type: EventStopped, SessionID: o.sessionID, Timestamp: o.clock.Now().UTC()})

	for {
		if o.stopping(ctx) {
			o.log.Info("Orchestrator stopped")
			return nil
		}

		more, err := o.safeTick(ctx)
		if err != nil {
			if errors.Is(err, store.ErrLeaseHeld) {
				o.log.Error("Session lease lost, stopping", slog.Any("error", err))
				return err
			}
			o.log.Error("Tick failed, cooling down",
				slog.Duration("cooldown", o.cfg.ErrorCooldown),
				slog.Any("error", err))
			if !o.wait(ctx, o.cfg.ErrorCooldown) {
				return nil
			}
			continue
		}
		if !more {
			o.log.Info("Session can no longer be billed, stopping")
			return nil
		}
		if !o.wait(ctx, o.cfg.TickInterval) {
			o.log.Info("Orchestrator stopped")
			return nil
		}
	}
}

// Stop asks Run to exit after the ticket in flight is billed.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) stopping(ctx context.Context) bool {
	select {
	case <-o.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// wait sleeps for d and reports false if stopped meanwhile.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-o.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-o.clock.After(d):
		return true
	}
}

func (o *Orchestrator) safeTick(ctx context.Context) (more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Tick panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			more, err = true, fmt.Errorf("tick panic: %v", r)
		}
	}()
	return o.Tick(ctx)
}

// Tick runs one iteration: renew the lease, deliver pending warnings, load
// tickets when due, process at most one ticket, bill it and handle warnings
// and expiry. It reports false once the session can no longer be billed.
func (o *Orchestrator) Tick(ctx context.Context) (bool, error) {
	if err := o.renewLease(ctx); err != nil {
		return false, err
	}

	s, err := o.ledger.Get(ctx, o.sessionID)
	if err != nil {
		return true, fmt.Errorf("load session: %w", err)
	}
	if !s.CanBeActive() {
		return false, o.handleExpiry(ctx, s)
	}
	// Warnings whose delivery failed earlier are retried here even when no
	// ticket gets billed.
	o.sendWarnings(ctx, s)
	if !s.IsActive() {
		o.log.Debug("Session paused, idling")
		return true, nil
	}

	if o.lastLoad.IsZero() || o.clock.Now().Sub(o.lastLoad) >= o.cfg.TicketLoadInterval {
		o.loadTickets(ctx)
		o.lastLoad = o.clock.Now()
	}

	t, err := o.next(ctx)
	if err != nil {
		return true, err
	}
	if t == nil {
		return true, nil
	}

	s, err = o.processAndBill(ctx, t)
	if err != nil {
		return true, err
	}

	o.sendWarnings(ctx, s)

	if !s.CanBeActive() {
		return false, o.handleExpiry(ctx, s)
	}
	return true, nil
}

func (o *Orchestrator) renewLease(ctx context.Context) error {
	if o.leases == nil {
		return nil
	}
	return o.leases.RenewLease(ctx, o.sessionID, o.owner, o.cfg.LeaseTTL)
}

// loadTickets upserts tickets from every source. A failing source is
// logged and skipped.
func (o *Orchestrator) loadTickets(ctx context.Context) {
	for _, src := range o.sources {
		payloads, err := src.FetchTickets(ctx)
		if err != nil {
			o.log.Warn("Failed to fetch tickets",
				slog.String("source", src.Name()),
				slog.Any("error", err))
			continue
		}
		created := 0
		for _, p := range payloads {
			if p.Source == "" {
				p.Source = src.Name()
			}
			_, isNew, err := o.tickets.UpsertTicket(ctx, p)
			if err != nil {
				o.log.Warn("Failed to store ticket",
					slog.String("ticket", p.ExternalKey),
					slog.Any("error", err))
				continue
			}
			if isNew {
				created++
			}
		}
		o.log.Debug("Tickets loaded",
			slog.String("source", src.Name()),
			slog.Int("fetched", len(payloads)),
			slog.Int("new", created))
	}
}

// next returns the oldest pending ticket that routes to a bot-enabled
// project and repository and is not owned by another session.
func (o *Orchestrator) next(ctx context.Context) (*ticket.Ticket, error) {
	pending, err := o.tickets.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending tickets: %w", err)
	}
	for _, t := range pending {
		if t.SessionID != "" && t.SessionID != o.sessionID {
			continue
		}
		if o.router != nil && !o.router.Eligible(t) {
			continue
		}
		return t, nil
	}
	return nil, nil
}

// processAndBill runs the pipeline and bills the elapsed time exactly once,
// whatever the pipeline did.
func (o *Orchestrator) processAndBill(ctx context.Context, t *ticket.Ticket) (*session.Session, error) {
	log := o.log.With(slog.String("ticket", t.ExternalKey))

	t, err := o.tickets.UpdateTicket(ctx, t.ID, func(t *ticket.Ticket) error {
		t.SessionID = o.sessionID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim ticket: %w", err)
	}

	start := o.clock.Now()
	o.events.Publish(Event{Type: EventTicketStarted, SessionID: o.sessionID, Ticket: t.ExternalKey, Timestamp: start.UTC()})
	log.Info("Processing ticket", slog.String("title", t.Title))

	outcome := o.process(ctx, t)
	hours := session.Elapsed(start, o.clock.Now())

	// Billing must survive a cancelled run context.
	billCtx := context.WithoutCancel(ctx)
	if err := o.renewLease(billCtx); err != nil {
		log.Warn("Lease renewal before billing failed", slog.Any("error", err))
	}
	s, err := o.ledger.ConsumeHours(billCtx, o.sessionID, hours, outcome.Succeeded())
	if err != nil {
		return nil, fmt.Errorf("bill %.4fh for %s: %w", hours, t.ExternalKey, err)
	}
	if _, err := o.tickets.UpdateTicket(billCtx, t.ID, func(t *ticket.Ticket) error {
		t.HoursConsumed += hours
		return nil
	}); err != nil {
		log.Warn("Failed to record ticket hours", slog.Any("error", err))
	}

	if err := o.processor.SyncTracker(billCtx, outcome, hours); err != nil {
		log.Warn("Tracker not updated", slog.Any("error", err))
	}

	report := session.GenerateReport(s, o.clock.Now())
	o.events.Publish(Event{
		Type:      EventTicketFinished,
		SessionID: o.sessionID,
		Ticket:    t.ExternalKey,
		Status:    string(outcome.Status),
		Hours:     hours,
		Message:   outcome.Reason,
		Timestamp: o.clock.Now().UTC(),
	})
	o.events.Publish(Event{Type: EventSessionUpdated, SessionID: o.sessionID, Report: &report, Timestamp: o.clock.Now().UTC()})
	return s, nil
}

// process converts a pipeline panic into a failed ticket.
func (o *Orchestrator) process(ctx context.Context, t *ticket.Ticket) (out *pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Pipeline panicked",
				slog.String("ticket", t.ExternalKey),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			out = o.processor.Abort(context.WithoutCancel(ctx), t, fmt.Errorf("pipeline panic: %v", r))
		}
	}()
	return o.processor.Process(ctx, t)
}

// sendWarnings delivers each crossed threshold once. The flag is only set
// after delivery succeeded so a failed send is retried next tick.
func (o *Orchestrator) sendWarnings(ctx context.Context, s *session.Session) {
	for _, th := range session.Thresholds {
		if !session.ShouldSendWarning(s, th) {
			continue
		}
		if o.notifier != nil {
			if err := o.notifier.SessionWarning(ctx, s, th); err != nil {
				o.log.Warn("Warning delivery failed",
					slog.Int("threshold", int(th)),
					slog.Any("error", err))
				continue
			}
		}
		updated, err := o.ledger.MarkWarningSent(ctx, s.ID, th)
		if err != nil {
			o.log.Warn("Failed to record warning", slog.Int("threshold", int(th)), slog.Any("error", err))
			continue
		}
		*s = *updated
		o.log.Info("Usage warning sent",
			slog.Int("threshold", int(th)),
			slog.Float64("usage_percent", s.UsagePercent()))
		o.events.Publish(Event{Type: EventSessionWarning, SessionID: s.ID, Threshold: int(th), Timestamp: o.clock.Now().UTC()})
	}
}

// handleExpiry sends the expiry notice once for an expired session.
func (o *Orchestrator) handleExpiry(ctx context.Context, s *session.Session) error {
	if !s.IsExpired() {
		return nil
	}
	o.events.Publish(Event{Type: EventSessionExpired, SessionID: s.ID, Timestamp: o.clock.Now().UTC()})
	if s.ExpiryNotificationSent {
		return nil
	}
	if o.notifier != nil {
		if err := o.notifier.SessionExpired(ctx, s); err != nil {
			return fmt.Errorf("expiry notification: %w", err)
		}
	}
	if _, err := o.ledger.MarkExpiryNotified(ctx, s.ID); err != nil {
		return fmt.Errorf("record expiry notification: %w", err)
	}
	o.log.Info("Session expired",
		slog.Float64("consumed_hours", s.ConsumedHours),
		slog.Int("tickets_processed", s.TicketsProcessed))
	return nil
}
