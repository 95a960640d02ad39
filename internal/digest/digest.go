// Package digest delivers session reports on a cron schedule.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/notify"
	"github.com/alekspetrov/hourglass/internal/session"
)

// Config controls the digest schedule.
//
// Example YAML configuration:
//
//	digest:
//	  enabled: true
//	  schedule: "0 9 * * 1-5"
//	  timezone: Europe/Berlin
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
	// Sessions limits the digest to these IDs. Empty means every
	// non-terminal session.
	Sessions []string `yaml:"sessions"`
}

// DefaultConfig returns a disabled weekday-morning digest.
func DefaultConfig() *Config {
	return &Config{
		Schedule: "0 9 * * 1-5",
		Timezone: "UTC",
	}
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	if !c.Enabled {
		return nil
	}
	var problems []string
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		problems = append(problems, fmt.Sprintf("digest.schedule %q: %v", c.Schedule, err))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("digest.timezone %q: %v", c.Timezone, err))
		}
	}
	return problems
}

// Sessions lists sessions and projects them into reports. *session.Ledger
// implements it.
type Sessions interface {
	List(ctx context.Context) ([]*session.Session, error)
	Report(s *session.Session) session.Report
}

// Scheduler sends reports on the configured schedule.
type Scheduler struct {
	cfg      *Config
	sessions Sessions
	notifier notify.Notifier
	cron     *cron.Cron
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// NewScheduler creates a scheduler. An unknown timezone falls back to UTC.
func NewScheduler(cfg *Config, sessions Sessions, notifier notify.Notifier) *Scheduler {
	log := logging.WithComponent("digest")
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			log.Warn("Invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		}
	}
	return &Scheduler{
		cfg:      cfg,
		sessions: sessions,
		notifier: notifier,
		cron:     cron.New(cron.WithLocation(loc)),
		log:      log,
	}
}

// Start schedules the digest. It does nothing when disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Debug("Digest disabled")
		return nil
	}

	id, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunNow(ctx); err != nil {
			s.log.Error("Digest delivery failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid digest schedule: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.log.Info("Digest scheduled",
		slog.String("schedule", s.cfg.Schedule),
		slog.Time("next_run", s.cron.Entry(id).Next))
	return nil
}

// Stop waits for a running delivery and stops the schedule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// NextRun returns the next delivery time, zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunNow sends a report for every selected session and returns how many
// were delivered.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	all, err := s.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	sent := 0
	var errs []error
	for _, sess := range all {
		if !s.selected(sess) {
			continue
		}
		if err := s.notifier.SessionReport(ctx, s.sessions.Report(sess)); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID, err))
			continue
		}
		sent++
	}
	s.log.Info("Digest delivered", slog.Int("sessions", sent), slog.Int("failed", len(errs)))
	return sent, errors.Join(errs...)
}

func (s *Scheduler) selected(sess *session.Session) bool {
	if len(s.cfg.Sessions) == 0 {
		return !sess.Status.IsTerminal()
	}
	for _, id := range s.cfg.Sessions {
		if id == sess.ID {
			return true
		}
	}
	return false
}
