// Package notify delivers session warnings, expiry notices and reports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alekspetrov/hourglass/internal/session"
)

// EventType names a notification.
type EventType string

const (
	EventSessionWarning EventType = "session.warning"
	EventSessionExpired EventType = "session.expired"
	EventSessionReport  EventType = "session.report"
)

// Event is the payload every channel renders.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Threshold int            `json:"threshold,omitempty"`
	Report    session.Report `json:"report"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers session notifications. A nil error means the
// notification reached every configured channel.
type Notifier interface {
	SessionWarning(ctx context.Context, s *session.Session, th session.Threshold) error
	SessionExpired(ctx context.Context, s *session.Session) error
	SessionReport(ctx context.Context, r session.Report) error
}

// Channel sends a rendered event.
type Channel interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Dispatcher turns notifier calls into events and sends them on every
// channel.
type Dispatcher struct {
	channels []Channel
	now      func() time.Time
}

// NewDispatcher fans events out to channels.
func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, now: time.Now}
}

// Channels lists channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

func (d *Dispatcher) SessionWarning(ctx context.Context, s *session.Session, th session.Threshold) error {
	return d.send(ctx, Event{
		Type:      EventSessionWarning,
		SessionID: s.ID,
		Threshold: int(th),
		Report:    session.GenerateReport(s, d.now()),
	})
}

func (d *Dispatcher) SessionExpired(ctx context.Context, s *session.Session) error {
	return d.send(ctx, Event{
		Type:      EventSessionExpired,
		SessionID: s.ID,
		Report:    session.GenerateReport(s, d.now()),
	})
}

func (d *Dispatcher) SessionReport(ctx context.Context, r session.Report) error {
	return d.send(ctx, Event{
		Type:      EventSessionReport,
		SessionID: r.SessionID,
		Report:    r,
	})
}

// send tries every channel and joins the failures.
func (d *Dispatcher) send(ctx context.Context, e Event) error {
	e.Timestamp = d.now().UTC()
	var errs []error
	for _, c := range d.channels {
		if err := c.Send(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Config lists the notification channels.
//
// Example YAML configuration:
//
//	notifications:
//	  email:
//	    enabled: true
//	    host: smtp.acme.io
//	    port: 587
//	    from: hourglass@acme.io
//	    to: [owner@acme.io]
//	  webhooks:
//	    - name: billing
//	      url: https://billing.acme.io/hooks/hourglass
//	      secret: ${HOURGLASS_WEBHOOK_SECRET}
type Config struct {
	Email    *EmailConfig    `yaml:"email"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// DefaultConfig returns a configuration without channels.
func DefaultConfig() *Config {
	return &Config{}
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	var problems []string
	if c.Email != nil && c.Email.Enabled {
		if c.Email.Host == "" {
			problems = append(problems, "notifications.email.host is required")
		}
		if c.Email.From == "" {
			problems = append(problems, "notifications.email.from is required")
		}
		if len(c.Email.To) == 0 {
			problems = append(problems, "notifications.email.to must list at least one recipient")
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			problems = append(problems, fmt.Sprintf("notifications.webhooks[%d].url is required", i))
		}
	}
	return problems
}

// New builds a dispatcher over the enabled channels.
func New(cfg *Config) *Dispatcher {
	var channels []Channel
	if cfg.Email != nil && cfg.Email.Enabled {
		channels = append(channels, NewEmailChannel(NewSMTPSender(cfg.Email), cfg.Email.To))
	}
	for _, w := range cfg.Webhooks {
		channels = append(channels, NewWebhookChannel(w))
	}
	return NewDispatcher(channels...)
}
