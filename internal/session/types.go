// Package session owns prepaid hour budgets and their billing state machine.
package session

import (
	"errors"
	"math"
	"time"
)

// Errors for session operations
var (
	ErrInvalidInput      = errors.New("invalid session input")
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusExpired, StatusCancelled},
	StatusPaused:    {StatusActive, StatusExpired, StatusCancelled},
	StatusExpired:   {},
	StatusCancelled: {},
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", errors.New("unknown session status: " + s)
	}
	return st, nil
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for expired and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// Threshold is a usage percentage that triggers a one-time warning.
type Threshold int

const (
	Warning75 Threshold = 75
	Warning90 Threshold = 90
)

// Thresholds lists warning thresholds in ascending order.
var Thresholds = []Threshold{Warning75, Warning90}

// Session is a prepaid hour budget tied to a customer.
type Session struct {
	ID          string            `json:"id"`
	CustomerRef string            `json:"customer_ref"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	PurchasedHours float64 `json:"purchased_hours"`
	ConsumedHours  float64 `json:"consumed_hours"`
	RemainingHours float64 `json:"remaining_hours"`
	Status         Status  `json:"status"`

	TicketsProcessed  int `json:"tickets_processed"`
	TicketsSuccessful int `json:"tickets_successful"`
	TicketsFailed     int `json:"tickets_failed"`

	Warning75Sent          bool `json:"warning_75_sent"`
	Warning90Sent          bool `json:"warning_90_sent"`
	ExpiryNotificationSent bool `json:"expiry_notification_sent"`

	StartedAt      time.Time  `json:"started_at"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CanBeActive is true when hours remain and the session is not terminal.
func (s *Session) CanBeActive() bool {
	return s.RemainingHours > 0 && !s.Status.IsTerminal()
}

// IsActive is true when the orchestrator may bill against the session now.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive && s.RemainingHours > 0
}

// IsExpired reports whether the budget is exhausted.
func (s *Session) IsExpired() bool {
	return s.Status == StatusExpired
}

// UsagePercent returns consumed/purchased*100.
func (s *Session) UsagePercent() float64 {
	if s.PurchasedHours <= 0 {
		return 0
	}
	return s.ConsumedHours / s.PurchasedHours * 100
}

// WarningSent reports the sent flag for a threshold.
func (s *Session) WarningSent(th Threshold) bool {
	switch th {
	case Warning75:
		return s.Warning75Sent
	case Warning90:
		return s.Warning90Sent
	}
	return false
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	c.PausedAt = cloneTime(s.PausedAt)
	c.ExpiredAt = cloneTime(s.ExpiredAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.LastActivityAt = cloneTime(s.LastActivityAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// roundHours keeps hour values at four decimal places.
func roundHours(h float64) float64 {
	return math.Round(h*10000) / 10000
}

// consume applies hours to the counters. It is the only place consumption
// changes.
func (s *Session) consume(hours float64, successful bool, now time.Time) {
	s.ConsumedHours = roundHours(s.ConsumedHours + hours)
	s.RemainingHours = roundHours(math.Max(0, s.PurchasedHours-s.ConsumedHours))
	s.TicketsProcessed++
	if successful {
		s.TicketsSuccessful++
	} else {
		s.TicketsFailed++
	}
	s.LastActivityAt = &now
	s.UpdatedAt = now

	if s.RemainingHours == 0 && s.Status != StatusCancelled {
		s.expire(now)
	}
}

func (s *Session) expire(now time.Time) {
	s.RemainingHours = 0
	if s.Status == StatusExpired {
		return
	}
	s.Status = StatusExpired
	s.ExpiredAt = &now
	s.UpdatedAt = now
}
