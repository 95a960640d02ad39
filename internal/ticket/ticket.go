// Package ticket models work items pulled from trackers and the state
// machine they move through.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors for ticket operations
var (
	ErrNotFound          = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid ticket status transition")
)

// Status is the pipeline state of a ticket.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAnalyzing          Status = "analyzing"
	StatusGeneratingSolution Status = "generating_solution"
	StatusExecuting          Status = "executing"
	StatusCreatingPR         Status = "creating_pr"
	StatusCompleted          Status = "completed"
	StatusRequiresReview     Status = "requires_review"
	StatusFailed             Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:            {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:          {StatusGeneratingSolution, StatusFailed},
	StatusGeneratingSolution: {StatusExecuting, StatusFailed},
	StatusExecuting:          {StatusCreatingPR, StatusFailed},
	StatusCreatingPR:         {StatusCompleted, StatusRequiresReview, StatusFailed},
	StatusCompleted:          {},
	StatusRequiresReview:     {StatusPending},
	StatusFailed:             {StatusPending},
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown ticket status: %q", s)
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

// IsTerminal is true for completed, requires_review and failed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRequiresReview, StatusFailed:
		return true
	}
	return false
}

// Priority orders tickets; higher is more urgent.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[string]Priority{
	"lowest":   PriorityLow,
	"low":      PriorityLow,
	"minor":    PriorityLow,
	"trivial":  PriorityLow,
	"medium":   PriorityMedium,
	"normal":   PriorityMedium,
	"major":    PriorityHigh,
	"high":     PriorityHigh,
	"highest":  PriorityCritical,
	"urgent":   PriorityCritical,
	"blocker":  PriorityCritical,
	"critical": PriorityCritical,
}

// ParsePriority maps tracker priority names to a Priority.
func ParsePriority(s string) Priority {
	return priorityNames[strings.ToLower(strings.TrimSpace(s))]
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "none"
}

// Payload is a ticket as reported by a tracker.
type Payload struct {
	Source      string   `json:"source"`
	ExternalKey string   `json:"external_key"`
	ProjectKey  string   `json:"project_key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels,omitempty"`
	Components  []string `json:"components,omitempty"`
	Priority    Priority `json:"priority"`
	URL         string   `json:"url"`
}

// Ticket is one unit of external work.
type Ticket struct {
	ID          string   `json:"id"`
	ExternalKey string   `json:"external_key"`
	Source      string   `json:"source"`
	ProjectKey  string   `json:"project_key"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels,omitempty"`
	Components  []string `json:"components,omitempty"`
	Priority    Priority `json:"priority"`
	URL         string   `json:"url"`

	Status          Status  `json:"status"`
	SessionID       string  `json:"session_id,omitempty"`
	RetryCount      int     `json:"retry_count"`
	HoursConsumed   float64 `json:"hours_consumed"`
	ComplexityScore float64 `json:"complexity_score"`
	AIProviderUsed  string  `json:"ai_provider_used,omitempty"`
	Repository      string  `json:"repository,omitempty"`
	Branch          string  `json:"branch,omitempty"`
	PRURL           string  `json:"pr_url,omitempty"`
	PRNumber        int     `json:"pr_number,omitempty"`
	CommitHash      string  `json:"commit_hash,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	Retired         bool    `json:"retired"`

	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Transition moves the ticket to next, rejecting moves the state machine
// does not allow. Reaching a terminal state retires the ticket.
func (t *Ticket) Transition(next Status, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	if next.IsTerminal() {
		t.ProcessingCompletedAt = &now
		t.Retired = true
	}
	return nil
}

// ResetForRetry sends a failed or flagged ticket back to pending. The retry
// counter is kept and incremented.
func (t *Ticket) ResetForRetry(now time.Time) error {
	if err := t.Transition(StatusPending, now); err != nil {
		return err
	}
	t.RetryCount++
	t.Retired = false
	t.ErrorMessage = ""
	t.ProcessingStartedAt = nil
	t.ProcessingCompletedAt = nil
	return nil
}

// HasLabel reports a case-insensitive label match.
func (t *Ticket) HasLabel(label string) bool {
	return containsFold(t.Labels, label)
}

// HasComponent reports a case-insensitive component match.
func (t *Ticket) HasComponent(component string) bool {
	return containsFold(t.Components, component)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Subtask is one ordered step of a generated solution.
type Subtask struct {
	ID          int64      `json:"id"`
	TicketID    string     `json:"ticket_id"`
	Sequence    int        `json:"sequence"`
	Description string     `json:"description"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Filter narrows ListTickets.
type Filter struct {
	SessionID string
	Status    Status
	Limit     int
}

// Store persists tickets and their subtasks.
type Store interface {
	// UpsertTicket creates a ticket for an unseen external key, otherwise
	// updates only its tracker-owned fields. created reports which happened.
	UpsertTicket(ctx context.Context, p Payload) (t *Ticket, created bool, err error)
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	// ListPending returns unretired pending tickets, oldest first.
	ListPending(ctx context.Context) ([]*Ticket, error)
	ListTickets(ctx context.Context, f Filter) ([]*Ticket, error)
	UpdateTicket(ctx context.Context, id string, fn func(*Ticket) error) (*Ticket, error)

	ReplaceSubtasks(ctx context.Context, ticketID string, steps []string) ([]Subtask, error)
	CompleteSubtasks(ctx context.Context, ticketID string) error
	ListSubtasks(ctx context.Context, ticketID string) ([]Subtask, error)
}
