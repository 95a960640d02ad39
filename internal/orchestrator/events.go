package orchestrator

import (
	"time"

	"github.com/alekspetrov/hourglass/internal/session"
)

// EventType names a loop event.
type EventType string

const (
	EventTicketStarted  EventType = "ticket.started"
	EventTicketFinished EventType = "ticket.finished"
	EventSessionUpdated EventType = "session.updated"
	EventSessionWarning EventType = "session.warning"
	EventSessionExpired EventType = "session.expired"
	EventStopped        EventType = "orchestrator.stopped"
)

// Event is published to live subscribers such as the gateway websocket.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Ticket    string          `json:"ticket,omitempty"`
	Status    string          `json:"status,omitempty"`
	Hours     float64         `json:"hours,omitempty"`
	Threshold int             `json:"threshold,omitempty"`
	Report    *session.Report `json:"report,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher receives events. Publish must not block the loop.
type Publisher interface {
	Publish(e Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
