package session

import (
	"math"
	"time"
)

// Report is a read-only projection of a session.
type Report struct {
	SessionID   string `json:"session_id"`
	CustomerRef string `json:"customer_ref"`
	Status      Status `json:"status"`

	PurchasedHours float64 `json:"purchased_hours"`
	ConsumedHours  float64 `json:"consumed_hours"`
	RemainingHours float64 `json:"remaining_hours"`
	UsagePercent   float64 `json:"usage_percent"`

	TicketsProcessed  int     `json:"tickets_processed"`
	TicketsSuccessful int     `json:"tickets_successful"`
	TicketsFailed     int     `json:"tickets_failed"`
	SuccessRate       float64 `json:"success_rate"`

	AverageHoursPerTicket     float64 `json:"average_hours_per_ticket"`
	EstimatedRemainingTickets int     `json:"estimated_remaining_tickets"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	GeneratedAt    time.Time  `json:"generated_at"`
}

// GenerateReport builds a Report without touching storage.
func GenerateReport(s *Session, now time.Time) Report {
	r := Report{
		SessionID:         s.ID,
		CustomerRef:       s.CustomerRef,
		Status:            s.Status,
		PurchasedHours:    s.PurchasedHours,
		ConsumedHours:     s.ConsumedHours,
		RemainingHours:    s.RemainingHours,
		UsagePercent:      math.Round(s.UsagePercent()*100) / 100,
		TicketsProcessed:  s.TicketsProcessed,
		TicketsSuccessful: s.TicketsSuccessful,
		TicketsFailed:     s.TicketsFailed,
		StartedAt:         s.StartedAt,
		LastActivityAt:    s.LastActivityAt,
		ExpiredAt:         s.ExpiredAt,
		GeneratedAt:       now.UTC(),
	}

	if s.TicketsProcessed > 0 {
		r.SuccessRate = math.Round(float64(s.TicketsSuccessful)/float64(s.TicketsProcessed)*10000) / 100
		r.AverageHoursPerTicket = roundHours(s.ConsumedHours / float64(s.TicketsProcessed))
	}
	if r.AverageHoursPerTicket > 0 {
		r.EstimatedRemainingTickets = int(math.Floor(s.RemainingHours / r.AverageHoursPerTicket))
	}
	return r
}
