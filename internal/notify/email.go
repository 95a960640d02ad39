package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	From     string   `yaml:"from"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	To       []string `yaml:"to"`
}

// EmailSender sends one HTML email.
type EmailSender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) error
}

// SMTPSender sends email through an SMTP relay.
type SMTPSender struct {
	host     string
	port     int
	from     string
	username string
	password string
}

// NewSMTPSender creates a sender. Port defaults to 587.
func NewSMTPSender(cfg *EmailConfig) *SMTPSender {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &SMTPSender{
		host:     cfg.Host,
		port:     port,
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// Send sends an HTML email.
func (s *SMTPSender) Send(_ context.Context, to []string, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	return smtp.SendMail(addr, auth, s.from, to, []byte(msg.String()))
}

// EmailChannel renders events as HTML email.
type EmailChannel struct {
	sender EmailSender
	to     []string
}

// NewEmailChannel sends to the given recipients.
func NewEmailChannel(sender EmailSender, to []string) *EmailChannel {
	return &EmailChannel{sender: sender, to: to}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, e Event) error {
	body, err := renderEmail(e)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, c.to, subjectFor(e), body)
}

func subjectFor(e Event) string {
	switch e.Type {
	case EventSessionWarning:
		return fmt.Sprintf("[Hourglass] Session %s has used %d%% of its hours", shortID(e.SessionID), e.Threshold)
	case EventSessionExpired:
		return fmt.Sprintf("[Hourglass] Session %s has expired", shortID(e.SessionID))
	default:
		return fmt.Sprintf("[Hourglass] Session %s report", shortID(e.SessionID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family: sans-serif">
<h2>{{.Heading}}</h2>
{{with .Event.Report}}
<table cellpadding="4">
<tr><td>Session</td><td>{{.SessionID}}</td></tr>
<tr><td>Customer</td><td>{{.CustomerRef}}</td></tr>
<tr><td>Status</td><td>{{.Status}}</td></tr>
<tr><td>Hours used</td><td>{{printf "%.2f" .ConsumedHours}} of {{printf "%.2f" .PurchasedHours}} ({{printf "%.1f" .UsagePercent}}%)</td></tr>
<tr><td>Hours remaining</td><td>{{printf "%.2f" .RemainingHours}}</td></tr>
<tr><td>Tickets</td><td>{{.TicketsProcessed}} processed, {{.TicketsSuccessful}} successful, {{.TicketsFailed}} failed</td></tr>
<tr><td>Success rate</td><td>{{printf "%.1f" .SuccessRate}}%</td></tr>
<tr><td>Estimated tickets left</td><td>{{.EstimatedRemainingTickets}}</td></tr>
</table>
{{end}}
</body></html>`))

func renderEmail(e Event) (string, error) {
	heading := "Session report"
	switch e.Type {
	case EventSessionWarning:
		heading = fmt.Sprintf("%d%% of purchased hours used", e.Threshold)
	case EventSessionExpired:
		heading = "Session hours exhausted"
	}
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, struct {
		Heading string
		Event   Event
	}{heading, e}); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
