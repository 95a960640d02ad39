package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7ec699")) // sage green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))
)

// printer styles output only when writing to a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &printer{w: w, styled: styled}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) header(title string) {
	fmt.Fprintln(p.w, p.render(headerStyle, title))
	fmt.Fprintln(p.w, p.render(dimStyle, strings.Repeat("─", len(title))))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) check(ok bool, name, detail string) {
	mark := p.render(okStyle, "✓")
	if !ok {
		mark = p.render(failStyle, "✗")
	}
	p.line("  %s %-24s %s", mark, name, detail)
}

func (p *printer) sessionStatus(s session.Status) string {
	switch s {
	case session.StatusActive:
		return p.render(okStyle, string(s))
	case session.StatusPaused:
		return p.render(warnStyle, string(s))
	}
	return p.render(failStyle, string(s))
}

func (p *printer) ticketStatus(s ticket.Status) string {
	switch s {
	case ticket.StatusCompleted:
		return p.render(okStyle, string(s))
	case ticket.StatusFailed:
		return p.render(failStyle, string(s))
	case ticket.StatusRequiresReview:
		return p.render(warnStyle, string(s))
	case ticket.StatusPending:
		return p.render(dimStyle, string(s))
	}
	return string(s)
}

func (p *printer) report(r session.Report) {
	p.header("Session " + r.SessionID)
	p.line("  Customer:     %s", r.CustomerRef)
	p.line("  Status:       %s", p.sessionStatus(r.Status))
	p.line("  Purchased:    %.2fh", r.PurchasedHours)
	p.line("  Consumed:     %.2fh (%.1f%%)", r.ConsumedHours, r.UsagePercent)
	remaining := fmt.Sprintf("%.2fh", r.RemainingHours)
	if r.UsagePercent >= float64(session.Thresholds[0]) {
		remaining = p.render(warnStyle, remaining)
	}
	p.line("  Remaining:    %s", remaining)
	p.line("  Tickets:      %d processed, %d succeeded, %d failed (%.1f%% success)",
		r.TicketsProcessed, r.TicketsSuccessful, r.TicketsFailed, r.SuccessRate)
	if r.AverageHoursPerTicket > 0 {
		p.line("  Per ticket:   %.2fh avg, ~%d more at this rate", r.AverageHoursPerTicket, r.EstimatedRemainingTickets)
	}
	p.line("  Started:      %s", r.StartedAt.Local().Format("2006-01-02 15:04"))
	if r.ExpiredAt != nil {
		p.line("  Expired:      %s", r.ExpiredAt.Local().Format("2006-01-02 15:04"))
	}
}

func (p *printer) sessions(reports []session.Report) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tSTATUS\tCONSUMED\tREMAINING\tTICKETS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2fh\t%.2fh\t%d\n",
			r.SessionID, r.CustomerRef, r.Status, r.ConsumedHours, r.RemainingHours, r.TicketsProcessed)
	}
	_ = tw.Flush()
}

func (p *printer) tickets(tickets []*ticket.Ticket) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tHOURS\tRETRIES\tPR / ERROR")
	for _, t := range tickets {
		detail := t.PRURL
		if detail == "" {
			detail = truncate(t.ErrorMessage, 60)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\n", t.ExternalKey, t.Status, t.HoursConsumed, t.RetryCount, detail)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
