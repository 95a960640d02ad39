// Package dashboard is a terminal view of one session: budget, recent
// tickets and live orchestrator events.
package dashboard

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/alekspetrov/hourglass/internal/orchestrator"
	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

const (
	defaultRefresh = 5 * time.Second
	maxLogs        = 100
	ticketRows     = 10
)

// Snapshot is what the dashboard renders.
type Snapshot struct {
	Report  session.Report
	Tickets []*ticket.Ticket
}

// Source loads snapshots for a session.
type Source interface {
	Snapshot(ctx context.Context, sessionID string) (*Snapshot, error)
}

// SessionReader is the subset of the ledger the store source needs.
type SessionReader interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Report(s *session.Session) session.Report
}

// TicketLister lists tickets.
type TicketLister interface {
	ListTickets(ctx context.Context, f ticket.Filter) ([]*ticket.Ticket, error)
}

// StoreSource reads snapshots straight from the ledger and ticket store.
type StoreSource struct {
	Sessions SessionReader
	Tickets  TicketLister
	Limit    int
}

// Snapshot implements Source.
func (s *StoreSource) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	limit := s.Limit
	if limit <= 0 {
		limit = ticketRows
	}
	tickets, err := s.Tickets.ListTickets(ctx, ticket.Filter{SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return &Snapshot{Report: s.Sessions.Report(sess), Tickets: tickets}, nil
}

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Logs    key.Binding
	Open    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Logs:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "logs")),
	Open:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open PR")),
}

// Model is the bubbletea model.
type Model struct {
	version   string
	sessionID string
	source    Source
	refresh   time.Duration
	now       func() time.Time

	snapshot    *Snapshot
	err         error
	lastRefresh time.Time
	table       table.Model
	logs        []string
	showLogs    bool
	quitting    bool
	width       int

	// openURL is swapped out in tests.
	openURL func(string) error
}

// Option customizes a Model.
type Option func(*Model)

// WithRefresh sets the polling interval.
func WithRefresh(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// WithClock overrides the time source for the refresh stamp.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// NewModel builds a dashboard for sessionID.
func NewModel(version, sessionID string, source Source, opts ...Option) Model {
	columns := []table.Column{
		{Title: "", Width: 1},
		{Title: "Ticket", Width: 18},
		{Title: "Status", Width: 16},
		{Title: "Hours", Width: 6},
		{Title: "Title", Width: 24},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(ticketRows),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#3d4450")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#0d1117")).
		Background(lipgloss.Color("#7eb8da")).
		Bold(false)
	t.SetStyles(styles)

	m := Model{
		version:   version,
		sessionID: sessionID,
		source:    source,
		refresh:   defaultRefresh,
		now:       time.Now,
		table:     t,
		openURL:   openBrowser,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

type tickMsg time.Time

type snapshotMsg struct {
	snapshot *Snapshot
	err      error
}

// EventMsg delivers a live orchestrator event to the dashboard.
type EventMsg orchestrator.Event

// Init loads the first snapshot and starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) load() tea.Cmd {
	source, id := m.source, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := source.Snapshot(ctx, id)
		return snapshotMsg{snapshot: snap, err: err}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.load()
		case key.Matches(msg, keys.Logs):
			m.showLogs = !m.showLogs
			return m, nil
		case key.Matches(msg, keys.Open):
			if t := m.selected(); t != nil && t.PRURL != "" {
				if err := m.openURL(t.PRURL); err != nil {
					m.addLog("open " + t.PRURL + ": " + err.Error())
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snapshot = msg.snapshot
			m.lastRefresh = m.now()
			m.table.SetRows(ticketRowsFor(msg.snapshot.Tickets))
		}
		return m, nil

	case EventMsg:
		ev := orchestrator.Event(msg)
		if ev.SessionID != "" && ev.SessionID != m.sessionID {
			return m, nil
		}
		m.addLog(formatEvent(ev))
		if ev.Report != nil && m.snapshot != nil {
			m.snapshot.Report = *ev.Report
		}
		if ev.Type == orchestrator.EventTicketFinished || ev.Type == orchestrator.EventSessionExpired {
			return m, m.load()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) addLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m Model) selected() *ticket.Ticket {
	if m.snapshot == nil {
		return nil
	}
	i := m.table.Cursor()
	if i < 0 || i >= len(m.snapshot.Tickets) {
		return nil
	}
	return m.snapshot.Tickets[i]
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return "Hourglass dashboard closed.\n"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(titleStyle.Render(fmt.Sprintf("Hourglass %s", m.version)))
	b.WriteString(helpStyle.Render(fmt.Sprintf("   session %s", m.sessionID)))
	b.WriteString("\n\n")

	if m.snapshot == nil {
		if m.err != nil {
			b.WriteString(renderPanel("SESSION", "  "+statusFailedStyle.Render(m.err.Error())))
		} else {
			b.WriteString(renderPanel("SESSION", "  Loading..."))
		}
		b.WriteString("\n")
		b.WriteString(m.help())
		return b.String()
	}

	b.WriteString(m.renderSession())
	b.WriteString("\n")
	b.WriteString(m.renderTickets())
	b.WriteString("\n")
	if m.showLogs {
		b.WriteString(m.renderLogs())
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(statusFailedStyle.Render("refresh failed: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.help())
	return b.String()
}

func (m Model) help() string {
	line := "q: quit  r: refresh  l: logs  j/k: select  enter: open PR"
	if !m.lastRefresh.IsZero() {
		line += "  updated " + m.lastRefresh.Format("15:04:05")
	}
	return helpStyle.Render(line)
}

func (m Model) renderSession() string {
	r := m.snapshot.Report
	w := panelInnerWidth
	var c strings.Builder

	c.WriteString(dotLeader("Customer", r.CustomerRef, w))
	c.WriteString("\n")
	c.WriteString(dotLeaderStyled("Status", string(r.Status), sessionStatusStyle(r.Status), w))
	c.WriteString("\n\n")

	c.WriteString(fmt.Sprintf("  %s %5.1f%%", renderProgressBar(r.UsagePercent, 40), r.UsagePercent))
	c.WriteString("\n")
	c.WriteString(dotLeader("Purchased", formatHours(r.PurchasedHours), w))
	c.WriteString("\n")
	c.WriteString(dotLeader("Consumed", formatHours(r.ConsumedHours), w))
	c.WriteString("\n")
	remaining := lipgloss.NewStyle()
	if r.UsagePercent >= float64(session.Thresholds[0]) {
		remaining = warningStyle
	}
	c.WriteString(dotLeaderStyled("Remaining", formatHours(r.RemainingHours), remaining, w))
	c.WriteString("\n\n")

	c.WriteString(dotLeader("Tickets", fmt.Sprintf("%d processed, %d ok, %d failed",
		r.TicketsProcessed, r.TicketsSuccessful, r.TicketsFailed), w))
	c.WriteString("\n")
	c.WriteString(dotLeader("Success rate", fmt.Sprintf("%.1f%%", r.SuccessRate), w))
	if r.AverageHoursPerTicket > 0 {
		c.WriteString("\n")
		c.WriteString(dotLeader("Avg per ticket", formatHours(r.AverageHoursPerTicket), w))
		c.WriteString("\n")
		c.WriteString(dotLeader("Est. tickets left", fmt.Sprintf("%d", r.EstimatedRemainingTickets), w))
	}
	if spark := m.hoursSparkline(); spark != "" {
		c.WriteString("\n")
		c.WriteString(dotLeader("Hours per ticket", spark, w))
	}
	return renderPanel("SESSION", c.String())
}

// hoursSparkline charts billed hours of the listed tickets, oldest first.
func (m Model) hoursSparkline() string {
	var values []float64
	tickets := m.snapshot.Tickets
	for i := len(tickets) - 1; i >= 0; i-- {
		if tickets[i].HoursConsumed > 0 {
			values = append(values, tickets[i].HoursConsumed)
		}
	}
	if len(values) < 2 {
		return ""
	}
	return renderSparkline(normalizeToSparkline(values, ticketRows))
}

func (m Model) renderTickets() string {
	if len(m.snapshot.Tickets) == 0 {
		return renderPanel("TICKETS", "  No tickets processed yet")
	}
	var c strings.Builder
	c.WriteString(m.table.View())
	if t := m.selected(); t != nil {
		c.WriteString("\n")
		switch {
		case t.PRURL != "":
			c.WriteString("  " + t.PRURL)
		case t.ErrorMessage != "":
			c.WriteString("  " + statusFailedStyle.Render(t.ErrorMessage))
		case t.URL != "":
			c.WriteString("  " + t.URL)
		}
	}
	return renderPanel("TICKETS", c.String())
}

func (m Model) renderLogs() string {
	if len(m.logs) == 0 {
		return renderPanel("EVENTS", "  No events yet")
	}
	start := max(len(m.logs)-10, 0)
	lines := make([]string, 0, 10)
	for _, l := range m.logs[start:] {
		lines = append(lines, "  "+clip(l, panelInnerWidth-4))
	}
	return renderPanel("EVENTS", strings.Join(lines, "\n"))
}

func ticketRowsFor(tickets []*ticket.Ticket) []table.Row {
	rows := make([]table.Row, 0, len(tickets))
	for _, t := range tickets {
		icon, _ := statusIconStyle(t.Status)
		hours := "-"
		if t.HoursConsumed > 0 {
			hours = fmt.Sprintf("%.2f", t.HoursConsumed)
		}
		rows = append(rows, table.Row{icon, t.ExternalKey, string(t.Status), hours, t.Title})
	}
	return rows
}

// formatEvent renders one event as a log line.
func formatEvent(ev orchestrator.Event) string {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case orchestrator.EventTicketStarted:
		return fmt.Sprintf("%s started %s", ts, ev.Ticket)
	case orchestrator.EventTicketFinished:
		return fmt.Sprintf("%s %s %s (%s)", ts, ev.Ticket, ev.Status, formatHours(ev.Hours))
	case orchestrator.EventSessionWarning:
		return fmt.Sprintf("%s usage passed %d%%", ts, ev.Threshold)
	case orchestrator.EventSessionExpired:
		return fmt.Sprintf("%s session expired", ts)
	case orchestrator.EventStopped:
		return fmt.Sprintf("%s orchestrator stopped", ts)
	}
	if ev.Message != "" {
		return fmt.Sprintf("%s %s: %s", ts, ev.Type, ev.Message)
	}
	return fmt.Sprintf("%s %s", ts, ev.Type)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
