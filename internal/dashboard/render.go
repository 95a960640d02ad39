package dashboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

const (
	panelTotalWidth = 78
	// panelInnerWidth leaves room for two borders and one space of padding
	// on each side.
	panelInnerWidth = panelTotalWidth - 4
)

var sparkBlocks = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

var (
	steelBlue = lipgloss.Color("#7eb8da")
	slate     = lipgloss.Color("#3d4450")
	sage      = lipgloss.Color("#7ec699")
	rose      = lipgloss.Color("#d48a8a")
	amber     = lipgloss.Color("#d4a054")
	muted     = lipgloss.Color("#8b949e")
	dim       = lipgloss.Color("#6e7681")
	light     = lipgloss.Color("#c9d1d9")
)

var (
	titleStyle           = lipgloss.NewStyle().Bold(true).Foreground(steelBlue)
	borderStyle          = lipgloss.NewStyle().Foreground(slate)
	labelStyle           = lipgloss.NewStyle().Foreground(light)
	helpStyle            = lipgloss.NewStyle().Foreground(muted)
	warningStyle         = lipgloss.NewStyle().Foreground(amber)
	statusRunningStyle   = lipgloss.NewStyle().Foreground(steelBlue)
	statusPendingStyle   = lipgloss.NewStyle().Foreground(dim)
	statusFailedStyle    = lipgloss.NewStyle().Foreground(rose)
	statusCompletedStyle = lipgloss.NewStyle().Foreground(sage)
	hoursFilledStyle     = lipgloss.NewStyle().Foreground(steelBlue)
	hoursEmptyStyle      = lipgloss.NewStyle().Foreground(slate)
)

// renderPanel frames content in a titled box exactly panelTotalWidth wide.
// Every row is padded or clipped so the right border lines up.
func renderPanel(title string, content string) string {
	side := borderStyle.Render("│")
	blank := side + strings.Repeat(" ", panelTotalWidth-2) + side

	heading := strings.ToUpper(title)
	fill := max(panelTotalWidth-lipgloss.Width("╭─ "+heading+" ")-1, 0)
	rows := []string{
		borderStyle.Render("╭─ ") + labelStyle.Render(heading) +
			borderStyle.Render(" "+strings.Repeat("─", fill)+"╮"),
		blank,
	}
	for _, line := range strings.Split(content, "\n") {
		rows = append(rows, side+" "+fitWidth(line, panelInnerWidth)+" "+side)
	}
	rows = append(rows, blank, borderStyle.Render("╰"+strings.Repeat("─", panelTotalWidth-2)+"╯"))
	return strings.Join(rows, "\n")
}

// fitWidth pads or clips s to exactly width terminal columns.
func fitWidth(s string, width int) string {
	w := lipgloss.Width(s)
	switch {
	case w > width:
		return clip(s, width)
	case w < width:
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// clip shortens s to width columns with a trailing ellipsis. Wide runes
// that would straddle the cut are dropped and the gap is space filled.
func clip(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	if width <= 3 {
		return strings.Repeat(".", width)
	}
	budget := width - 3
	var b strings.Builder
	used := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if used+rw > budget {
			break
		}
		b.WriteRune(r)
		used += rw
	}
	b.WriteString(strings.Repeat(" ", budget-used))
	b.WriteString("...")
	return b.String()
}

// dotLeader renders "  Label .............. Value" at totalWidth.
func dotLeader(label string, value string, totalWidth int) string {
	return dotLeaderStyled(label, value, lipgloss.NewStyle(), totalWidth)
}

// dotLeaderStyled sizes the line on the raw value, then styles it.
func dotLeaderStyled(label string, value string, style lipgloss.Style, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	dotsNeeded := totalWidth - lipgloss.Width(prefix) - lipgloss.Width(suffix)
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + " " + style.Render(value)
}

// renderProgressBar draws percent (0-100) as a bar of width cells.
func renderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(math.Round(percent * float64(width) / 100))
	style := hoursFilledStyle
	if percent >= float64(session.Thresholds[0]) {
		style = warningStyle
	}
	return "[" + style.Render(strings.Repeat("█", filled)) +
		hoursEmptyStyle.Render(strings.Repeat("░", width-filled)) + "]"
}

// normalizeToSparkline scales values to sparkBlocks levels 1-8, left-padding
// with zeros when there are fewer values than width.
func normalizeToSparkline(values []float64, width int) []int {
	result := make([]int, width)
	if len(values) == 0 || width <= 0 {
		return result
	}
	offset := width - len(values)
	if offset < 0 {
		values = values[len(values)-width:]
		offset = 0
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	span := maxVal - minVal
	for i, v := range values {
		level := 1
		switch {
		case span == 0 && v > 0:
			level = 4
		case span > 0 && v > 0:
			level = int(math.Round((v-minVal)/span*7)) + 1
		}
		result[offset+i] = min(max(level, 1), 8)
	}
	return result
}

func renderSparkline(levels []int) string {
	var b strings.Builder
	for _, idx := range levels {
		b.WriteRune(sparkBlocks[min(max(idx, 0), len(sparkBlocks)-1)])
	}
	return b.String()
}

// statusIconStyle returns the icon and style for a ticket status.
func statusIconStyle(status ticket.Status) (string, lipgloss.Style) {
	switch status {
	case ticket.StatusCompleted:
		return "+", statusCompletedStyle
	case ticket.StatusFailed:
		return "x", statusFailedStyle
	case ticket.StatusRequiresReview:
		return "!", warningStyle
	case ticket.StatusPending:
		return ".", statusPendingStyle
	default:
		return "~", statusRunningStyle
	}
}

func sessionStatusStyle(status session.Status) lipgloss.Style {
	switch status {
	case session.StatusActive:
		return statusCompletedStyle
	case session.StatusPaused:
		return warningStyle
	default:
		return statusFailedStyle
	}
}

// formatHours renders hours as "1.25h".
func formatHours(h float64) string {
	return fmt.Sprintf("%.2fh", h)
}
