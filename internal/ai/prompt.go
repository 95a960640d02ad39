package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alekspetrov/hourglass/internal/ticket"
)

const solutionSystemPrompt = `You are a senior engineer resolving a ticket in an existing repository.

Answer in this format:
PLAN: one paragraph describing the fix
STEPS:
1. first step
2. second step
CONFIDENCE: X.X (0.0-1.0)

Then, when you can write the change directly, add a fenced json block:
` + "```json" + `
{"edits": [{"path": "relative/path.go", "content": "full new file content"}]}
` + "```" + `
Use "delete": true to remove a file. Paths are relative to the repository root.`

const reviewSystemPrompt = `You are a code review judge. Compare the git diff against the ticket.

Check for scope creep, missing requirements, unrelated changes and obvious bugs.
Reply with a brief reason, then a final line SCORE:X.XX where 1.0 means ready to merge and 0.0 means reject.`

const maxDiffChars = 8000

var (
	confidenceRegex = regexp.MustCompile(`(?i)CONFIDENCE:\s*([0-9]*\.?[0-9]+)`)
	scoreRegex      = regexp.MustCompile(`(?i)SCORE:\s*([0-9]*\.?[0-9]+)`)
	stepRegex       = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+)$`)
	jsonBlockRegex  = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")
)

// BuildPrompt renders a ticket and its analysis as a solution request.
func BuildPrompt(t *ticket.Ticket, a ticket.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Ticket %s: %s\n\n", t.ExternalKey, t.Title)
	if t.URL != "" {
		fmt.Fprintf(&b, "Link: %s\n", t.URL)
	}
	fmt.Fprintf(&b, "Priority: %s\nComplexity: %s\n", t.Priority, a.Level)
	if len(t.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(t.Labels, ", "))
	}
	if len(t.Components) > 0 {
		fmt.Fprintf(&b, "Components: %s\n", strings.Join(t.Components, ", "))
	}
	if t.Description != "" {
		b.WriteString("\n## Description\n\n")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	b.WriteString("\n## Requirements\n\n")
	b.WriteString("1. Implement the change described above\n")
	b.WriteString("2. Add or update tests for new behavior\n")
	b.WriteString("3. Follow the project's existing conventions\n")
	return b.String()
}

// BuildApplyPrompt asks an agent backend to carry out a plan in place.
func BuildApplyPrompt(t *ticket.Ticket, sol *Solution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement ticket %s: %s\n\n", t.ExternalKey, t.Title)
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n\n")
	}
	b.WriteString("Follow this plan:\n")
	b.WriteString(sol.Text)
	b.WriteString("\n\nEdit the files in the current directory. Do not commit.")
	return b.String()
}

// BuildReviewPrompt renders a ticket and diff for scoring. Long diffs are
// truncated.
func BuildReviewPrompt(t *ticket.Ticket, diff string) string {
	if len(diff) > maxDiffChars {
		diff = diff[:maxDiffChars] + "\n...[truncated]"
	}
	return fmt.Sprintf("## Ticket\n%s\n\n%s\n\n## Git Diff\n```diff\n%s\n```", t.Title, t.Description, diff)
}

// ParseSolution extracts plan text, steps, confidence and edits from a
// backend answer.
func ParseSolution(text string) (*Solution, error) {
	sol := &Solution{}

	if m := jsonBlockRegex.FindStringSubmatch(text); len(m) == 2 {
		var payload struct {
			Edits []Edit `json:"edits"`
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			return nil, fmt.Errorf("invalid edits block: %w", err)
		}
		sol.Edits = payload.Edits
		text = strings.Replace(text, m[0], "", 1)
	}

	if m := confidenceRegex.FindStringSubmatch(text); len(m) == 2 {
		if c, err := strconv.ParseFloat(m[1], 64); err == nil {
			sol.Confidence = clamp01(c)
		}
	}

	inSteps := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "STEPS:"):
			inSteps = true
			continue
		case strings.HasPrefix(upper, "CONFIDENCE:"), strings.HasPrefix(upper, "PLAN:"):
			inSteps = false
			continue
		}
		if !inSteps {
			continue
		}
		if m := stepRegex.FindStringSubmatch(line); len(m) == 2 {
			sol.Steps = append(sol.Steps, strings.TrimSpace(m[1]))
		}
	}

	sol.Text = strings.TrimSpace(text)
	if sol.Text == "" && len(sol.Edits) == 0 {
		return nil, errors.New("empty solution")
	}
	return sol, nil
}

// ParseScore reads the SCORE line of a review answer.
func ParseScore(text string) (float64, error) {
	m := scoreRegex.FindAllStringSubmatch(text, -1)
	if len(m) == 0 {
		return 0, errors.New("no SCORE found in review")
	}
	v, err := strconv.ParseFloat(m[len(m)-1][1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score: %w", err)
	}
	return clamp01(v), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
