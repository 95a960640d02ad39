package jira

import (
	"encoding/json"
	"strings"
)

// adfNode is a node of an Atlassian Document Format tree.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// descriptionText flattens a description field to plain text.
func descriptionText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return cleanDescription(s)
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	writeADF(&b, doc)
	return cleanDescription(b.String())
}

func writeADF(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	case "codeBlock":
		b.WriteString("```\n")
	case "listItem":
		b.WriteString("- ")
	}
	for _, c := range n.Content {
		writeADF(b, c)
	}
	switch n.Type {
	case "codeBlock":
		b.WriteString("\n```\n")
	case "paragraph", "heading":
		b.WriteString("\n")
	}
}

// cleanDescription drops template sections such as Checklist and
// Environment that carry nothing for the solver.
func cleanDescription(body string) string {
	lines := strings.Split(body, "\n")
	var kept []string
	skip := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "h2. Checklist") ||
			strings.HasPrefix(trimmed, "h2. Environment") ||
			strings.HasPrefix(trimmed, "*Checklist*") ||
			strings.HasPrefix(trimmed, "*Environment*") {
			skip = true
			continue
		}
		if skip && (strings.HasPrefix(trimmed, "h2.") || strings.HasPrefix(trimmed, "h1.") ||
			(strings.HasPrefix(trimmed, "*") && strings.HasSuffix(trimmed, "*") && len(trimmed) > 1)) {
			skip = false
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
