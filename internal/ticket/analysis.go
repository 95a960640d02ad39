package ticket

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Complexity is a coarse size estimate for a ticket.
type Complexity string

const (
	ComplexityTrivial Complexity = "trivial"
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Analysis is the result of the analyzing stage.
type Analysis struct {
	Score    float64    `json:"score"` // 0..1
	Level    Complexity `json:"level"`
	Keywords []string   `json:"keywords,omitempty"`
	Words    int        `json:"words"`
}

// keywordWeights push the score up or down when found in title or body.
var keywordWeights = map[string]float64{
	"typo":            -0.25,
	"rename":          -0.15,
	"bump version":    -0.2,
	"update comment":  -0.2,
	"formatting":      -0.2,
	"add field":       -0.1,
	"small fix":       -0.1,
	"fix test":        -0.05,
	"refactor":        0.2,
	"rewrite":         0.25,
	"redesign":        0.25,
	"migrate":         0.2,
	"migration":       0.2,
	"architecture":    0.25,
	"database schema": 0.2,
	"performance":     0.1,
	"security":        0.1,
	"concurrency":     0.15,
	"race condition":  0.15,
}

var codeFenceRegex = regexp.MustCompile("(?s)```.*?```|~~~.*?~~~")

// Analyze estimates complexity from description length, priority and
// keyword hits. It never fails.
func Analyze(t *Ticket) Analysis {
	text := strings.ToLower(t.Title + " " + t.Description)
	prose := codeFenceRegex.ReplaceAllString(strings.ToLower(t.Description), " ")
	words := len(strings.Fields(prose))

	score := 0.2
	switch {
	case words > 400:
		score += 0.35
	case words > 150:
		score += 0.2
	case words > 50:
		score += 0.1
	}

	switch t.Priority {
	case PriorityCritical:
		score += 0.1
	case PriorityHigh:
		score += 0.05
	}

	var hits []string
	for kw, w := range keywordWeights {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
			score += w
		}
	}
	sort.Strings(hits)

	score = math.Round(math.Min(1, math.Max(0, score))*100) / 100
	return Analysis{
		Score:    score,
		Level:    levelFor(score),
		Keywords: hits,
		Words:    words,
	}
}

func levelFor(score float64) Complexity {
	switch {
	case score < 0.15:
		return ComplexityTrivial
	case score < 0.35:
		return ComplexitySimple
	case score < 0.6:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}
