package review

import (
	"context"
	"errors"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/hourglass/internal/ticket"
	"github.com/alekspetrov/hourglass/internal/workspace"
)

type fixedScorer struct {
	score float64
	err   error
}

func (f fixedScorer) Review(context.Context, *ticket.Ticket, string) (float64, error) {
	return f.score, f.err
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestCombineRenormalizes(t *testing.T) {
	tests := []struct {
		name    string
		results []DimensionResult
		want    float64
	}{
		{"nothing scored", []DimensionResult{{Dimension: Tests, Skipped: true, Weight: 0.2}}, 1},
		{"all pass", []DimensionResult{
			{Dimension: CodeAnalysis, Score: 1, Weight: 0.25},
			{Dimension: AIReview, Score: 1, Weight: 0.30},
			{Dimension: Tests, Score: 1, Weight: 0.20},
			{Dimension: Security, Score: 1, Weight: 0.15},
			{Dimension: Quality, Score: 1, Weight: 0.10},
		}, 1},
		{"tests fail only", []DimensionResult{
			{Dimension: CodeAnalysis, Score: 1, Weight: 0.25},
			{Dimension: AIReview, Score: 1, Weight: 0.30},
			{Dimension: Tests, Score: 0, Weight: 0.20},
			{Dimension: Security, Score: 1, Weight: 0.15},
			{Dimension: Quality, Score: 1, Weight: 0.10},
		}, 0.8},
		{"two dimensions", []DimensionResult{
			{Dimension: Tests, Score: 0, Weight: 0.20},
			{Dimension: Quality, Score: 1, Weight: 0.10},
			{Dimension: AIReview, Skipped: true, Weight: 0.30},
		}, 0.3333},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Combine(tt.results); got != tt.want {
				t.Errorf("Combine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateWithCommands(t *testing.T) {
	skipWithoutShell(t)
	cfg := &Config{
		Enabled:      true,
		Threshold:    0.7,
		CodeAnalysis: &Command{Command: "true"},
		Tests:        &Command{Command: "echo 'FAIL: TestRefund' >&2; exit 1"},
		AIReview:     true,
		Quality:      &QualityLimits{MaxFiles: 10, MaxLines: 100},
	}
	g := NewGate(cfg, fixedScorer{score: 0.5})

	res := g.Evaluate(context.Background(), Input{
		Ticket: &ticket.Ticket{Title: "x"},
		Dir:    t.TempDir(),
		Diff:   "+x",
		Stats:  workspace.DiffStats{Files: 1, Insertions: 5},
	})

	// code 1*.25 + ai .5*.30 + tests 0*.20 + quality 1*.10 over .85
	if res.Score != 0.5882 {
		t.Errorf("Score = %v", res.Score)
	}
	if res.Passed {
		t.Error("should not pass below threshold")
	}
	fb := Feedback(res)
	if !strings.Contains(fb, "tests: 0.00") || !strings.Contains(fb, "FAIL: TestRefund") {
		t.Errorf("feedback = %s", fb)
	}
	if strings.Contains(fb, "code_analysis") {
		t.Errorf("passing dimension in feedback: %s", fb)
	}
}

func TestAIReviewFailureIsSkipped(t *testing.T) {
	g := NewGate(&Config{Enabled: true, AIReview: true}, fixedScorer{err: errors.New("all providers failed")})
	res := g.Evaluate(context.Background(), Input{Ticket: &ticket.Ticket{}, Diff: "+x"})
	if res.Score != 1 || !res.Passed {
		t.Errorf("result = %+v", res)
	}
	if !res.Dimensions[1].Skipped || res.Dimensions[1].Error == "" {
		t.Errorf("ai dimension = %+v", res.Dimensions[1])
	}
}

func TestCommandTimeout(t *testing.T) {
	skipWithoutShell(t)
	code, _, err := runCommand(context.Background(), t.TempDir(), "sleep 5", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) || code != -1 {
		t.Errorf("runCommand = %d, %v", code, err)
	}
}

func TestQualityScore(t *testing.T) {
	limits := QualityLimits{MaxFiles: 10, MaxLines: 200}
	tests := []struct {
		stats workspace.DiffStats
		want  float64
	}{
		{workspace.DiffStats{}, 0},
		{workspace.DiffStats{Files: 3, Insertions: 50, Deletions: 10}, 1},
		{workspace.DiffStats{Files: 20, Insertions: 100}, 0.5},
		{workspace.DiffStats{Files: 20, Insertions: 400}, 0.25},
	}
	for _, tt := range tests {
		if got := QualityScore(tt.stats, limits); got != tt.want {
			t.Errorf("QualityScore(%+v) = %v, want %v", tt.stats, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Threshold: 1.5}
	if p := cfg.Validate(); len(p) != 1 {
		t.Errorf("problems = %v", p)
	}
	if p := DefaultConfig().Validate(); len(p) != 0 {
		t.Errorf("default problems = %v", p)
	}
}

func TestDimensionWeights(t *testing.T) {
	want := map[Dimension]float64{
		CodeAnalysis: 0.25,
		AIReview:     0.30,
		Tests:        0.20,
		Security:     0.15,
		Quality:      0.10,
	}
	var sum float64
	for d, w := range want {
		if got := Weight(d); got != w {
			t.Errorf("Weight(%s) = %v, want %v", d, got, w)
		}
		sum += Weight(d)
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %v", sum)
	}
	if Weight("style") != 0 {
		t.Errorf("unknown dimension has weight %v", Weight("style"))
	}
}
