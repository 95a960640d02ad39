// Package review scores a change before it is published. Each configured
// dimension yields a score in [0,1] and the weighted mean is compared with
// a threshold.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/ticket"
	"github.com/alekspetrov/hourglass/internal/workspace"
)

// Dimension names one review criterion.
type Dimension string

const (
	CodeAnalysis Dimension = "code_analysis"
	AIReview     Dimension = "ai_review"
	Tests        Dimension = "tests"
	Security     Dimension = "security"
	Quality      Dimension = "quality"
)

// dimensionWeights are fixed and sum to 1.
var dimensionWeights = map[Dimension]float64{
	CodeAnalysis: 0.25,
	AIReview:     0.30,
	Tests:        0.20,
	Security:     0.15,
	Quality:      0.10,
}

// DefaultThreshold is the minimum passing score.
const DefaultThreshold = 0.7

// Command is a shell check run in the repository. Exit 0 scores 1.
type Command struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// QualityLimits bound the size of a change before the quality score drops.
type QualityLimits struct {
	MaxFiles int `yaml:"max_files"`
	MaxLines int `yaml:"max_lines"`
}

// Config configures the review gate. Nil checks are skipped.
//
// Example YAML configuration:
//
//	review:
//	  enabled: true
//	  threshold: 0.7
//	  code_analysis: {command: "go vet ./...", timeout: 2m}
//	  tests: {command: "go test ./...", timeout: 10m}
//	  security: {command: "gosec ./..."}
//	  ai_review: true
//	  quality: {max_files: 20, max_lines: 500}
type Config struct {
	Enabled      bool           `yaml:"enabled"`
	Threshold    float64        `yaml:"threshold"`
	CodeAnalysis *Command       `yaml:"code_analysis"`
	Tests        *Command       `yaml:"tests"`
	Security     *Command       `yaml:"security"`
	AIReview     bool           `yaml:"ai_review"`
	Quality      *QualityLimits `yaml:"quality"`
}

// DefaultConfig returns a disabled gate with the default threshold.
func DefaultConfig() *Config {
	return &Config{
		Threshold: DefaultThreshold,
		AIReview:  true,
		Quality:   &QualityLimits{MaxFiles: 20, MaxLines: 500},
	}
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	var problems []string
	if c.Threshold < 0 || c.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("review.threshold must be within 0..1, got %v", c.Threshold))
	}
	return problems
}

// Weight is the share of d in the combined score.
func Weight(d Dimension) float64 { return dimensionWeights[d] }

// Scorer rates a diff against its ticket.
type Scorer interface {
	Review(ctx context.Context, t *ticket.Ticket, diff string) (float64, error)
}

// Input is the change under review.
type Input struct {
	Ticket *ticket.Ticket
	Dir    string
	Diff   string
	Stats  workspace.DiffStats
}

// DimensionResult is the outcome of one criterion.
type DimensionResult struct {
	Dimension Dimension     `json:"dimension"`
	Score     float64       `json:"score"`
	Weight    float64       `json:"weight"`
	Skipped   bool          `json:"skipped"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Result is the combined verdict.
type Result struct {
	Score      float64           `json:"score"`
	Threshold  float64           `json:"threshold"`
	Passed     bool              `json:"passed"`
	Dimensions []DimensionResult `json:"dimensions"`
}

// Gate evaluates changes.
type Gate struct {
	cfg    *Config
	scorer Scorer
	log    *slog.Logger
}

// NewGate creates a gate. scorer may be nil when AI review is off.
func NewGate(cfg *Config, scorer Scorer) *Gate {
	return &Gate{cfg: cfg, scorer: scorer, log: logging.WithComponent("review")}
}

// Enabled reports whether the gate should run at all.
func (g *Gate) Enabled() bool { return g != nil && g.cfg.Enabled }

// Threshold returns the configured pass mark.
func (g *Gate) Threshold() float64 {
	if g.cfg.Threshold <= 0 {
		return DefaultThreshold
	}
	return g.cfg.Threshold
}

// Evaluate scores in across every configured dimension.
func (g *Gate) Evaluate(ctx context.Context, in Input) *Result {
	results := []DimensionResult{
		g.command(ctx, CodeAnalysis, g.cfg.CodeAnalysis, in.Dir, 2*time.Minute),
		g.aiReview(ctx, in),
		g.command(ctx, Tests, g.cfg.Tests, in.Dir, 10*time.Minute),
		g.command(ctx, Security, g.cfg.Security, in.Dir, 5*time.Minute),
		g.quality(in.Stats),
	}
	for i := range results {
		results[i].Weight = Weight(results[i].Dimension)
	}

	score := Combine(results)
	res := &Result{
		Score:      score,
		Threshold:  g.Threshold(),
		Passed:     score >= g.Threshold(),
		Dimensions: results,
	}
	g.log.Info("Review scored",
		slog.Float64("score", score),
		slog.Bool("passed", res.Passed))
	return res
}

// Combine returns the weighted mean of the scored dimensions with weights
// renormalized over them. With nothing scored the result is 1.
func Combine(results []DimensionResult) float64 {
	var sum, total float64
	for _, r := range results {
		if r.Skipped || r.Weight <= 0 {
			continue
		}
		sum += r.Score * r.Weight
		total += r.Weight
	}
	if total == 0 {
		return 1
	}
	return math.Round(sum/total*10000) / 10000
}

func (g *Gate) command(ctx context.Context, d Dimension, c *Command, dir string, fallback time.Duration) DimensionResult {
	res := DimensionResult{Dimension: d}
	if c == nil || strings.TrimSpace(c.Command) == "" {
		res.Skipped = true
		return res
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = fallback
	}

	started := time.Now()
	exitCode, output, err := runCommand(ctx, dir, c.Command, timeout)
	res.Duration = time.Since(started)
	res.Output = tail(output, 2000)
	switch {
	case err != nil:
		res.Error = err.Error()
	case exitCode != 0:
		res.Error = fmt.Sprintf("command exited with code %d", exitCode)
	default:
		res.Score = 1
	}
	g.log.Debug("Review command finished",
		slog.String("dimension", string(d)),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", res.Duration))
	return res
}

// aiReview is skipped when the scorer is missing or every provider fails,
// so an outage does not by itself hold back a change.
func (g *Gate) aiReview(ctx context.Context, in Input) DimensionResult {
	res := DimensionResult{Dimension: AIReview}
	if !g.cfg.AIReview || g.scorer == nil || in.Diff == "" {
		res.Skipped = true
		return res
	}
	started := time.Now()
	score, err := g.scorer.Review(ctx, in.Ticket, in.Diff)
	res.Duration = time.Since(started)
	if err != nil {
		g.log.Warn("AI review unavailable, skipping dimension", slog.Any("error", err))
		res.Skipped = true
		res.Error = err.Error()
		return res
	}
	res.Score = score
	return res
}

func (g *Gate) quality(stats workspace.DiffStats) DimensionResult {
	res := DimensionResult{Dimension: Quality}
	if g.cfg.Quality == nil {
		res.Skipped = true
		return res
	}
	res.Score = QualityScore(stats, *g.cfg.Quality)
	res.Output = fmt.Sprintf("%d files, %d lines changed", stats.Files, stats.Lines())
	return res
}

// QualityScore is 1 for changes within limits and shrinks proportionally
// as a change exceeds them. An empty change scores 0.
func QualityScore(stats workspace.DiffStats, limits QualityLimits) float64 {
	if stats.Files == 0 {
		return 0
	}
	score := 1.0
	if limits.MaxFiles > 0 && stats.Files > limits.MaxFiles {
		score *= float64(limits.MaxFiles) / float64(stats.Files)
	}
	if limits.MaxLines > 0 && stats.Lines() > limits.MaxLines {
		score *= float64(limits.MaxLines) / float64(stats.Lines())
	}
	return math.Round(score*10000) / 10000
}

// Feedback renders failed dimensions for a regeneration prompt.
func Feedback(r *Result) string {
	var failed []DimensionResult
	for _, d := range r.Dimensions {
		if !d.Skipped && d.Score < 1 {
			failed = append(failed, d)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Weight > failed[j].Weight })

	var b strings.Builder
	fmt.Fprintf(&b, "## Review feedback (score %.2f, needs %.2f)\n\n", r.Score, r.Threshold)
	for _, d := range failed {
		fmt.Fprintf(&b, "### %s: %.2f\n", d.Dimension, d.Score)
		if d.Error != "" {
			b.WriteString(d.Error)
			b.WriteString("\n")
		}
		if d.Output != "" {
			b.WriteString("```\n")
			b.WriteString(d.Output)
			b.WriteString("\n```\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
