// Package ai generates and applies ticket solutions through an ordered list
// of AI backends with failover.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/provider"
	"github.com/alekspetrov/hourglass/internal/retry"
	"github.com/alekspetrov/hourglass/internal/ticket"
	"github.com/alekspetrov/hourglass/internal/workspace"
)

// Backend types
const (
	TypeAnthropic  = "anthropic"
	TypeOpenAI     = "openai"
	TypeClaudeCode = "claude-code"
)

// Config lists the AI backends in failover order.
//
// Example YAML configuration:
//
//	ai:
//	  providers:
//	    - name: claude
//	      type: anthropic
//	      api_key: ${ANTHROPIC_API_KEY}
//	    - name: gpt
//	      type: openai
//	      api_key: ${OPENAI_API_KEY}
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	Command   string        `yaml:"command"` // claude-code binary
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

// DefaultConfig returns an empty provider list.
func DefaultConfig() *Config {
	return &Config{}
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	var problems []string
	if len(c.Providers) == 0 {
		problems = append(problems, "ai.providers must list at least one provider")
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if seen[p.Name] {
			problems = append(problems, fmt.Sprintf("ai provider %s is listed twice", label))
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeAnthropic, TypeOpenAI:
			if p.APIKey == "" {
				problems = append(problems, fmt.Sprintf("ai provider %s: api_key is required", label))
			}
		case TypeClaudeCode:
		default:
			problems = append(problems, fmt.Sprintf("ai provider %s: unknown type %q", label, p.Type))
		}
	}
	return problems
}

// Backend is one AI provider that completes prompts.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Applier is a backend that edits the workspace itself instead of returning
// file edits.
type Applier interface {
	Apply(ctx context.Context, dir, prompt string) error
}

// Edit replaces or deletes one file.
type Edit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Delete  bool   `json:"delete,omitempty"`
}

// Solution is a generated plan for a ticket.
type Solution struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Steps      []string `json:"steps"`
	Edits      []Edit   `json:"edits,omitempty"`
	Provider   string   `json:"provider"`
	// Fallback is true when the primary backend failed.
	Fallback bool `json:"fallback"`
}

// Change is a solution applied to the workspace.
type Change struct {
	Files         []string
	Summary       string
	Branch        string
	CommitMessage string
}

// Chain tries backends in order.
type Chain struct {
	backends []Backend
	log      *slog.Logger
}

// NewChain wraps backends in failover order.
func NewChain(backends ...Backend) *Chain {
	return &Chain{backends: backends, log: logging.WithComponent("ai")}
}

// New builds the chain described by cfg.
func New(cfg *Config) (*Chain, error) {
	var backends []Backend
	for _, p := range cfg.Providers {
		switch p.Type {
		case TypeAnthropic:
			backends = append(backends, NewAnthropic(p))
		case TypeOpenAI:
			backends = append(backends, NewOpenAI(p))
		case TypeClaudeCode:
			backends = append(backends, NewClaudeCode(p))
		default:
			return nil, fmt.Errorf("unknown ai provider type %q", p.Type)
		}
	}
	if len(backends) == 0 {
		return nil, provider.ErrNoProviders
	}
	return NewChain(backends...), nil
}

// Names lists backend names in order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}

// GenerateSolution asks each backend in turn for a plan. A backend whose
// answer cannot be parsed counts as failed.
func (c *Chain) GenerateSolution(ctx context.Context, prompt string) (*Solution, error) {
	res, err := provider.Failover(ctx, "generate_solution", c.backends,
		func(ctx context.Context, b Backend) (*Solution, error) {
			text, err := b.Complete(ctx, solutionSystemPrompt, prompt)
			if err != nil {
				return nil, err
			}
			sol, err := ParseSolution(text)
			if err != nil {
				return nil, provider.NewError(b.Name(), "generate_solution", provider.KindPayload, err)
			}
			return sol, nil
		})
	if err != nil {
		return nil, err
	}
	sol := res.Value
	sol.Provider = res.Provider
	sol.Fallback = res.UsedFallback()
	return sol, nil
}

// ApplyChange writes sol into the workspace using the backend that produced
// it and reports what changed. An empty change is a permanent failure.
func (c *Chain) ApplyChange(ctx context.Context, ws *workspace.Workspace, t *ticket.Ticket, sol *Solution) (*Change, error) {
	b := c.backend(sol.Provider)
	if a, ok := b.(Applier); ok {
		if err := a.Apply(ctx, ws.Dir(), BuildApplyPrompt(t, sol)); err != nil {
			return nil, err
		}
	} else {
		if len(sol.Edits) == 0 {
			return nil, retry.Permanent(fmt.Errorf("solution from %s contains no file edits", sol.Provider))
		}
		if err := WriteEdits(ws.Dir(), sol.Edits); err != nil {
			return nil, retry.Permanent(err)
		}
	}

	files, err := ws.ChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("applying solution produced no changes")
	}
	branch, err := ws.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	return &Change{
		Files:         files,
		Summary:       summarize(sol),
		Branch:        branch,
		CommitMessage: CommitMessage(t),
	}, nil
}

// Review asks the chain to score diff against the ticket, 0 to 1.
func (c *Chain) Review(ctx context.Context, t *ticket.Ticket, diff string) (float64, error) {
	res, err := provider.Failover(ctx, "review", c.backends,
		func(ctx context.Context, b Backend) (float64, error) {
			text, err := b.Complete(ctx, reviewSystemPrompt, BuildReviewPrompt(t, diff))
			if err != nil {
				return 0, err
			}
			score, err := ParseScore(text)
			if err != nil {
				return 0, provider.NewError(b.Name(), "review", provider.KindPayload, err)
			}
			return score, nil
		})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (c *Chain) backend(name string) Backend {
	for _, b := range c.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// WriteEdits applies edits under dir. Paths escaping dir are rejected.
func WriteEdits(dir string, edits []Edit) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, e := range edits {
		if e.Path == "" {
			return fmt.Errorf("edit without path")
		}
		path := filepath.Join(root, filepath.FromSlash(e.Path))
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return fmt.Errorf("edit path %q escapes the repository", e.Path)
		}
		if e.Delete {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", e.Path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", e.Path, err)
		}
		if err := os.WriteFile(path, []byte(e.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", e.Path, err)
		}
	}
	return nil
}

// CommitMessage is the commit subject used for a ticket.
func CommitMessage(t *ticket.Ticket) string {
	return fmt.Sprintf("%s: %s", t.ExternalKey, t.Title)
}

func summarize(sol *Solution) string {
	if len(sol.Steps) > 0 {
		var b strings.Builder
		for _, s := range sol.Steps {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String())
	}
	text := strings.TrimSpace(sol.Text)
	if len(text) > 500 {
		text = text[:500] + "..."
	}
	return text
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
