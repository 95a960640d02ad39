package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/provider"
)

const defaultAgentTimeout = 30 * time.Minute

// ClaudeCode drives the claude CLI. Plans come from a print-mode prompt and
// changes are made by the agent inside the workspace.
type ClaudeCode struct {
	cfg ProviderConfig
	log *slog.Logger
}

// NewClaudeCode creates a CLI agent backend.
func NewClaudeCode(cfg ProviderConfig) *ClaudeCode {
	if cfg.Name == "" {
		cfg.Name = TypeClaudeCode
	}
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAgentTimeout
	}
	return &ClaudeCode{cfg: cfg, log: logging.WithComponent("ai.claudecode")}
}

func (c *ClaudeCode) Name() string { return c.cfg.Name }

// IsAvailable checks that the CLI is installed.
func (c *ClaudeCode) IsAvailable() bool {
	_, err := exec.LookPath(c.cfg.Command)
	return err == nil
}

// Complete runs a single print-mode prompt.
func (c *ClaudeCode) Complete(ctx context.Context, system, prompt string) (string, error) {
	if system != "" {
		prompt = system + "\n\n" + prompt
	}
	out, err := c.run(ctx, "", "-p", prompt, "--output-format", "text")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", provider.NewError(c.Name(), "complete", provider.KindPayload, errors.New("empty output"))
	}
	return out, nil
}

// Apply lets the agent edit files in dir.
func (c *ClaudeCode) Apply(ctx context.Context, dir, prompt string) error {
	args := []string{"-p", prompt, "--output-format", "text", "--dangerously-skip-permissions"}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	_, err := c.run(ctx, dir, args...)
	return err
}

func (c *ClaudeCode) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug("Starting agent", slog.String("command", c.cfg.Command), slog.String("dir", dir))
	if err := cmd.Run(); err != nil {
		kind := provider.KindResponse
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
			kind = provider.KindUnavailable
		} else if ctx.Err() != nil {
			kind = provider.KindNetwork
		}
		return "", provider.NewError(c.Name(), "run", kind, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}
