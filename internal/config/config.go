// Package config loads the Hourglass YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/hourglass/internal/adapters/github"
	"github.com/alekspetrov/hourglass/internal/adapters/gitlab"
	"github.com/alekspetrov/hourglass/internal/adapters/jira"
	"github.com/alekspetrov/hourglass/internal/ai"
	"github.com/alekspetrov/hourglass/internal/cache"
	"github.com/alekspetrov/hourglass/internal/digest"
	"github.com/alekspetrov/hourglass/internal/gateway"
	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/notify"
	"github.com/alekspetrov/hourglass/internal/orchestrator"
	"github.com/alekspetrov/hourglass/internal/retry"
	"github.com/alekspetrov/hourglass/internal/review"
	"github.com/alekspetrov/hourglass/internal/routing"
	"github.com/alekspetrov/hourglass/internal/store"
)

// ErrConfiguration marks configuration problems that must stop startup.
var ErrConfiguration = errors.New("invalid configuration")

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Is makes errors.Is(err, ErrConfiguration) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config represents the main configuration
type Config struct {
	Version       string               `yaml:"version"`
	Logging       *logging.Config      `yaml:"logging"`
	Storage       *store.Config        `yaml:"storage"`
	Cache         *cache.Config        `yaml:"cache"`
	Orchestrator  *orchestrator.Config `yaml:"orchestrator"`
	Retry         *retry.Policy        `yaml:"retry"`
	Review        *review.Config       `yaml:"review"`
	AI            *ai.Config           `yaml:"ai"`
	TicketSources *TicketSourcesConfig `yaml:"ticket_sources"`
	CodeHosts     *CodeHostsConfig     `yaml:"code_hosts"`
	Projects      []routing.Project    `yaml:"projects"`
	Notifications *notify.Config       `yaml:"notifications"`
	Gateway       *gateway.Config      `yaml:"gateway"`
	Digest        *digest.Config       `yaml:"digest"`
	Dashboard     *DashboardConfig     `yaml:"dashboard"`
}

// TicketSourcesConfig holds the trackers tickets are pulled from.
type TicketSourcesConfig struct {
	Default string         `yaml:"default"`
	GitHub  *github.Config `yaml:"github"`
	Jira    *jira.Config   `yaml:"jira"`
	GitLab  *gitlab.Config `yaml:"gitlab"`
}

// CodeHostsConfig holds the hosts changes are published to.
type CodeHostsConfig struct {
	Default string         `yaml:"default"`
	GitHub  *github.Config `yaml:"github"`
	GitLab  *gitlab.Config `yaml:"gitlab"`
}

// DashboardConfig holds dashboard settings
type DashboardConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Version:      "1.0",
		Logging:      logging.DefaultConfig(),
		Storage:      store.DefaultConfig(),
		Cache:        cache.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Retry:        &policy,
		Review:       review.DefaultConfig(),
		AI:           ai.DefaultConfig(),
		TicketSources: &TicketSourcesConfig{
			GitHub: github.DefaultConfig(),
			Jira:   jira.DefaultConfig(),
			GitLab: gitlab.DefaultConfig(),
		},
		CodeHosts: &CodeHostsConfig{
			GitHub: github.DefaultConfig(),
			GitLab: gitlab.DefaultConfig(),
		},
		Projects:      []routing.Project{},
		Notifications: notify.DefaultConfig(),
		Gateway:       gateway.DefaultConfig(),
		Digest:        digest.DefaultConfig(),
		Dashboard: &DashboardConfig{
			RefreshInterval: 5 * time.Second,
		},
	}
}

// Load loads configuration from a file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Storage != nil {
		config.Storage.Path = expandPath(config.Storage.Path)
	}
	if config.Logging != nil {
		switch config.Logging.Output {
		case "", "stdout", "stderr":
		default:
			config.Logging.Output = expandPath(config.Logging.Output)
		}
	}
	for i := range config.Projects {
		for j := range config.Projects[i].Associations {
			repo := &config.Projects[i].Associations[j].Repository
			repo.LocalPath = expandPath(repo.LocalPath)
		}
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Credentials live in this file.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".hourglass", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// EnabledSources lists the names of enabled ticket sources.
func (c *Config) EnabledSources() []string {
	var names []string
	if ts := c.TicketSources; ts != nil {
		if ts.GitHub != nil && ts.GitHub.Enabled {
			names = append(names, github.Name)
		}
		if ts.Jira != nil && ts.Jira.Enabled {
			names = append(names, jira.Name)
		}
		if ts.GitLab != nil && ts.GitLab.Enabled {
			names = append(names, gitlab.Name)
		}
	}
	return names
}

// EnabledCodeHosts lists the names of enabled publication targets.
func (c *Config) EnabledCodeHosts() []string {
	var names []string
	if ch := c.CodeHosts; ch != nil {
		if ch.GitHub != nil && ch.GitHub.Enabled {
			names = append(names, github.Name)
		}
		if ch.GitLab != nil && ch.GitLab.Enabled {
			names = append(names, gitlab.Name)
		}
	}
	return names
}

// Validate returns a *ValidationError listing every problem, or nil.
func (c *Config) Validate() error {
	var problems []string
	add := func(p ...string) { problems = append(problems, p...) }

	if c.Storage == nil {
		add("storage configuration is required")
	} else {
		add(c.Storage.Validate()...)
	}
	if c.Cache != nil {
		add(c.Cache.Validate()...)
	}
	if c.Orchestrator == nil {
		add("orchestrator configuration is required")
	} else {
		add(c.Orchestrator.Validate()...)
	}
	if c.Retry != nil {
		add(validateRetry(c.Retry)...)
	}
	if c.Review != nil {
		add(c.Review.Validate()...)
	}
	if c.AI == nil {
		add("ai configuration is required")
	} else {
		add(c.AI.Validate()...)
	}
	if c.Notifications != nil {
		add(c.Notifications.Validate()...)
	}
	if c.Gateway != nil {
		add(c.Gateway.Validate()...)
	}
	if c.Digest != nil {
		add(c.Digest.Validate()...)
	}
	add(c.validateIntegrations()...)
	add(c.validateProjects()...)

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func validateRetry(p *retry.Policy) []string {
	var problems []string
	if p.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		problems = append(problems, "retry delays must not be negative")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		problems = append(problems, "retry.multiplier must be at least 1")
	}
	return problems
}

func (c *Config) validateIntegrations() []string {
	var problems []string
	sources := c.EnabledSources()
	if len(sources) == 0 {
		problems = append(problems, "ticket_sources: enable at least one source")
	}
	if ts := c.TicketSources; ts != nil {
		if ts.GitHub != nil && ts.GitHub.Enabled {
			problems = append(problems, prefix("ticket_sources.", ts.GitHub.Validate(true))...)
		}
		if ts.Jira != nil && ts.Jira.Enabled {
			problems = append(problems, prefix("ticket_sources.", ts.Jira.Validate())...)
		}
		if ts.GitLab != nil && ts.GitLab.Enabled {
			problems = append(problems, prefix("ticket_sources.", ts.GitLab.Validate(true))...)
		}
		if ts.Default != "" && !contains(sources, ts.Default) {
			problems = append(problems, fmt.Sprintf("ticket_sources.default %q is not an enabled source", ts.Default))
		}
	}

	hosts := c.EnabledCodeHosts()
	if len(hosts) == 0 {
		problems = append(problems, "code_hosts: enable at least one code host")
	}
	if ch := c.CodeHosts; ch != nil {
		if ch.GitHub != nil && ch.GitHub.Enabled {
			problems = append(problems, prefix("code_hosts.", ch.GitHub.Validate(false))...)
		}
		if ch.GitLab != nil && ch.GitLab.Enabled {
			problems = append(problems, prefix("code_hosts.", ch.GitLab.Validate(false))...)
		}
		if ch.Default != "" && !contains(hosts, ch.Default) {
			problems = append(problems, fmt.Sprintf("code_hosts.default %q is not an enabled code host", ch.Default))
		}
	}
	return problems
}

func (c *Config) validateProjects() []string {
	var problems []string
	if len(c.Projects) == 0 {
		return append(problems, "projects: configure at least one project")
	}
	if _, err := routing.NewRouter(c.Projects); err != nil {
		problems = append(problems, err.Error())
	}
	sources, hosts := c.EnabledSources(), c.EnabledCodeHosts()
	for _, p := range c.Projects {
		if p.Key == "" {
			problems = append(problems, "projects: key is required")
		}
		if p.Source != "" && !contains(sources, p.Source) {
			problems = append(problems, fmt.Sprintf("project %s: source %q is not an enabled ticket source", p.Key, p.Source))
		}
		if p.CodeHost != "" && !contains(hosts, p.CodeHost) {
			problems = append(problems, fmt.Sprintf("project %s: code_host %q is not an enabled code host", p.Key, p.CodeHost))
		}
		for _, a := range p.Associations {
			repo := a.Repository
			if repo.Host != "" && !contains(hosts, repo.Host) {
				problems = append(problems, fmt.Sprintf("project %s: repository %s host %q is not an enabled code host", p.Key, repo.Name, repo.Host))
			}
			if repo.BotEnabled && repo.LocalPath == "" {
				problems = append(problems, fmt.Sprintf("project %s: repository %s needs local_path", p.Key, repo.Name))
			}
		}
	}
	return problems
}

// Router builds the project router.
func (c *Config) Router() (*routing.Router, error) {
	r, err := routing.NewRouter(c.Projects)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return r, nil
}

func prefix(p string, problems []string) []string {
	for i := range problems {
		problems[i] = p + problems[i]
	}
	return problems
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
