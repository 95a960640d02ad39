package orchestrator

import (
	"fmt"
	"time"
)

// Config controls the polling loop.
//
// Example YAML configuration:
//
//	orchestrator:
//	  ticket_load_interval: 2m
//	  tick_interval: 30s
//	  error_cooldown: 60s
//	  lease_ttl: 2h
type Config struct {
	TicketLoadInterval time.Duration `yaml:"ticket_load_interval"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	ErrorCooldown      time.Duration `yaml:"error_cooldown"`
	// LeaseTTL must outlast the longest single ticket; the lease is renewed
	// at every tick and again before billing.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() *Config {
	return &Config{
		TicketLoadInterval: 2 * time.Minute,
		TickInterval:       30 * time.Second,
		ErrorCooldown:      60 * time.Second,
		LeaseTTL:           2 * time.Hour,
	}
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	var problems []string
	for name, d := range map[string]time.Duration{
		"ticket_load_interval": c.TicketLoadInterval,
		"tick_interval":        c.TickInterval,
		"error_cooldown":       c.ErrorCooldown,
		"lease_ttl":            c.LeaseTTL,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("orchestrator.%s must be positive", name))
		}
	}
	return problems
}
