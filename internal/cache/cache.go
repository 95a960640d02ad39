// Package cache keeps read-through session snapshots in memory or Redis.
package cache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alekspetrov/hourglass/internal/clock"
	"github.com/alekspetrov/hourglass/internal/session"
)

// Backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects the snapshot cache.
//
// Example YAML configuration:
//
//	cache:
//	  backend: redis
//	  ttl: 30s
//	  redis_url: redis://localhost:6379/0
type Config struct {
	Backend  string        `yaml:"backend"`
	TTL      time.Duration `yaml:"ttl"`
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
}

// DefaultConfig leaves caching off. The memory backend only sees writes made
// by its own process, so a pause or cancel issued from another CLI process
// would go unnoticed by a running orchestrator until the TTL lapses.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendNone,
		TTL:     30 * time.Second,
		Prefix:  "hourglass:session:",
	}
}

// Validate lists configuration problems.
func (c *Config) Validate() []string {
	var problems []string
	switch c.Backend {
	case BackendNone, BackendMemory, "":
	case BackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "cache.redis_url is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q is not one of none, memory, redis", c.Backend))
	}
	if c.TTL < 0 {
		problems = append(problems, "cache.ttl must not be negative")
	}
	return problems
}

// New builds the configured cache. A nil cache means caching is off. The
// returned closer is never nil.
func New(ctx context.Context, cfg *Config, clk clock.Clock) (session.Cache, io.Closer, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nopCloser{}, nil
	case BackendRedis:
		r, err := NewRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	default:
		return NewMemory(cfg.TTL, clk), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Memory is an in-process TTL cache.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	session *session.Session
	expires time.Time
}

// NewMemory returns an in-process cache. ttl <= 0 keeps entries until
// invalidated.
func NewMemory(ttl time.Duration, clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memory{ttl: ttl, clock: clk, entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, id string) (*session.Session, bool) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		return nil, false
	}
	return e.session.Clone(), true
}

func (m *Memory) Set(_ context.Context, s *session.Session) {
	e := memoryEntry{session: s.Clone()}
	if m.ttl > 0 {
		e.expires = m.clock.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[s.ID] = e
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

// Len reports the number of cached entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
