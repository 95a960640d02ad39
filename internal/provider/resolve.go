package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/hourglass/internal/logging"
)

// Candidate is a provider that can claim URLs, e.g. a code host that
// recognises github.com remotes.
type Candidate interface {
	Named
	MatchesURL(rawURL string) bool
}

// HealthChecker is implemented by providers that can test their connection.
type HealthChecker interface {
	TestConnection(ctx context.Context) error
}

// Selection carries the inputs of Resolve.
type Selection struct {
	Override string // explicit per-project provider name
	URL      string // ticket or repository URL
	Default  string // configured default provider name
}

// Resolve picks one provider in this order: explicit override, URL pattern
// match, configured default, first configured provider whose connection
// test passes. An override or default naming an unknown provider is an error.
func Resolve[P Candidate](ctx context.Context, providers []P, sel Selection) (P, error) {
	var zero P
	if len(providers) == 0 {
		return zero, ErrNoProviders
	}

	byName := func(name string) (P, bool) {
		for _, p := range providers {
			if p.Name() == name {
				return p, true
			}
		}
		return zero, false
	}

	if sel.Override != "" {
		p, ok := byName(sel.Override)
		if !ok {
			return zero, fmt.Errorf("override provider %q is not configured", sel.Override)
		}
		return p, nil
	}

	if sel.URL != "" {
		for _, p := range providers {
			if p.MatchesURL(sel.URL) {
				return p, nil
			}
		}
	}

	if sel.Default != "" {
		p, ok := byName(sel.Default)
		if !ok {
			return zero, fmt.Errorf("default provider %q is not configured", sel.Default)
		}
		return p, nil
	}

	log := logging.WithComponent("provider")
	for _, p := range providers {
		hc, ok := any(p).(HealthChecker)
		if !ok {
			return p, nil
		}
		if err := hc.TestConnection(ctx); err != nil {
			log.Warn("Provider unhealthy, skipping",
				slog.String("provider", p.Name()),
				slog.Any("error", err))
			continue
		}
		return p, nil
	}
	return zero, NewError("resolve", "select", KindUnavailable, fmt.Errorf("no healthy provider among %d", len(providers)))
}
