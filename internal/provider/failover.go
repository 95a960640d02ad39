package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/hourglass/internal/logging"
)

// Named is anything with a provider name.
type Named interface {
	Name() string
}

// Result is the value produced by the first provider that succeeded.
type Result[R any] struct {
	Value    R
	Provider string
	// Failed holds the attempts that failed before Provider succeeded.
	Failed []Attempt
}

// UsedFallback is true when the first provider did not serve the call.
func (r Result[R]) UsedFallback() bool { return len(r.Failed) > 0 }

// Failover calls providers in order until one succeeds. When all fail the
// returned *ChainError names every provider and its error. Context
// cancellation stops the chain early.
func Failover[P Named, R any](ctx context.Context, op string, providers []P, call func(context.Context, P) (R, error)) (Result[R], error) {
	log := logging.WithComponent("provider")

	var res Result[R]
	if len(providers) == 0 {
		return res, fmt.Errorf("%s: %w", op, ErrNoProviders)
	}

	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}

		started := time.Now()
		v, err := call(ctx, p)
		if err == nil {
			res.Value = v
			res.Provider = p.Name()
			if i > 0 {
				log.Info("Fallback provider succeeded",
					slog.String("op", op),
					slog.String("provider", p.Name()),
					slog.Int("failed_before", i))
			}
			return res, nil
		}

		res.Failed = append(res.Failed, Attempt{Provider: p.Name(), Err: err, Duration: time.Since(started)})
		log.Warn("Provider failed",
			slog.String("op", op),
			slog.String("provider", p.Name()),
			slog.Any("error", err))
	}

	return res, &ChainError{Op: op, Attempts: res.Failed}
}
