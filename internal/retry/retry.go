// Package retry computes exponential backoff for guarded execution.
package retry

import (
	"errors"
	"math"
	"time"
)

// Policy describes capped exponential backoff.
//
// Example YAML configuration:
//
//	retry:
//	  initial_delay: 5s
//	  multiplier: 2
//	  max_delay: 5m
//	  max_attempts: 3
type Policy struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// DefaultPolicy returns 5s doubling up to 5m, three attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 5 * time.Second,
		Multiplier:   2,
		MaxDelay:     300 * time.Second,
		MaxAttempts:  3,
	}
}

// Delay returns the wait before retrying after the given 1-indexed attempt:
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}

	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (1-indexed) failed with err.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return attempt < p.Attempts()
}

// Attempts returns MaxAttempts, treating zero or negative as a single attempt.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
