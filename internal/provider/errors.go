// Package provider picks among interchangeable backends of a capability and
// fails over between them.
package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoProviders is returned when a capability has nothing configured.
var ErrNoProviders = errors.New("no providers configured")

// Kind classifies a provider failure.
type Kind string

const (
	KindNetwork     Kind = "network"     // transport failure, timeout
	KindResponse    Kind = "response"    // non-success status
	KindPayload     Kind = "payload"     // malformed or unusable body
	KindUnavailable Kind = "unavailable" // not configured, unhealthy, rate limited
)

// Error is a failure attributed to a single provider.
type Error struct {
	Provider   string
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

// NewError wraps err as a provider failure.
func NewError(provider, op string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s error", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindResponse:
		return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
	}
	return false
}

// IsRetryable reports whether err carries a transient provider failure.
// Errors that are not provider errors are treated as transient.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return err != nil
}

// Attempt records one provider call made during failover.
type Attempt struct {
	Provider string        `json:"provider"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// ChainError aggregates every failed attempt of a failover run.
type ChainError struct {
	Op       string
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("%s: all %d providers failed: %s", e.Op, len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes each attempt's error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Providers lists the names of every failed provider in call order.
func (e *ChainError) Providers() []string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Provider)
	}
	return names
}
