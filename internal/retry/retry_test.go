package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDelaySequence(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
	}

	for i, w := range want {
		attempt := i + 1
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDelayClampsLargeAttempts(t *testing.T) {
	p := DefaultPolicy()
	if got := p.Delay(500); got != 300*time.Second {
		t.Errorf("Delay(500) = %v, want cap", got)
	}
	if got := p.Delay(0); got != 5*time.Second {
		t.Errorf("Delay(0) = %v, want initial delay", got)
	}
}

func TestShouldRetry(t *testing.T) {
	p := DefaultPolicy()
	boom := errors.New("push rejected")

	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"first failure", 1, boom, true},
		{"second failure", 2, boom, true},
		{"budget exhausted", 3, boom, false},
		{"success", 1, nil, false},
		{"permanent", 1, Permanent(boom), false},
		{"wrapped permanent", 1, fmt.Errorf("apply: %w", Permanent(boom)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.attempt, tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%d, %v) = %v, want %v", tt.attempt, tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanentUnwraps(t *testing.T) {
	base := errors.New("bad credentials")
	err := Permanent(base)
	if !errors.Is(err, base) {
		t.Error("Permanent should unwrap to the original error")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestAttemptsFloor(t *testing.T) {
	if got := (Policy{}).Attempts(); got != 1 {
		t.Errorf("Attempts() = %d, want 1", got)
	}
}
