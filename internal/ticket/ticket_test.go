package ticket

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestHappyPathTransitions(t *testing.T) {
	tk := &Ticket{Status: StatusPending}
	path := []Status{
		StatusAnalyzing,
		StatusGeneratingSolution,
		StatusExecuting,
		StatusCreatingPR,
		StatusCompleted,
	}
	for _, next := range path {
		if err := tk.Transition(next, now); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if !tk.Retired || tk.ProcessingCompletedAt == nil {
		t.Errorf("terminal ticket not retired: %+v", tk)
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusPending, StatusExecuting},
		{StatusPending, StatusCompleted},
		{StatusGeneratingSolution, StatusCreatingPR},
		{StatusCompleted, StatusPending},
		{StatusExecuting, StatusRequiresReview},
	}
	for _, tt := range tests {
		tk := &Ticket{Status: tt.from}
		err := tk.Transition(tt.to, now)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s error = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
		if tk.Status != tt.from {
			t.Errorf("status changed on rejected transition: %s", tk.Status)
		}
	}
}

func TestResetForRetry(t *testing.T) {
	tk := &Ticket{Status: StatusFailed, Retired: true, RetryCount: 1, ErrorMessage: "push rejected"}
	if err := tk.ResetForRetry(now); err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}
	if tk.Status != StatusPending || tk.Retired || tk.RetryCount != 2 || tk.ErrorMessage != "" {
		t.Errorf("unexpected ticket after retry: %+v", tk)
	}

	done := &Ticket{Status: StatusCompleted}
	if err := done.ResetForRetry(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed retry error = %v", err)
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"High":     PriorityHigh,
		"blocker":  PriorityCritical,
		" medium ": PriorityMedium,
		"Lowest":   PriorityLow,
		"whenever": PriorityNone,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name  string
		tk    Ticket
		level Complexity
	}{
		{
			name:  "typo",
			tk:    Ticket{Title: "Fix typo in README"},
			level: ComplexityTrivial,
		},
		{
			name:  "plain short bug",
			tk:    Ticket{Title: "Button does nothing", Description: "Clicking save has no effect"},
			level: ComplexitySimple,
		},
		{
			name:  "refactor with migration",
			tk:    Ticket{Title: "Refactor storage layer", Description: "Needs a database schema migration", Priority: PriorityHigh},
			level: ComplexityComplex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(&tt.tk)
			if a.Level != tt.level {
				t.Errorf("Level = %s (score %.2f, keywords %v), want %s", a.Level, a.Score, a.Keywords, tt.level)
			}
			if a.Score < 0 || a.Score > 1 {
				t.Errorf("Score %v out of range", a.Score)
			}
		})
	}
}

func TestAnalyzeIgnoresCodeBlocks(t *testing.T) {
	long := "```\n"
	for i := 0; i < 500; i++ {
		long += "x := 1\n"
	}
	long += "```\nfix it"
	a := Analyze(&Ticket{Title: "crash", Description: long})
	if a.Words != 2 {
		t.Errorf("Words = %d, want 2", a.Words)
	}
}

func TestLabelMatchIsCaseInsensitive(t *testing.T) {
	tk := &Ticket{Labels: []string{"Backend"}, Components: []string{"API"}}
	if !tk.HasLabel("backend") || !tk.HasComponent("api") {
		t.Error("expected case-insensitive matches")
	}
	if tk.HasLabel("frontend") {
		t.Error("unexpected label match")
	}
}
