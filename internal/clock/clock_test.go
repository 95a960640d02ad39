package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeAdvanceFiresDueWaiters(t *testing.T) {
	c := Fake(epoch)

	short := c.After(30 * time.Second)
	long := c.After(2 * time.Minute)

	c.Advance(time.Minute)

	select {
	case got := <-short:
		if !got.Equal(epoch.Add(time.Minute)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("30s waiter did not fire after 1m")
	}

	select {
	case <-long:
		t.Fatal("2m waiter fired early")
	default:
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(time.Minute)
	select {
	case <-long:
	default:
		t.Fatal("2m waiter did not fire")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	c := Fake(epoch)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, c, time.Hour) }()

	c.BlockUntil(1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep error = %v, want context.Canceled", err)
	}
}

func TestSleepReturnsAfterAdvance(t *testing.T) {
	c := Fake(epoch)

	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), c, 30*time.Second) }()

	c.BlockUntil(1)
	c.Advance(30 * time.Second)

	if err := <-done; err != nil {
		t.Errorf("Sleep error = %v", err)
	}
}

func TestFakeNextDeadline(t *testing.T) {
	c := Fake(epoch)
	if _, ok := c.NextDeadline(); ok {
		t.Fatal("NextDeadline reported a waiter on an idle clock")
	}

	c.After(2 * time.Minute)
	c.After(45 * time.Second)

	got, ok := c.NextDeadline()
	if !ok || !got.Equal(epoch.Add(45*time.Second)) {
		t.Errorf("NextDeadline() = %v, %v", got, ok)
	}
}
