package remote

import (
	"sync"
	"testing"
	"time"
)

func TestBackoffNeverExceedsCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 8, Base: time.Second, Cap: 10 * time.Second, Rand: newLockedRand(1)}
	for attempt := 0; attempt < 20; attempt++ {
		if d := p.Delay(attempt); d > p.Cap {
			t.Fatalf("Delay(%d) = %v, exceeds cap %v", attempt, d, p.Cap)
		}
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	// A single jittered draw can land anywhere in [0, exp]; use the
	// max-of-many-draws trend instead of a single draw to avoid jitter flakiness.
	p := DefaultRetryPolicy()
	p.Rand = newLockedRand(42)

	maxAt := func(attempt int) time.Duration {
		var max time.Duration
		for i := 0; i < 50; i++ {
			if d := p.Delay(attempt); d > max {
				max = d
			}
		}
		return max
	}

	if maxAt(0) > maxAt(5) {
		t.Fatalf("expected later attempts to reach higher delays: attempt0 max %v > attempt5 max %v", maxAt(0), maxAt(5))
	}
}

func TestBackoffConcurrentCallsDoNotRace(t *testing.T) {
	// Mirrors §5: one *Client, and its RetryPolicy's jitter source, is shared
	// by every Game Worker, the Control Loop, and the Matchmaker.
	p := DefaultRetryPolicy()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(attempt int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p.Delay(attempt % 8)
			}
		}(i)
	}
	wg.Wait()
}

func TestBackoffZeroBaseReturnsZero(t *testing.T) {
	p := RetryPolicy{}
	if d := p.backoff(3); d != 0 {
		t.Fatalf("backoff with zero Base = %v, want 0", d)
	}
}

func TestRateBudgetPenalizeThenWaitUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newBudgetTable(func() time.Time { return now })

	if d := table.waitUntil(ClassMove); d != 0 {
		t.Fatalf("waitUntil on untouched class = %v, want 0", d)
	}

	table.penalize(ClassMove, 5*time.Second)
	if d := table.waitUntil(ClassMove); d != 5*time.Second {
		t.Fatalf("waitUntil after penalize(5s) = %v, want 5s", d)
	}
	if got := table.consecutiveFailures(ClassMove); got != 1 {
		t.Fatalf("consecutiveFailures = %d, want 1", got)
	}

	table.penalize(ClassMove, 0) // no retry-after hint: default penalty applies
	if got := table.consecutiveFailures(ClassMove); got != 2 {
		t.Fatalf("consecutiveFailures after second penalty = %d, want 2", got)
	}

	table.recordSuccess(ClassMove)
	if got := table.consecutiveFailures(ClassMove); got != 0 {
		t.Fatalf("consecutiveFailures after recordSuccess = %d, want 0", got)
	}
}

func TestRateBudgetClassesAreIndependent(t *testing.T) {
	table := newBudgetTable(nil)
	table.penalize(ClassChallenge, time.Minute)
	if d := table.waitUntil(ClassMove); d != 0 {
		t.Fatalf("penalizing ClassChallenge must not affect ClassMove, got wait %v", d)
	}
}
