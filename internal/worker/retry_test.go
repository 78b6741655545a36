package worker

import (
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	cases := map[int]time.Duration{
		0: time.Second,
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		5: 5 * time.Second,
	}
	for attempt, want := range cases {
		if got := policy.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}

	if got := (RetryPolicy{}).NextDelay(3); got != 4*time.Second {
		t.Errorf("zero policy: expected 4s, got %s", got)
	}
}

func TestRetryPolicyDefaultsAndExhausted(t *testing.T) {
	policy := RetryPolicy{}.withDefaults()
	if policy.MaxRetries != 5 || policy.InitialDelay != 2*time.Second || policy.MaxDelay != time.Minute {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
	if policy.Exhausted(4) {
		t.Errorf("attempt 4 of 5 should not be exhausted")
	}
	if !policy.Exhausted(5) {
		t.Errorf("attempt 5 of 5 should be exhausted")
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	policy := RetryPolicy{InitialDelay: 10 * time.Second, BackoffFactor: 2, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		got := policy.NextDelay(2)
		if got < 16*time.Second || got > 24*time.Second {
			t.Fatalf("delay %s outside jitter bounds", got)
		}
	}
}
