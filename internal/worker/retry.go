package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is the backoff schedule for failed sync tasks.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay by up to this fraction, e.g. 0.2 for +-20%.
	Jitter float64
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = time.Minute
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}
	return r
}

// Exhausted reports whether attempt (1-based) is the last one allowed.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns InitialDelay*BackoffFactor^(attempt-1), capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(base) * math.Pow(factor, float64(attempt-1))
	if r.Jitter > 0 {
		delay *= 1 + r.Jitter*(2*rand.Float64()-1)
	}
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	if delay < float64(time.Millisecond) {
		return base
	}
	return time.Duration(delay)
}
