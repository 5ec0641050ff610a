package sync

import (
	"math"
	"time"
)

// Default retry and backoff constants, overridable via [engine] config.
const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 1 * time.Second
	defaultBackoffCap  = 60 * time.Second
	backoffFactor      = 2.0
	jitterFraction     = 0.25
)

// backoffDelay computes the wait before retry number attempt (1-based):
// exponential growth from base, capped at limit, with ±25% jitter so
// devices recovering together do not retry in lockstep. randFloat supplies
// the jitter source in [0, 1).
func backoffDelay(attempt int, base, limit time.Duration, randFloat func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(base) * math.Pow(backoffFactor, float64(attempt-1))
	if delay > float64(limit) {
		delay = float64(limit)
	}

	// Apply ±25% jitter.
	jitter := delay * jitterFraction * (randFloat()*2 - 1)
	delay += jitter

	return time.Duration(delay)
}
