package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Defaults used by the dispatcher for retryable task failures.
const (
	DefaultBase = 500 * time.Millisecond
	DefaultMax  = 30 * time.Second
)

// ExponentialJitter returns base doubled per attempt, capped at max,
// with +/- 20% random jitter so retries from concurrent failures spread out.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max {
		d = max
	}

	jitter := time.Duration(float64(d) * 0.2)
	if jitter <= 0 {
		return d
	}
	return d - jitter + time.Duration(rand.Int63n(int64(2*jitter)))
}

// ForAttempt is ExponentialJitter with the default constants.
func ForAttempt(attempt int) time.Duration {
	return ExponentialJitter(DefaultBase, DefaultMax, attempt)
}
