package subscription

import (
	"math"
	"math/rand"
	"time"
)

// exponentialBackoff doubles initial per attempt up to max and spreads the
// result by ±20%.
func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if attempt <= 0 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
