package worker

import (
	"math"
	"math/rand"
	"time"
)

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// ExponentialBackoff returns the delay before retry number attempt+1.
// attempt=0 => 2s, attempt=1 => 4s, attempt=2 => 8s, capped at 5m,
// plus 0-250ms of jitter so a burst of failures doesn't retry in lockstep.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(backoffBase) * multiple)

	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
