package pipeline

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: base doubled per attempt, capped at Max,
// with a random jitter fraction so workers that failed together do not
// retry together.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, 0..1
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:   30 * time.Second,
		Max:    15 * time.Minute,
		Jitter: 0.2,
	}
}

// Delay returns the wait before the next attempt, given the number of
// attempts already made.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := b.Base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if b.Jitter > 0 {
		spread := float64(delay) * b.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
