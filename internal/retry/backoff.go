package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes requeue delays: Base * 2^(attempt-1), capped at Max, with
// full jitter. A zero Base disables delays so requeued envelopes are eligible
// immediately.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the delays used when none are configured.
func DefaultBackoff() Backoff {
	return Backoff{Base: 0, Max: 30 * time.Second}
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Delay returns the jittered delay before attempt (1-based) is redelivered.
func (b Backoff) Delay(attempt int) time.Duration {
	rngMu.Lock()
	defer rngMu.Unlock()
	return b.delay(attempt, rng)
}

func (b Backoff) delay(attempt int, r *rand.Rand) time.Duration {
	ceiling := b.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(r.Int63n(int64(ceiling) + 1))
}

// Ceiling returns the un-jittered delay for attempt.
func (b Backoff) Ceiling(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt > 32 {
		return max
	}
	d := b.Base << (attempt - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
