package queue

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: exponential growth from Base, capped at
// Max, with equal jitter, never below Floor.
type Backoff struct {
	Base  time.Duration
	Max   time.Duration
	Floor time.Duration
}

// DefaultBackoff retries after roughly 5m, 10m, 20m ... up to 2h. The floor
// matches the worker's longest poll sleep so a retry is never due before
// the worker would look again.
var DefaultBackoff = Backoff{
	Base:  5 * time.Minute,
	Max:   2 * time.Hour,
	Floor: 5 * time.Minute,
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := b.Base
	for i := 1; i < attempt && exp < b.Max; i++ {
		exp *= 2
	}
	if exp > b.Max {
		exp = b.Max
	}
	half := exp / 2
	d := half
	if half > 0 {
		d += time.Duration(rand.Int64N(int64(half)))
	}
	if d < b.Floor {
		d = b.Floor
	}
	return d
}
