package conn

import (
	"math/rand"
	"time"
)

// Default backoff configuration values.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 60 * time.Second
)

// backoff computes exponential reconnect delays with jitter. Unlike a
// sleeping backoff, Next only returns the delay; the reconnect scheduler
// owns the waiting so it can also observe cancellation.
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration

	rand func() float64
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = DefaultBackoffMax
	}
	return &backoff{base: base, max: max, rand: rand.Float64}
}

// Next advances the delay (doubling up to max) and returns it with ±20%
// jitter applied, so a fleet of agents does not reconnect in lockstep.
func (b *backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.base
	} else {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	j := 0.8 + 0.4*b.rand()
	return time.Duration(float64(b.cur) * j)
}

// Current returns the un-jittered current delay.
func (b *backoff) Current() time.Duration {
	return b.cur
}

// Reset returns the backoff to its initial delay.
func (b *backoff) Reset() {
	b.cur = 0
}
