// Package ratelimit bounds operation rate per caller with fixed-window
// counters. Windows are anchored at first use and reset implicitly once the
// window has elapsed; counts never go negative.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the counting window used when none is configured.
const DefaultWindow = time.Minute

// Well-known operation names.
const (
	OpSubmit         = "submit"
	OpTestConnection = "test-connection"
)

// Limits maps an operation name to its per-window request ceiling.
// Operations without an entry fall back to the default limit.
type Limits map[string]int

// Limiter holds per-(operation, caller) window counters.
// Safe for concurrent use; the lock is held only for counter mutation.
type Limiter struct {
	mu           sync.Mutex
	window       time.Duration
	limits       Limits
	defaultLimit int
	buckets      map[bucketKey]*bucket

	now func() time.Time
}

type bucketKey struct {
	operation string
	caller    string
}

type bucket struct {
	count       int
	windowStart time.Time
}

// New creates a limiter with the given window and per-operation limits.
// A non-positive window falls back to DefaultWindow; a non-positive default
// limit disables limiting for unlisted operations.
func New(window time.Duration, limits Limits, defaultLimit int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		window:       window,
		limits:       limits,
		defaultLimit: defaultLimit,
		buckets:      make(map[bucketKey]*bucket),
		now:          time.Now,
	}
}

// Allow records one request for (operation, caller) and reports whether it
// is within the window limit. Once the limit is reached, further calls in
// the same window return false without being counted.
func (l *Limiter) Allow(operation, caller string) bool {
	limit := l.limitFor(operation)
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(operation, caller)
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// CurrentCount returns the number of admitted requests in the current
// window for (operation, caller).
func (l *Limiter) CurrentCount(operation, caller string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucketLocked(operation, caller).count
}

// Remaining returns how many requests are left in the current window.
// Unlimited operations report -1.
func (l *Limiter) Remaining(operation, caller string) int {
	limit := l.limitFor(operation)
	if limit <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	left := limit - l.bucketLocked(operation, caller).count
	if left < 0 {
		left = 0
	}
	return left
}

// Reset clears the counter for one (operation, caller) pair.
func (l *Limiter) Reset(operation, caller string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, bucketKey{operation: operation, caller: caller})
}

// ClearAll drops every counter.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[bucketKey]*bucket)
}

// SetLimits replaces the per-operation limits. Existing window counters
// keep counting; only the ceiling changes.
func (l *Limiter) SetLimits(limits Limits, defaultLimit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
	l.defaultLimit = defaultLimit
}

// Stats returns a snapshot of current window counts keyed by
// "operation/caller".
func (l *Limiter) Stats() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.buckets))
	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			continue
		}
		out[k.operation+"/"+k.caller] = b.count
	}
	return out
}

func (l *Limiter) limitFor(operation string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit, ok := l.limits[operation]; ok {
		return limit
	}
	return l.defaultLimit
}

// bucketLocked returns the live bucket for the key, creating it lazily and
// resetting it when its window has elapsed. Caller holds l.mu.
func (l *Limiter) bucketLocked(operation, caller string) *bucket {
	key := bucketKey{operation: operation, caller: caller}
	now := l.now()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
		return b
	}
	if now.Sub(b.windowStart) >= l.window {
		b.count = 0
		b.windowStart = now
	}
	return b
}
