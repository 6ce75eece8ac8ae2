// Package queue provides the bounded in-memory holding area for events
// produced while the connection is down. The queue is explicitly
// non-durable; under capacity pressure it evicts the oldest entry so that
// the most recent events survive.
package queue

import (
	"sync"
	"time"

	"github.com/forgesight/eventship/internal/domain"
	"github.com/forgesight/eventship/internal/ports"
)

// Capacity bounds; configured values are clamped into this range.
const (
	MinCapacity = 10
	MaxCapacity = 100000

	// DefaultCapacity is used when configuration does not set one.
	DefaultCapacity = 1000
)

// ClampCapacity forces a configured capacity into [MinCapacity, MaxCapacity].
// Non-positive values fall back to DefaultCapacity.
func ClampCapacity(n int) int {
	switch {
	case n <= 0:
		return DefaultCapacity
	case n < MinCapacity:
		return MinCapacity
	case n > MaxCapacity:
		return MaxCapacity
	default:
		return n
	}
}

// Queue is a bounded FIFO of offline events. Safe under concurrent
// producers and a single drainer.
type Queue struct {
	mu       sync.Mutex
	entries  []domain.QueueEntry
	capacity int
	evicted  int64
	logger   ports.Logger
}

// New creates a queue with the given capacity, clamped to the sane range.
func New(capacity int, logger ports.Logger) *Queue {
	return &Queue{
		capacity: ClampCapacity(capacity),
		logger:   logger,
	}
}

// Enqueue appends an event. At capacity the oldest entry is evicted to
// admit the newest; the loss is logged, never raised.
func (q *Queue) Enqueue(payload string) {
	var evicted int64

	q.mu.Lock()
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		q.evicted++
		evicted = q.evicted
	}
	q.entries = append(q.entries, domain.QueueEntry{
		Payload:    payload,
		EnqueuedAt: time.Now(),
	})
	q.mu.Unlock()

	if evicted > 0 {
		q.logger.Warn("offline queue full, evicted oldest event",
			ports.Int64("total_evicted", evicted))
	}
}

// DrainAll atomically removes and returns all entries in insertion order.
func (q *Queue) DrainAll() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Capacity returns the effective (clamped) capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Evicted returns the number of events lost to capacity eviction.
func (q *Queue) Evicted() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
