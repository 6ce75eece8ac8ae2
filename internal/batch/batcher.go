// Package batch accumulates eligible events and flushes them to the
// connection layer by size or age. A flush hands a snapshot to the sender
// on a separate goroutine, so a slow or unavailable remote never blocks
// producers.
package batch

import (
	"strings"
	"sync"
	"time"

	"github.com/forgesight/eventship/internal/domain"
	"github.com/forgesight/eventship/internal/ports"
)

const (
	// Ceiling caps the configured batch size regardless of configuration.
	Ceiling = 1000

	// DefaultMaxBatch is the size trigger used when none is configured.
	DefaultMaxBatch = 100

	// DefaultFlushTimeout is the age trigger used when none is configured.
	DefaultFlushTimeout = 5 * time.Second

	// maxCheckInterval bounds how coarsely the background timer checks
	// the age trigger.
	maxCheckInterval = 100 * time.Millisecond
)

// Sender receives flushed batches. Implementations must not block the
// batcher; the batcher already calls Send on its own goroutine.
type Sender interface {
	SendBatch(events []string)
}

// Metrics is a point-in-time snapshot of batcher counters.
type Metrics struct {
	EventsReceived int64
	EventsRejected int64
	EventsSent     int64
	BatchesSent    int64
	Occupancy      int
}

// AvgBatchSize returns the mean number of events per sent batch.
func (m Metrics) AvgBatchSize() float64 {
	if m.BatchesSent == 0 {
		return 0
	}
	return float64(m.EventsSent) / float64(m.BatchesSent)
}

// Efficiency returns the fraction of received events that were sent.
func (m Metrics) Efficiency() float64 {
	if m.EventsReceived == 0 {
		return 0
	}
	return float64(m.EventsSent) / float64(m.EventsReceived)
}

// Batcher collects events under one coarse lock and flushes on a size or
// age trigger. A background checker runs until Shutdown.
type Batcher struct {
	maxBatch int
	timeout  time.Duration
	sender   Sender
	logger   ports.Logger

	mu        sync.Mutex
	buf       []string
	lastFlush time.Time

	received, rejected, sent, batches int64

	stopOnce sync.Once
	stop     chan struct{}
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New creates a batcher and starts its background flush checker.
// maxBatch is clamped to [1, Ceiling]; non-positive values take defaults.
func New(maxBatch int, timeout time.Duration, sender Sender, logger ports.Logger) *Batcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if maxBatch > Ceiling {
		maxBatch = Ceiling
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}

	b := &Batcher{
		maxBatch:  maxBatch,
		timeout:   timeout,
		sender:    sender,
		logger:    logger,
		lastFlush: time.Now(),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	go b.checkLoop()
	return b
}

// Add appends one event to the current batch. Blank events are rejected
// and counted, not batched. Reaching the size trigger flushes immediately.
func (b *Batcher) Add(payload string) {
	if strings.TrimSpace(payload) == "" {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		b.logger.Debug("ignoring blank event")
		return
	}

	b.mu.Lock()
	b.buf = append(b.buf, payload)
	b.received++
	var snapshot []string
	if len(b.buf) >= b.maxBatch {
		snapshot = b.takeLocked()
	}
	b.mu.Unlock()

	b.dispatch(snapshot)
}

// Flush sends whatever is buffered right now. Safe to call at any time.
func (b *Batcher) Flush() {
	b.mu.Lock()
	snapshot := b.takeLocked()
	b.mu.Unlock()

	b.dispatch(snapshot)
}

// Metrics returns a snapshot of the batcher counters.
func (b *Batcher) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		EventsReceived: b.received,
		EventsRejected: b.rejected,
		EventsSent:     b.sent,
		BatchesSent:    b.batches,
		Occupancy:      len(b.buf),
	}
}

// Shutdown stops the flush checker, performs a final flush, and waits up
// to grace for in-flight sends. Returns domain.ErrShutdownTimeout if the
// grace period expires; the batcher is stopped either way. Idempotent.
func (b *Batcher) Shutdown(grace time.Duration) error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.loopDone

		b.Flush()

		done := make(chan struct{})
		go func() {
			b.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grace):
			b.logger.Warn("batcher shutdown grace period expired",
				ports.Duration("grace", grace))
			err = domain.ErrShutdownTimeout
		}
	})
	return err
}

// takeLocked snapshots and clears the buffer, updating send counters and
// the flush clock. Caller holds b.mu. Returns nil when there is nothing
// to send.
func (b *Batcher) takeLocked() []string {
	if len(b.buf) == 0 {
		return nil
	}
	snapshot := b.buf
	b.buf = nil
	b.lastFlush = time.Now()
	b.sent += int64(len(snapshot))
	b.batches++
	return snapshot
}

// dispatch hands a snapshot to the sender on its own goroutine.
func (b *Batcher) dispatch(snapshot []string) {
	if len(snapshot) == 0 {
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.sender.SendBatch(snapshot)
	}()
}

func (b *Batcher) checkLoop() {
	defer close(b.loopDone)

	interval := b.timeout / 2
	if interval > maxCheckInterval {
		interval = maxCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			var snapshot []string
			if len(b.buf) > 0 && time.Since(b.lastFlush) >= b.timeout {
				snapshot = b.takeLocked()
			}
			b.mu.Unlock()
			b.dispatch(snapshot)
		}
	}
}
