// Package conn owns the single outbound streaming connection to the
// analytics platform: connect, authenticate, drain the offline queue,
// reconnect with exponential backoff and a circuit breaker, and send
// batches. It also provides the stateless connection tester used for
// configuration diagnostics.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgesight/eventship/internal/domain"
	"github.com/forgesight/eventship/internal/ports"
	"github.com/forgesight/eventship/internal/queue"
)

// Default connection configuration values.
const (
	DefaultAuthTimeout      = 15 * time.Second
	DefaultSendTimeout      = 30 * time.Second
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second

	// ShutdownGrace bounds how long Close waits for the reconnect
	// scheduler to stop.
	ShutdownGrace = 5 * time.Second
)

// Config holds the connection parameters. URL must already be in
// streaming form (see NormalizeURL).
type Config struct {
	URL        string
	Token      string
	InstanceID string

	AuthTimeout time.Duration
	SendTimeout time.Duration

	BackoffBase      time.Duration
	BackoffMax       time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

func (c *Config) setDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
}

// StateHandler observes state transitions. Called outside all locks.
type StateHandler func(prev, cur State, reason string)

// SendHandler observes the outcome of each batch send attempt. Called
// outside all locks; err is nil on success.
type SendHandler func(events int, err error)

// Manager is the connection-lifecycle state machine. One instance exists
// per shipper; its lifecycle is owned by the host's start/stop hooks.
type Manager struct {
	cfg     Config
	dialer  ports.StreamDialer
	offline *queue.Queue
	logger  ports.Logger

	onState StateHandler
	onSend  SendHandler
	drain   func(payload string)

	mu          sync.Mutex
	state       State
	conn        ports.StreamConn
	bo          *backoff
	consecutive int
	attempts    int64
	successes   int64
	failures    int64
	lastAttempt time.Time
	lastSuccess time.Time
	authFailure string
	cancel      context.CancelFunc
	closed      bool

	wg sync.WaitGroup
}

// NewManager creates a connection manager in the Disconnected state.
func NewManager(cfg Config, dialer ports.StreamDialer, offline *queue.Queue, logger ports.Logger) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		offline: offline,
		logger:  logger,
		state:   StateDisconnected,
		bo:      newBackoff(cfg.BackoffBase, cfg.BackoffMax),
	}
}

// SetDrainSink sets the destination for queued events drained on
// (re)connect. Must be called before Start.
func (m *Manager) SetDrainSink(sink func(payload string)) {
	m.drain = sink
}

// OnStateChange registers a transition observer. Must be called before Start.
func (m *Manager) OnStateChange(h StateHandler) {
	m.onState = h
}

// OnSendResult registers a send outcome observer. Must be called before Start.
func (m *Manager) OnSendResult(h SendHandler) {
	m.onSend = h
}

// Start launches the reconnect scheduler, which keeps one connection alive
// until the context is canceled or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	if m.cancel != nil {
		m.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastAuthFailure returns the most recent auth rejection message, if any.
// Preserved for diagnostics; the state machine treats rejection like any
// transient failure.
func (m *Manager) LastAuthFailure() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authFailure
}

// Metrics returns a snapshot of the reconnection bookkeeping.
func (m *Manager) Metrics() ReconnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	reconnecting := false
	switch m.state {
	case StateReconnecting, StateCircuitOpen:
		reconnecting = true
	case StateConnecting, StateAuthenticating:
		reconnecting = m.consecutive > 0
	}

	return ReconnectionMetrics{
		TotalAttempts:           m.attempts,
		SuccessfulReconnections: m.successes,
		FailedReconnections:     m.failures,
		CurrentAttempt:          m.consecutive,
		CurrentDelay:            m.bo.Current(),
		LastAttemptAt:           m.lastAttempt,
		LastSuccessAt:           m.lastSuccess,
		Reconnecting:            reconnecting,
	}
}

// SendBatch transmits one batch over the live connection. Without a live
// connection, or when the write fails, the events go (back) into the
// offline queue in order, subject to its eviction policy; a failed write
// also tears the connection down so the scheduler reconnects.
// Implements batch.Sender.
func (m *Manager) SendBatch(events []string) {
	if len(events) == 0 {
		return
	}

	m.mu.Lock()
	c := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || c == nil {
		m.requeue(events)
		return
	}

	data, err := encodeBatch(m.cfg.InstanceID, events)
	if err != nil {
		// Deterministic encode failure; requeueing would loop forever.
		m.logger.Error("failed to encode batch, dropping",
			ports.Int("events", len(events)), ports.Err(err))
		m.notifySend(len(events), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
	err = c.WriteMessage(ctx, data)
	cancel()
	if err != nil {
		m.logger.Warn("batch send failed, requeueing",
			ports.Int("events", len(events)), ports.Err(err))
		m.requeue(events)
		m.failConn(c, fmt.Sprintf("send failed: %v", err))
		m.notifySend(len(events), err)
		return
	}

	m.logger.Debug("batch sent",
		ports.Int("events", len(events)), ports.Int("bytes", len(data)))
	m.notifySend(len(events), nil)
}

// Close tears the manager down: cancels the scheduler, closes the socket,
// and transitions to Closed. Callers flush the batcher first so pending
// events get one final send attempt. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Close()
	}

	var err error
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		m.logger.Warn("connection shutdown grace period expired")
		err = domain.ErrShutdownTimeout
	}

	m.setState(StateClosed, "close requested")
	return err
}

// run is the reconnect scheduler: one attempt per pass, with backoff
// between failures and a cool-down once the failure threshold is hit.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		c, err := m.attempt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			streak := m.recordFailure()
			if streak >= m.cfg.FailureThreshold {
				m.setState(StateCircuitOpen,
					fmt.Sprintf("%d consecutive failures, pausing %s", streak, m.cfg.Cooldown))
				if !m.wait(ctx, m.cfg.Cooldown) {
					return
				}
				m.resetStreak()
				continue
			}
			m.setState(StateReconnecting, err.Error())
			if !m.wait(ctx, m.nextDelay()) {
				return
			}
			continue
		}

		m.onConnected(c)
		m.drainOffline()

		err = m.readLoop(ctx, c)
		if ctx.Err() != nil || m.isClosed() {
			return
		}
		m.clearConn(c)
		// Release the underlying socket; a read error alone does not.
		c.Close()
		m.setState(StateReconnecting, fmt.Sprintf("connection lost: %v", err))
		if !m.wait(ctx, m.nextDelay()) {
			return
		}
	}
}

// attempt performs one connect + authenticate sequence.
func (m *Manager) attempt(ctx context.Context) (ports.StreamConn, error) {
	m.mu.Lock()
	m.attempts++
	m.lastAttempt = time.Now()
	m.mu.Unlock()

	m.setState(StateConnecting, "dialing")

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.AuthTimeout)
	defer cancel()

	c, err := m.dialer.Dial(dialCtx, m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	m.setState(StateAuthenticating, "handshake complete")

	auth, err := encodeAuth(m.cfg.Token, m.cfg.InstanceID)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("encode auth: %w", err)
	}
	if err := c.WriteMessage(dialCtx, auth); err != nil {
		c.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	data, err := c.ReadMessage(dialCtx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("read auth ack: %w", err)
	}
	ack, err := decodeServerMessage(data)
	if err != nil {
		c.Close()
		return nil, err
	}
	if ack.Type != msgTypeAck {
		c.Close()
		m.mu.Lock()
		m.authFailure = ack.Message
		m.mu.Unlock()
		return nil, fmt.Errorf("authentication rejected: %s", ack.Message)
	}

	return c, nil
}

func (m *Manager) onConnected(c ports.StreamConn) {
	m.mu.Lock()
	m.conn = c
	m.consecutive = 0
	m.successes++
	m.lastSuccess = time.Now()
	m.bo.Reset()
	m.mu.Unlock()

	m.setState(StateConnected, "authenticated")
}

// drainOffline forwards queued events oldest-first into the drain sink.
func (m *Manager) drainOffline() {
	if m.drain == nil {
		return
	}
	entries := m.offline.DrainAll()
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		m.drain(e.Payload)
	}
	m.logger.Info("drained offline queue", ports.Int("events", len(entries)))
}

// readLoop consumes server messages until the connection breaks.
func (m *Manager) readLoop(ctx context.Context, c ports.StreamConn) error {
	for {
		data, err := c.ReadMessage(ctx)
		if err != nil {
			return err
		}
		msg, err := decodeServerMessage(data)
		if err != nil {
			m.logger.Warn("undecodable server message", ports.Err(err))
			continue
		}
		if msg.Type == msgTypeError {
			m.logger.Warn("platform reported error", ports.String("message", msg.Message))
		}
	}
}

func (m *Manager) notifySend(events int, err error) {
	if m.onSend != nil {
		m.onSend(events, err)
	}
}

func (m *Manager) requeue(events []string) {
	for _, e := range events {
		m.offline.Enqueue(e)
	}
}

// failConn marks the live connection broken after a send failure. Closing
// it unblocks the read loop, which hands control back to the scheduler.
// The state transition applies only while c is still the current
// connection; a stale failure must not demote a newer healthy one.
func (m *Manager) failConn(c ports.StreamConn, reason string) {
	m.mu.Lock()
	current := m.conn == c
	if current {
		m.conn = nil
	}
	m.mu.Unlock()

	c.Close()
	if current {
		m.setState(StateReconnecting, reason)
	}
}

func (m *Manager) clearConn(c ports.StreamConn) {
	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	m.mu.Unlock()
}

func (m *Manager) recordFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.consecutive++
	return m.consecutive
}

func (m *Manager) resetStreak() {
	m.mu.Lock()
	m.consecutive = 0
	m.bo.Reset()
	m.mu.Unlock()
}

func (m *Manager) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bo.Next()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// wait sleeps for d or until the context is canceled. Returns false on
// cancellation.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (m *Manager) setState(s State, reason string) {
	m.mu.Lock()
	if m.state == StateClosed && s != StateClosed {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	handler := m.onState
	m.mu.Unlock()

	if prev == s {
		return
	}
	m.logger.Info("connection state transition",
		ports.String("from", prev.String()),
		ports.String("to", s.String()),
		ports.String("reason", reason))
	if handler != nil {
		handler(prev, s, reason)
	}
}
