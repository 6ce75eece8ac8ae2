// Package eventship provides an embeddable shipper that delivers
// build/pipeline lifecycle events to a remote analytics platform over one
// authenticated, long-lived streaming connection.
//
// Example usage:
//
//	cfg := eventship.DefaultConfig()
//	cfg.PlatformURL = "https://analytics.example"
//	cfg.AuthToken = "your-api-token"
//	s, err := eventship.New(cfg, eventship.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	s.Submit(`{"type":"BUILD_STARTED","pipeline":{"jobName":"prod-deploy"}}`)
//	defer s.Stop()
//
// Producers hand Submit an already-serialized payload; the shipper filters
// it, applies rate limits, and either batches it for the live connection
// or parks it in the bounded offline queue until the connection returns.
package eventship

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgesight/eventship/internal/batch"
	"github.com/forgesight/eventship/internal/cliconfig"
	"github.com/forgesight/eventship/internal/conn"
	"github.com/forgesight/eventship/internal/domain"
	"github.com/forgesight/eventship/internal/filter"
	"github.com/forgesight/eventship/internal/ports"
	"github.com/forgesight/eventship/internal/queue"
	"github.com/forgesight/eventship/internal/ratelimit"
)

// Config holds the shipper configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = cliconfig.Config

// ConnState is the connection lifecycle state.
type ConnState = conn.State

// Re-exported metric snapshot types.
type (
	ReconnectionMetrics = conn.ReconnectionMetrics
	BatchMetrics        = batch.Metrics
	TestResult          = conn.TestResult
)

// DefaultConfig returns a Config with sensible default values.
// At minimum, set PlatformURL and AuthToken before calling New.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// Outcome describes what happened to one submitted event.
type Outcome int

const (
	// OutcomeBatched means the event entered the live batch.
	OutcomeBatched Outcome = iota
	// OutcomeQueued means the event entered the offline queue.
	OutcomeQueued
	// OutcomeFiltered means the filter rules rejected the event.
	OutcomeFiltered
	// OutcomeRateLimited means the submit window limit was hit.
	OutcomeRateLimited
	// OutcomeRejected means the payload was blank.
	OutcomeRejected
	// OutcomeDisabled means the shipper is disabled by configuration.
	OutcomeDisabled
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeBatched:
		return "Batched"
	case OutcomeQueued:
		return "Queued"
	case OutcomeFiltered:
		return "Filtered"
	case OutcomeRateLimited:
		return "RateLimited"
	case OutcomeRejected:
		return "Rejected"
	case OutcomeDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// ShutdownGrace bounds how long Stop waits for in-flight sends.
const ShutdownGrace = 10 * time.Second

// Shipper is the constructed-once event-delivery pipeline. Its lifecycle
// is owned by the host's start/stop hooks; collaborators receive it by
// reference, never through a process-wide global.
type Shipper struct {
	cfg    Config
	opts   options
	logger ports.Logger

	filter  *filter.Filter
	limiter *ratelimit.Limiter
	offline *queue.Queue
	batcher *batch.Batcher
	manager *conn.Manager
	watcher *cliconfig.Watcher

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a Shipper from the given configuration.
// Returns an error wrapping domain.ErrInvalidConfig when validation fails.
func New(cfg Config, opts ...Option) (*Shipper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	wsURL, err := conn.NormalizeURL(cfg.PlatformURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = conn.NewWSDialer(cfg.AuthTimeout)
	}

	offline := queue.New(cfg.QueueMaxSize, logger)
	manager := conn.NewManager(conn.Config{
		URL:              wsURL,
		Token:            cfg.AuthToken,
		InstanceID:       cfg.InstanceID,
		AuthTimeout:      cfg.AuthTimeout,
		SendTimeout:      cfg.SendTimeout,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	}, dialer, offline, logger)
	if o.stateHandler != nil {
		manager.OnStateChange(o.stateHandler)
	}
	if o.sendHandler != nil {
		manager.OnSendResult(o.sendHandler)
	}

	// With batching disabled, a one-event batch keeps delivery async and
	// the metrics coherent without a second send path.
	maxBatch := cfg.BatchMaxEvents
	if !cfg.BatchingEnabled {
		maxBatch = 1
	}
	batcher := batch.New(maxBatch, cfg.BatchTimeout, manager, logger)
	manager.SetDrainSink(batcher.Add)

	s := &Shipper{
		cfg:     cfg,
		opts:    o,
		logger:  logger,
		filter:  filter.New(cfg.Filter, logger),
		limiter: ratelimit.New(cfg.RateWindow, cfg.RateLimits(), 0),
		offline: offline,
		batcher: batcher,
		manager: manager,
	}

	if o.configPath != "" {
		s.watcher = cliconfig.NewWatcher(o.configPath, s.applyLiveConfig, logger)
	}

	return s, nil
}

// Start connects to the platform in the background and begins delivery.
// Returns immediately; the connection manager reconnects on its own.
func (s *Shipper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return domain.ErrClosed
	}
	if s.started {
		return domain.ErrAlreadyRunning
	}
	if !s.cfg.Enabled {
		s.logger.Info("eventship disabled by configuration")
		s.started = true
		return nil
	}

	if err := s.manager.Start(ctx); err != nil {
		return err
	}
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Warn("config watcher unavailable, live reload disabled", ports.Err(err))
			s.watcher = nil
		}
	}

	s.started = true
	return nil
}

// Submit runs one event through the delivery pipeline:
// filter, rate limiter, then batcher (connected) or offline queue.
// It never blocks on the network and never panics into the caller.
func (s *Shipper) Submit(payload string) Outcome {
	if !s.cfg.Enabled {
		return OutcomeDisabled
	}
	if strings.TrimSpace(payload) == "" {
		s.logger.Debug("ignoring blank event submission")
		return OutcomeRejected
	}
	if !s.filter.ShouldSend(payload) {
		return OutcomeFiltered
	}
	if !s.limiter.Allow(ratelimit.OpSubmit, s.cfg.InstanceID) {
		s.logger.Warn("event submission rate limit hit, dropping event")
		return OutcomeRateLimited
	}

	if s.manager.State() == conn.StateConnected {
		s.batcher.Add(payload)
		return OutcomeBatched
	}
	s.offline.Enqueue(payload)
	return OutcomeQueued
}

// TestConnection runs one ephemeral connect+authenticate diagnostic with
// the given settings. It is rate limited per caller and fully independent
// of the live connection.
func (s *Shipper) TestConnection(ctx context.Context, url, token, instanceID string) TestResult {
	if !s.limiter.Allow(ratelimit.OpTestConnection, instanceID) {
		return TestResult{
			Success: false,
			Message: "Too many connection tests; wait for the current window to pass",
		}
	}

	dialer := s.opts.dialer
	if dialer == nil {
		dialer = conn.NewWSDialer(s.cfg.AuthTimeout)
	}
	tester := conn.NewTester(dialer, s.cfg.AuthTimeout, s.logger)
	return tester.TestConnection(ctx, url, token, instanceID)
}

// Stop flushes pending events, closes the connection, and releases all
// background work. Best effort and idempotent; flush failures are logged,
// never returned as panics to the host.
func (s *Shipper) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Stop()
	}

	// Final flush while the connection is still open, then close.
	var firstErr error
	if err := s.batcher.Shutdown(ShutdownGrace); err != nil {
		firstErr = err
	}
	if err := s.manager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ConnectionState returns the current connection state.
func (s *Shipper) ConnectionState() ConnState {
	return s.manager.State()
}

// ReconnectionMetrics returns a snapshot of reconnection bookkeeping.
func (s *Shipper) ReconnectionMetrics() ReconnectionMetrics {
	return s.manager.Metrics()
}

// BatchMetrics returns a snapshot of the batcher counters.
func (s *Shipper) BatchMetrics() BatchMetrics {
	return s.batcher.Metrics()
}

// QueueDepth returns the number of events waiting in the offline queue.
func (s *Shipper) QueueDepth() int {
	return s.offline.Len()
}

// RateLimiterStats returns current window counts keyed by
// "operation/caller".
func (s *Shipper) RateLimiterStats() map[string]int {
	return s.limiter.Stats()
}

// applyLiveConfig swaps the filter rules and rate-limit thresholds from a
// changed config file. Connection settings stay fixed until restart.
func (s *Shipper) applyLiveConfig(fc cliconfig.FileConfig) {
	cfg := s.cfg
	if err := cliconfig.ApplyFileConfig(&cfg, fc, nil); err != nil {
		s.logger.Warn("live config rejected", ports.Err(err))
		return
	}

	s.filter.Update(cfg.Filter)
	s.limiter.SetLimits(cfg.RateLimits(), 0)
	s.logger.Info("applied live filter and rate-limit settings")
}
