package eventship

import (
	"github.com/forgesight/eventship/internal/conn"
	"github.com/forgesight/eventship/internal/ports"
	"github.com/forgesight/eventship/pkg/log"
)

// Logger is the interface for structured logging.
type Logger = log.Logger

// StreamDialer opens streaming connections to the platform.
type StreamDialer = ports.StreamDialer

// StreamConn is one live bidirectional text-message stream.
type StreamConn = ports.StreamConn

// StateHandler observes connection state transitions.
// Called outside all locks; implementations must not block for long.
type StateHandler = conn.StateHandler

// SendHandler observes batch send outcomes. Called outside all locks
// with a nil error on success.
type SendHandler = conn.SendHandler

// Option configures optional behavior of a Shipper.
type Option func(*options)

type options struct {
	logger       ports.Logger
	dialer       ports.StreamDialer
	stateHandler conn.StateHandler
	sendHandler  conn.SendHandler
	configPath   string
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets a custom logger. If not provided, a no-op logger is
// used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDialer substitutes the streaming transport. Used by tests and by
// hosts that tunnel their outbound traffic.
func WithDialer(dialer StreamDialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithStateHandler registers an observer for connection state changes.
func WithStateHandler(h StateHandler) Option {
	return func(o *options) {
		o.stateHandler = h
	}
}

// WithSendHandler registers an observer for batch send outcomes.
func WithSendHandler(h SendHandler) Option {
	return func(o *options) {
		o.sendHandler = h
	}
}

// WithConfigFile enables live reload of the filter and rate-limit
// sections from the given config file while the shipper runs.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}
