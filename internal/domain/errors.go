package domain

import "errors"

// Sentinel errors returned by the public API; check with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("eventship: already running")

	// ErrClosed is returned by operations on a closed connection manager.
	ErrClosed = errors.New("eventship: closed")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("eventship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("eventship: invalid configuration")
)
