package conn

import "time"

// ReconnectionMetrics is a read-only snapshot of the reconnection
// bookkeeping, recomputed on every state transition.
type ReconnectionMetrics struct {
	// TotalAttempts counts every connection attempt since construction.
	TotalAttempts int64

	// SuccessfulReconnections counts attempts that reached Connected.
	SuccessfulReconnections int64

	// FailedReconnections counts attempts that did not.
	FailedReconnections int64

	// CurrentAttempt is the consecutive failure streak; zero while connected.
	CurrentAttempt int

	// CurrentDelay is the backoff delay that will separate the next attempt.
	CurrentDelay time.Duration

	// LastAttemptAt is when the most recent attempt started.
	LastAttemptAt time.Time

	// LastSuccessAt is when the connection last reached Connected.
	LastSuccessAt time.Time

	// Reconnecting reports whether the manager is between a lost
	// connection and the next successful one.
	Reconnecting bool
}
