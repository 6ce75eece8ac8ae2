package ports

import "context"

// StreamDialer opens a streaming connection to the analytics platform.
// The production implementation dials a WebSocket; tests substitute fakes.
type StreamDialer interface {
	// Dial opens one connection to the given ws(s) URL.
	// The context bounds the handshake only, not the connection lifetime.
	Dial(ctx context.Context, url string) (StreamConn, error)
}

// StreamConn is a live bidirectional text-message stream.
// Implementations must honor context deadlines on both directions and
// convert expiry into an error; callers treat any error as a transport
// failure on the whole connection.
type StreamConn interface {
	// WriteMessage sends one text message.
	WriteMessage(ctx context.Context, data []byte) error

	// ReadMessage blocks until the next text message arrives.
	ReadMessage(ctx context.Context) ([]byte, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
