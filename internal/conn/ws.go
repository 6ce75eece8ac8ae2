package conn

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgesight/eventship/internal/ports"
)

// WSDialer implements ports.StreamDialer using gorilla/websocket.
type WSDialer struct {
	// HandshakeTimeout bounds the dial+upgrade; the Dial context may
	// tighten it further.
	HandshakeTimeout time.Duration
}

// NewWSDialer creates a dialer with the given handshake timeout.
func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 15 * time.Second
	}
	return &WSDialer{HandshakeTimeout: handshakeTimeout}
}

// Dial opens one WebSocket connection to the given ws(s) URL.
func (d *WSDialer) Dial(ctx context.Context, url string) (ports.StreamConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

// wsConn adapts *websocket.Conn to ports.StreamConn. Context deadlines map
// onto connection deadlines; cancellation without a deadline is handled by
// the owner closing the connection, which unblocks pending reads.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := w.c.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := w.c.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
