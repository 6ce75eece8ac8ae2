package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgesight/eventship/internal/ports"
)

// DefaultTestTimeout bounds one diagnostic connect+authenticate.
const DefaultTestTimeout = 10 * time.Second

// TestResult is the outcome of one connection diagnostic.
type TestResult struct {
	// Success reports whether connect and authenticate both succeeded.
	Success bool

	// Message is a human-readable summary: the server's ack message on
	// success, a categorized cause on failure.
	Message string

	// ErrorDetails carries the underlying error text for failures.
	// Never a stack trace.
	ErrorDetails string
}

// Tester performs one ephemeral connect/handshake to validate
// configuration. It is stateless and independent of the live connection:
// it never retries and never touches Manager or queue state.
type Tester struct {
	dialer  ports.StreamDialer
	timeout time.Duration
	logger  ports.Logger
}

// NewTester creates a tester using the given dialer.
func NewTester(dialer ports.StreamDialer, timeout time.Duration, logger ports.Logger) *Tester {
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	return &Tester{dialer: dialer, timeout: timeout, logger: logger}
}

// TestConnection validates the configuration locally, then performs one
// bounded connect+authenticate against the platform.
func (t *Tester) TestConnection(ctx context.Context, rawURL, token, instanceID string) TestResult {
	// Local validation first: no network call for a config mistake.
	switch {
	case strings.TrimSpace(rawURL) == "":
		return failure("Platform URL is required", "")
	case strings.TrimSpace(token) == "":
		return failure("Auth token is required", "")
	case strings.TrimSpace(instanceID) == "":
		return failure("Instance ID is required", "")
	}

	wsURL, err := NormalizeURL(rawURL)
	if err != nil {
		return failure("Platform URL is invalid", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.logger.Debug("testing connection", ports.String("url", wsURL))

	c, err := t.dialer.Dial(ctx, wsURL)
	if err != nil {
		return failure(categorizeDialError(err), err.Error())
	}
	defer c.Close()

	auth, err := encodeAuth(token, instanceID)
	if err != nil {
		return failure("Failed to build auth message", err.Error())
	}
	if err := c.WriteMessage(ctx, auth); err != nil {
		return failure("Connected, but sending the auth message failed", err.Error())
	}

	data, err := c.ReadMessage(ctx)
	if err != nil {
		return failure(categorizeDialError(err), err.Error())
	}
	msg, err := decodeServerMessage(data)
	if err != nil {
		return failure("Server sent an unrecognized response", err.Error())
	}
	if msg.Type != msgTypeAck {
		return failure(fmt.Sprintf("Authentication rejected: %s", msg.Message), "")
	}

	return TestResult{Success: true, Message: msg.Message}
}

func failure(message, details string) TestResult {
	return TestResult{Message: message, ErrorDetails: details}
}

// categorizeDialError maps transport errors onto operator-readable causes.
func categorizeDialError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Connection timed out; check the URL and network path"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Connection timed out; check the URL and network path"
	case errors.Is(err, websocket.ErrBadHandshake):
		return "Server did not accept the streaming handshake; is this the right endpoint?"
	case strings.Contains(err.Error(), "connection refused"):
		return "Connection refused; is the platform reachable on that port?"
	default:
		return "Connection failed"
	}
}
