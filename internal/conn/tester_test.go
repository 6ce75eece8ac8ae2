package conn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forgesight/eventship/internal/ports"
)

// errDialer always fails with the given error.
type errDialer struct {
	err error
}

func (d errDialer) Dial(ctx context.Context, url string) (ports.StreamConn, error) {
	return nil, d.err
}

// okDialer returns a fakeConn scripted with the given auth response.
type okDialer struct {
	authResponse string
	dials        int
}

func (d *okDialer) Dial(ctx context.Context, url string) (ports.StreamConn, error) {
	d.dials++
	return newFakeConn(d.authResponse), nil
}

func TestTestConnection_ValidatesLocallyFirst(t *testing.T) {
	dialer := &okDialer{authResponse: `{"type":"ack","message":"ok"}`}
	tester := NewTester(dialer, time.Second, mockLogger{})

	tests := []struct {
		name                 string
		url, token, instance string
		wantMessageSubstring string
	}{
		{"missing url", "", "tok", "id", "URL is required"},
		{"missing token", "https://h", "", "id", "token is required"},
		{"missing instance", "https://h", "tok", "", "Instance ID is required"},
		{"bad scheme", "ftp://h", "tok", "id", "URL is invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tester.TestConnection(context.Background(), tt.url, tt.token, tt.instance)
			if res.Success {
				t.Fatal("expected failure")
			}
			if !strings.Contains(res.Message, tt.wantMessageSubstring) {
				t.Errorf("Message = %q, want substring %q", res.Message, tt.wantMessageSubstring)
			}
		})
	}

	if dialer.dials != 0 {
		t.Errorf("local validation failures made %d network calls, want 0", dialer.dials)
	}
}

func TestTestConnection_Success(t *testing.T) {
	dialer := &okDialer{authResponse: `{"type":"ack","message":"authenticated as ci-7"}`}
	tester := NewTester(dialer, time.Second, mockLogger{})

	res := tester.TestConnection(context.Background(), "https://platform.example", "tok", "ci-7")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Message != "authenticated as ci-7" {
		t.Errorf("Message = %q, want server ack message", res.Message)
	}
	if dialer.dials != 1 {
		t.Errorf("dials = %d, want exactly 1 (no retries)", dialer.dials)
	}
}

func TestTestConnection_AuthRejected(t *testing.T) {
	dialer := &okDialer{authResponse: `{"type":"error","message":"unknown token"}`}
	tester := NewTester(dialer, time.Second, mockLogger{})

	res := tester.TestConnection(context.Background(), "https://platform.example", "tok", "ci-7")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Message, "unknown token") {
		t.Errorf("Message = %q, want rejection reason preserved", res.Message)
	}
}

func TestTestConnection_CategorizesTransportErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantSubstring string
	}{
		{"refused", errors.New("dial tcp 127.0.0.1:443: connection refused"), "refused"},
		{"timeout", context.DeadlineExceeded, "timed out"},
		{"other", errors.New("tls: handshake failure"), "Connection failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tester := NewTester(errDialer{err: tt.err}, time.Second, mockLogger{})
			res := tester.TestConnection(context.Background(), "https://h", "tok", "id")
			if res.Success {
				t.Fatal("expected failure")
			}
			if !strings.Contains(res.Message, tt.wantSubstring) {
				t.Errorf("Message = %q, want substring %q", res.Message, tt.wantSubstring)
			}
			if res.ErrorDetails == "" {
				t.Error("ErrorDetails should carry the underlying error text")
			}
		})
	}
}
