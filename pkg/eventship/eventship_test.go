package eventship

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/forgesight/eventship/internal/domain"
	"github.com/forgesight/eventship/internal/filter"
)

// gateDialer refuses dials until opened, then hands out scripted conns.
type gateDialer struct {
	mu    sync.Mutex
	open  bool
	conns []*scriptConn
}

func (d *gateDialer) Open() {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
}

func (d *gateDialer) Dial(ctx context.Context, url string) (StreamConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, errors.New("dial tcp: connection refused")
	}
	c := &scriptConn{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *gateDialer) envelopes(t *testing.T) [][]string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()

	var out [][]string
	for _, c := range d.conns {
		msgs := c.messages()
		if len(msgs) < 2 {
			continue
		}
		for _, raw := range msgs[1:] { // skip auth record
			var env struct {
				Events []string `json:"events"`
			}
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("unmarshal envelope: %v", err)
			}
			out = append(out, env.Events)
		}
	}
	return out
}

type scriptConn struct {
	mu        sync.Mutex
	written   [][]byte
	authSent  bool
	incoming  chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *scriptConn) WriteMessage(ctx context.Context, data []byte) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	first := !c.authSent
	c.authSent = true
	c.mu.Unlock()

	if first {
		c.incoming <- []byte(`{"type":"ack","message":"ok"}`)
	}
	return nil
}

func (c *scriptConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func testShipperConfig() Config {
	cfg := DefaultConfig()
	cfg.PlatformURL = "https://platform.example"
	cfg.AuthToken = "tok"
	cfg.InstanceID = "ci-1"
	cfg.BatchMaxEvents = 10
	cfg.BatchTimeout = 30 * time.Millisecond
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig() // no URL, no token
	_, err := New(cfg)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestSubmit_QueuedWhileDisconnectedThenDeliveredInOrder(t *testing.T) {
	dialer := &gateDialer{}
	s, err := New(testShipperConfig(), WithDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Disconnected: submissions park in the offline queue.
	for _, p := range []string{"ev-1", "ev-2", "ev-3"} {
		if got := s.Submit(p); got != OutcomeQueued {
			t.Fatalf("Submit(%q) = %v, want Queued", p, got)
		}
	}
	if s.QueueDepth() != 3 {
		t.Fatalf("QueueDepth = %d, want 3", s.QueueDepth())
	}

	// Reconnect; the drain feeds the batcher and the timer flushes.
	dialer.Open()
	waitFor(t, "queued events delivered", func() bool { return len(dialer.envelopes(t)) > 0 })

	// A live event submitted after reconnection lands in a later batch.
	waitFor(t, "connected state", func() bool { return s.ConnectionState().String() == "Connected" })
	if got := s.Submit("ev-live"); got != OutcomeBatched {
		t.Fatalf("Submit(live) = %v, want Batched", got)
	}
	waitFor(t, "live event delivered", func() bool {
		all := flatten(dialer.envelopes(t))
		return contains(all, "ev-live")
	})

	all := flatten(dialer.envelopes(t))
	idx := map[string]int{}
	for i, e := range all {
		idx[e] = i
	}
	if !(idx["ev-1"] < idx["ev-2"] && idx["ev-2"] < idx["ev-3"]) {
		t.Errorf("queued events delivered out of order: %v", all)
	}
	if idx["ev-live"] < idx["ev-3"] {
		t.Errorf("live event delivered before drained backlog: %v", all)
	}
}

func TestSubmit_Outcomes(t *testing.T) {
	cfg := testShipperConfig()
	cfg.Filter = filter.Rules{BlockedTypes: []string{"DEBUG"}}
	cfg.SubmitLimit = 2

	s, err := New(cfg, WithDialer(&gateDialer{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Stop()

	if got := s.Submit(""); got != OutcomeRejected {
		t.Errorf("blank Submit = %v, want Rejected", got)
	}
	if got := s.Submit(`{"type":"DEBUG"}`); got != OutcomeFiltered {
		t.Errorf("blocked-type Submit = %v, want Filtered", got)
	}

	// Limit 2: third eligible submission is rate limited.
	s.Submit(`{"type":"INFO","n":1}`)
	s.Submit(`{"type":"INFO","n":2}`)
	if got := s.Submit(`{"type":"INFO","n":3}`); got != OutcomeRateLimited {
		t.Errorf("over-limit Submit = %v, want RateLimited", got)
	}
}

func TestSubmit_DisabledShipper(t *testing.T) {
	cfg := testShipperConfig()
	cfg.Enabled = false

	s, err := New(cfg, WithDialer(&gateDialer{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := s.Submit("anything"); got != OutcomeDisabled {
		t.Errorf("Submit = %v, want Disabled", got)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("Start() on disabled shipper error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStop_FlushesPendingAndIsIdempotent(t *testing.T) {
	dialer := &gateDialer{}
	dialer.Open()
	cfg := testShipperConfig()
	cfg.BatchTimeout = time.Hour // only the final flush can deliver

	s, err := New(cfg, WithDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Start(context.Background())
	waitFor(t, "connected", func() bool { return s.ConnectionState().String() == "Connected" })

	s.Submit("pending-1")
	s.Submit("pending-2")

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	all := flatten(dialer.envelopes(t))
	if !contains(all, "pending-1") || !contains(all, "pending-2") {
		t.Errorf("final flush lost events, delivered: %v", all)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("Start after Stop error = %v, want ErrClosed", err)
	}
}

func TestSendHandlerNotified(t *testing.T) {
	dialer := &gateDialer{}
	dialer.Open()

	var mu sync.Mutex
	var sent int
	var sendErrs int

	s, err := New(testShipperConfig(),
		WithDialer(dialer),
		WithSendHandler(func(events int, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sendErrs++
				return
			}
			sent += events
		}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Stop()
	s.Start(context.Background())
	waitFor(t, "connected", func() bool { return s.ConnectionState().String() == "Connected" })

	s.Submit("h-1")
	s.Submit("h-2")
	waitFor(t, "send handler invoked", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sent == 2
	})
	mu.Lock()
	if sendErrs != 0 {
		t.Errorf("sendErrs = %d, want 0", sendErrs)
	}
	mu.Unlock()
}

func TestBatchMetricsExposed(t *testing.T) {
	dialer := &gateDialer{}
	dialer.Open()
	s, err := New(testShipperConfig(), WithDialer(dialer))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Stop()
	s.Start(context.Background())
	waitFor(t, "connected", func() bool { return s.ConnectionState().String() == "Connected" })

	s.Submit("m-1")
	s.Submit("m-2")
	waitFor(t, "received counted", func() bool { return s.BatchMetrics().EventsReceived == 2 })
}

func flatten(batches [][]string) []string {
	var out []string
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
