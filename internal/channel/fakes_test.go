package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errRemoteClosed = errors.New("remote closed")

type fakeConn struct {
	mu       sync.Mutex
	written  []string
	failAt   int // write index that fails; -1 never
	readErr  error
	closed   bool
	inbound  chan string
	shutdown chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		failAt:   -1,
		inbound:  make(chan string, 16),
		shutdown: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (string, error) {
	select {
	case <-f.shutdown:
	default:
		select {
		case msg := <-f.inbound:
			return msg, nil
		case <-f.shutdown:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	return "", errRemoteClosed
}

func (f *fakeConn) WriteMessage(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed conn")
	}
	if f.failAt >= 0 && len(f.written) >= f.failAt {
		return errors.New("write failed")
	}
	f.written = append(f.written, payload)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.shutdown) })
	return nil
}

// send delivers an inbound message from the peer.
func (f *fakeConn) send(msg string) {
	f.inbound <- msg
}

// drop simulates the peer closing the connection.
func (f *fakeConn) drop(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	f.once.Do(func() { close(f.shutdown) })
}

func (f *fakeConn) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// Triggers returns written payloads without liveness tokens.
func (f *fakeConn) Triggers() []string {
	var out []string
	for _, p := range f.Written() {
		if p != PingToken && p != PongToken {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	dials     int
	fail      int // upcoming dials that fail
	gate      chan struct{}
	configure func(n int, c *fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	if d.configure != nil {
		d.configure(len(d.conns), conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setGate(gate chan struct{}) {
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
}

func (d *fakeDialer) setFail(n int) {
	d.mu.Lock()
	d.fail = n
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Open counts connections the client has not closed.
func (d *fakeDialer) Open() int {
	d.mu.Lock()
	conns := append([]*fakeConn(nil), d.conns...)
	d.mu.Unlock()

	n := 0
	for _, c := range conns {
		if !c.Closed() {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig keeps heartbeats out of the way and retries fast.
func testConfig() Config {
	return Config{
		URL:               "ws://peer.test/ws",
		HeartbeatInterval: time.Hour,
		LivenessTimeout:   time.Hour,
		Backoff:           Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		QueueCapacity:     DefaultQueueCapacity,
		DialTimeout:       time.Second,
	}
}

func newTestClient(t *testing.T, cfg Config, d Dialer, opts ...Option) *Client {
	t.Helper()
	c := New(cfg, d, opts...)
	t.Cleanup(c.Shutdown)
	return c
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

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type stateRecorder struct {
	mu     sync.Mutex
	events []StateEvent
}

func (r *stateRecorder) record(ev StateEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *stateRecorder) Events() []StateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateEvent(nil), r.events...)
}

func (r *stateRecorder) Entered(s State) []StateEvent {
	var out []StateEvent
	for _, ev := range r.Events() {
		if ev.New == s {
			out = append(out, ev)
		}
	}
	return out
}
