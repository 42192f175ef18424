package peer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/channel"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

// recordingBus records broadcasts synchronously so their order is kept.
type recordingBus struct {
	mu     sync.Mutex
	events []BroadcastPayload
}

func (b *recordingBus) Publish(_ context.Context, _ string, e bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := e.Payload.(BroadcastPayload); ok {
		b.events = append(b.events, p)
	}
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, bus.Handler) error { return nil }
func (b *recordingBus) Close() error                                         { return nil }

func (b *recordingBus) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Key)
	}
	return out
}

func fastClientConfig(url string) channel.Config {
	cfg := channel.DefaultConfig(url)
	cfg.Backoff = channel.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	cfg.DialTimeout = time.Second
	return cfg
}

func newChannelClient(t *testing.T, url string) *channel.Client {
	t.Helper()
	c := channel.New(fastClientConfig(url), channel.NewWebSocketDialer(time.Second, time.Second),
		channel.WithLogger(logger.Discard()))
	t.Cleanup(c.Shutdown)
	return c
}

func waitState(t *testing.T, c *channel.Client, want channel.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannelClientsThroughPeer(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())

	sender := newChannelClient(t, wsURL(ts))
	receiver := newChannelClient(t, wsURL(ts))

	got := make(chan string, 8)
	receiver.OnTriggerReceived(func(key string) { got <- key })

	sender.Connect()
	receiver.Connect()
	waitState(t, sender, channel.StateConnected)
	waitState(t, receiver, channel.StateConnected)
	waitClients(t, srv.Hub(), 2)

	sender.Dispatch("7")
	select {
	case key := <-got:
		if key != "7" {
			t.Errorf("received %q, want 7", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not get the dispatched key")
	}

	// A one-shot POST reaches connected remotes as well.
	postTrigger(t, ts, `{"key":"2","action":"Happy"}`)
	select {
	case key := <-got:
		if key != "2" {
			t.Errorf("received %q, want 2", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not get the HTTP trigger")
	}
}

func TestQueuedKeysFlushWhenPeerComesUp(t *testing.T) {
	// Reserve a port, then release it so the first dials fail.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := newChannelClient(t, "ws://127.0.0.1:"+strconv.Itoa(port)+"/ws")
	for _, k := range []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"} {
		c.Dispatch(k)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Status().QueueDepth != 10 {
		if time.Now().After(deadline) {
			t.Fatalf("QueueDepth = %d, want 10", c.Status().QueueDepth)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := &recordingBus{}
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	srv := New(cfg, logger.Discard(), rec)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	waitState(t, c, channel.StateConnected)

	deadline = time.Now().Add(3 * time.Second)
	for len(rec.keys()) < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("peer saw %v, want 10 keys", rec.keys())
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := []string{"3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}
	keys := rec.keys()
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("peer saw %v, want %v", keys, want)
		}
	}
	deadline = time.Now().Add(2 * time.Second)
	for c.Status().QueueDepth != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("QueueDepth after flush = %d, want 0", c.Status().QueueDepth)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
