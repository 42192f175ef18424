// Package peer implements the reference display peer: a WebSocket hub that
// answers liveness probes and fans trigger keys out to every connected remote.
package peer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/channel"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
	"github.com/facecontrol/face-remote/internal/pkg/security"
)

const (
	// TopicBroadcast is published for every fanned-out trigger.
	TopicBroadcast = "peer.trigger_broadcast"

	eventSource    = "peer"
	sendBuffer     = 32
	maxMessageSize = 256
	publishTimeout = 5 * time.Second
)

// Trigger sources.
const (
	SourceWebSocket = "ws"
	SourceHTTP      = "http"
)

// BroadcastPayload is the payload for peer.trigger_broadcast events.
type BroadcastPayload struct {
	Key     string `json:"key"`
	Name    string `json:"name,omitempty"`
	Source  string `json:"source"`
	From    string `json:"from,omitempty"`
	Clients int    `json:"clients"`
}

// Recorder receives hub metrics.
type Recorder interface {
	PeerClientConnected()
	PeerClientDisconnected()
	RecordFanout(n int)
}

type noopRecorder struct{}

func (noopRecorder) PeerClientConnected()    {}
func (noopRecorder) PeerClientDisconnected() {}
func (noopRecorder) RecordFanout(int)        {}

// HubConfig configures the hub.
type HubConfig struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// IdleTimeout drops clients that send nothing for this long. Remotes
	// probe every heartbeat interval, so this should exceed it.
	IdleTimeout time.Duration
}

// DefaultHubConfig returns the hub defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Hub tracks connected remotes and relays triggers between them.
type Hub struct {
	cfg      HubConfig
	log      *logger.Logger
	metrics  Recorder
	bus      bus.Bus
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*conn
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub. metrics and eventBus may be nil.
func NewHub(cfg HubConfig, log *logger.Logger, metrics Recorder, eventBus bus.Bus) *Hub {
	if log == nil {
		log = logger.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	def := DefaultHubConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Hub{
		cfg:     cfg,
		log:     log.WithComponent("hub"),
		metrics: metrics,
		bus:     eventBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*conn),
	}
}

// conn is one connected remote. The write pump is its only writer.
type conn struct {
	id        string
	ws        *websocket.Conn
	send      chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) enqueue(msg string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// ServeWS upgrades the request and serves the remote until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "peer shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed", "headers", security.MaskSensitiveHeaders(r.Header))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan string, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "peer shutting down"),
			time.Now().Add(h.cfg.WriteTimeout))
		c.close()
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(c)
	}()
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.PeerClientConnected()
	h.log.Info("remote connected", "client_id", c.id, "clients", n)
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.metrics.PeerClientDisconnected()
		h.log.Info("remote disconnected", "client_id", c.id, "clients", n)
	}
}

func (h *Hub) readPump(c *conn) {
	defer h.unregister(c)

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Debug("read ended", "client_id", c.id)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		switch msg := string(data); msg {
		case "":
		case channel.PingToken:
			c.enqueue(channel.PongToken)
		case channel.PongToken:
		default:
			if err := security.ValidateKey(msg); err != nil {
				h.log.Debug("dropping malformed key", "client_id", c.id, "key", security.SanitizeForLog(msg))
				continue
			}
			h.broadcast(msg, c.id, SourceWebSocket)
		}
	}
}

func (h *Hub) writePump(c *conn) {
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				h.log.WithError(err).Debug("write failed", "client_id", c.id)
				return
			}
		}
	}
}

// Broadcast sends key to every connected remote and returns how many
// accepted it.
func (h *Hub) Broadcast(key string) int {
	return h.broadcast(key, "", SourceHTTP)
}

// broadcast relays key to every remote except the sender. Remotes whose send
// buffer is full miss the key.
func (h *Hub) broadcast(key, from, source string) int {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.clients))
	for id, c := range h.clients {
		if id != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.enqueue(key) {
			n++
		} else {
			h.log.Warn("remote send buffer full, dropping trigger", "client_id", c.id, "trigger", key)
		}
	}

	h.metrics.RecordFanout(n)
	h.log.WithTrigger(key).Debug("trigger broadcast", "source", source, "clients", n)
	h.publish(BroadcastPayload{Key: key, Name: catalog.Default.Name(key), Source: source, From: from, Clients: n})
	return n
}

func (h *Hub) publish(p BroadcastPayload) {
	if h.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, TopicBroadcast, bus.NewEvent(TopicBroadcast, eventSource, p)); err != nil {
		h.log.WithError(err).Debug("event publish failed", "topic", TopicBroadcast)
	}
}

// Clients returns the number of connected remotes.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close sends a going-away frame to every remote, disconnects them and waits
// for their pumps to finish or ctx to expire.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	for _, c := range clients {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "peer shutting down"), deadline)
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
