package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/catalog"
	"github.com/facecontrol/face-remote/internal/config"
	apperrors "github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
	"github.com/facecontrol/face-remote/internal/pkg/security"
)

const (
	commandBuffer      = 256
	eventBuffer        = 64
	outboxBuffer       = 256
	publishTimeout     = 5 * time.Second
	defaultDialTimeout = 10 * time.Second
)

// Config holds the client settings.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	Backoff           Backoff
	QueueCapacity     int
	DialTimeout       time.Duration
}

// DefaultConfig returns the stock settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LivenessTimeout:   DefaultLivenessTimeout,
		Backoff:           DefaultBackoff(),
		QueueCapacity:     DefaultQueueCapacity,
		DialTimeout:       defaultDialTimeout,
	}
}

// ConfigFrom maps the application config section onto a client Config.
func ConfigFrom(cfg config.ChannelConfig) Config {
	return Config{
		URL:               cfg.URL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LivenessTimeout:   cfg.LivenessTimeout,
		Backoff: Backoff{
			Base:   cfg.BackoffBase,
			Max:    cfg.BackoffMax,
			Jitter: cfg.BackoffJitter,
		},
		QueueCapacity: cfg.QueueCapacity,
		DialTimeout:   cfg.DialTimeout,
	}
}

// MetricsRecorder receives client measurements.
// This avoids import cycles with the metrics package.
type MetricsRecorder interface {
	RecordStateChange(state string)
	RecordTriggerSent(flushed bool)
	RecordTriggerReceived()
	RecordTriggerQueued(depth int)
	RecordQueueEviction()
	RecordReconnect(delay time.Duration)
	RecordHeartbeatTimeout()
}

type noopMetrics struct{}

func (noopMetrics) RecordStateChange(string)      {}
func (noopMetrics) RecordTriggerSent(bool)        {}
func (noopMetrics) RecordTriggerReceived()        {}
func (noopMetrics) RecordTriggerQueued(int)       {}
func (noopMetrics) RecordQueueEviction()          {}
func (noopMetrics) RecordReconnect(time.Duration) {}
func (noopMetrics) RecordHeartbeatTimeout()       {}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBus publishes lifecycle events to b.
func WithBus(b bus.Bus) Option {
	return func(c *Client) { c.bus = b }
}

// WithMetrics records measurements to m.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithKeySet sets the trigger keys accepted from the peer. A nil set
// accepts every payload that is not a liveness token.
func WithKeySet(keys KeySet) Option {
	return func(c *Client) { c.keys = keys }
}

// WithClock overrides the time source used for liveness and retry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Status is a point-in-time view of the client, safe to read from any goroutine.
type Status struct {
	URL           string
	State         State
	RetryCount    int
	RetryDelay    time.Duration
	NextRetryAt   time.Time
	QueueDepth    int
	QueueCapacity int
	Pending       []string
	LastObserved  time.Time
	LastError     string
}

// RetryIn returns the time left before the scheduled reconnect.
func (s Status) RetryIn(now time.Time) time.Duration {
	if s.State != StateReconnecting {
		return 0
	}
	if d := s.NextRetryAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDispatch
	cmdForceReconnect
)

type command struct {
	kind commandKind
	key  string
}

type eventKind int

const (
	evOpened eventKind = iota
	evOpenFailed
	evMessage
	evClosed
)

// transportEvent carries the generation of the attempt that produced it so
// events from a replaced connection can be discarded.
type transportEvent struct {
	kind    eventKind
	gen     uint64
	conn    Conn
	payload string
	err     error
}

// Client is the resilient channel client. A single loop goroutine owns the
// connection, both timers and the queue; the public methods only post
// commands to it and never block on network I/O.
//
// Listeners run on the loop goroutine. They must not block and must not
// call Shutdown.
type Client struct {
	cfg     Config
	dialer  Dialer
	log     *logger.Logger
	bus     bus.Bus
	metrics MetricsRecorder
	keys    KeySet
	now     func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	cmds     chan command
	events   chan transportEvent
	outbox   chan bus.Event
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	pubDone  chan struct{}

	// postMu orders transport posts against loop exit so every event sent
	// before stopped is set is seen by drainEvents.
	postMu  sync.Mutex
	stopped bool

	// Owned by the loop goroutine.
	state       State
	retryCount  int
	retryDelay  time.Duration
	nextRetryAt time.Time
	lastErr     error
	lastDepth   int
	queue       *Queue
	heartbeat   *HeartbeatMonitor
	conn        Conn
	gen         uint64
	cancelDial  context.CancelFunc
	retryTimer  *time.Timer

	mu     sync.RWMutex
	status Status

	triggerFns listeners[string]
	stateFns   listeners[StateEvent]
	depthFns   listeners[int]
}

// New creates a client in StateDisconnected and starts its loop. No
// connection is attempted until Connect or Dispatch is called.
func New(cfg Config, dialer Dialer, opts ...Option) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		dialer:  dialer,
		log:     logger.Default(),
		metrics: noopMetrics{},
		keys:    catalog.Default,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command, commandBuffer),
		events:  make(chan transportEvent, eventBuffer),
		outbox:  make(chan bus.Event, outboxBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pubDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.WithComponent("channel")
	c.queue = NewQueue(cfg.QueueCapacity)
	c.heartbeat = NewHeartbeatMonitor(cfg.HeartbeatInterval, cfg.LivenessTimeout)
	c.snapshot()

	go c.run()
	if c.bus != nil {
		go c.runPublisher()
	} else {
		close(c.pubDone)
	}
	return c
}

// Connect tears down any current attempt or connection and opens a new one.
func (c *Client) Connect() {
	c.submit(command{kind: cmdConnect})
}

// Dispatch sends key now when connected, otherwise queues it and starts a
// connection if none is in progress. Dispatches after Shutdown are dropped.
func (c *Client) Dispatch(key string) {
	if !c.submit(command{kind: cmdDispatch, key: key}) {
		c.log.Debug("client shut down, trigger dropped", "trigger", key)
	}
}

// ForceReconnect resets the retry count and reconnects without backoff.
func (c *Client) ForceReconnect() {
	c.submit(command{kind: cmdForceReconnect})
}

// Shutdown cancels both timers, closes the connection and stops the loop.
// It returns once everything is released and is safe to call repeatedly.
func (c *Client) Shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
	<-c.done
	<-c.pubDone
}

// Done is closed when the loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Status returns the latest snapshot.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	st.Pending = append([]string(nil), c.status.Pending...)
	return st
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State
}

// OnTriggerReceived registers fn for each known trigger key from the peer,
// in arrival order. The returned func removes the listener.
func (c *Client) OnTriggerReceived(fn func(key string)) func() {
	return c.triggerFns.add(fn)
}

// OnStateChange registers fn for state transitions.
func (c *Client) OnStateChange(fn func(StateEvent)) func() {
	return c.stateFns.add(fn)
}

// OnQueueDepthChange registers fn for pending queue depth changes.
func (c *Client) OnQueueDepthChange(fn func(depth int)) func() {
	return c.depthFns.add(fn)
}

func (c *Client) submit(cmd command) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.cmds <- cmd:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Client) run() {
	defer func() {
		c.cancel()
		close(c.done)
		c.postMu.Lock()
		c.stopped = true
		c.postMu.Unlock()
		c.drainEvents()
	}()

	for {
		select {
		case <-c.quit:
			c.stop()
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-c.retryC():
			c.retryTimer = nil
			c.log.Info("reconnecting", "retry", c.retryCount)
			c.connect()
		case <-c.heartbeat.C():
			c.checkLiveness()
		}
		c.snapshot()
	}
}

func (c *Client) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		c.connect()
	case cmdForceReconnect:
		c.log.Info("manual reconnect", "previous_retries", c.retryCount)
		c.retryCount = 0
		c.retryDelay = 0
		c.nextRetryAt = time.Time{}
		c.connect()
	case cmdDispatch:
		c.dispatch(cmd.key)
	}
}

func (c *Client) handleEvent(ev transportEvent) {
	if ev.gen != c.gen {
		if ev.kind == evOpened && ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case evOpened:
		c.onOpened(ev.conn)
	case evOpenFailed:
		err := ev.err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.TransportOpenError(c.cfg.URL, err)
		}
		c.fail(err)
	case evMessage:
		c.onMessage(ev.payload)
	case evClosed:
		c.fail(ev.err)
	}
}

// connect replaces whatever attempt or connection exists with a new dial.
func (c *Client) connect() {
	c.teardown()
	gen := c.gen

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	c.cancelDial = cancel
	c.setState(StateConnecting, nil)
	c.log.Debug("dialing", "url", c.cfg.URL)

	go func() {
		defer cancel()
		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err == nil && ctx.Err() != nil {
			_ = conn.Close()
			err = ctx.Err()
		}
		if err != nil {
			c.post(transportEvent{kind: evOpenFailed, gen: gen, err: err})
			return
		}
		if !c.post(transportEvent{kind: evOpened, gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
}

func (c *Client) onOpened(conn Conn) {
	c.cancelDial = nil
	c.conn = conn

	retries := c.retryCount
	c.retryCount = 0
	c.retryDelay = 0
	c.nextRetryAt = time.Time{}
	c.lastErr = nil
	c.heartbeat.Start(c.now())

	go c.readLoop(c.gen, conn)

	c.log.Info("channel connected", "url", c.cfg.URL, "after_retries", retries)
	c.setState(StateConnected, nil)
	c.flush()
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			c.post(transportEvent{kind: evClosed, gen: gen, err: err})
			return
		}
		if !c.post(transportEvent{kind: evMessage, gen: gen, payload: payload}) {
			return
		}
	}
}

func (c *Client) post(ev transportEvent) bool {
	c.postMu.Lock()
	defer c.postMu.Unlock()
	if c.stopped {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			if ev.kind == evOpened && ev.conn != nil {
				_ = ev.conn.Close()
			}
		default:
			return
		}
	}
}

func (c *Client) onMessage(payload string) {
	c.heartbeat.Observe(c.now())

	switch payload {
	case PingToken:
		if err := c.write(PongToken); err != nil {
			c.fail(err)
		}
		return
	case PongToken:
		return
	}

	if c.keys != nil && !c.keys.Contains(payload) {
		c.log.Debug("ignoring unknown payload", "payload", security.SanitizeForLog(payload))
		return
	}

	c.metrics.RecordTriggerReceived()
	c.log.Debug("trigger received", "trigger", payload)
	c.publish(TopicTriggerReceived, TriggerReceivedPayload{Key: payload, Name: c.nameOf(payload)})
	c.triggerFns.emit(payload)
}

func (c *Client) nameOf(key string) string {
	if n, ok := c.keys.(interface{ Name(string) string }); ok {
		return n.Name(key)
	}
	return ""
}

func (c *Client) checkLiveness() {
	silent, expired := c.heartbeat.Expired(c.now())
	if expired {
		c.metrics.RecordHeartbeatTimeout()
		c.fail(apperrors.HeartbeatTimeoutError(silent.Round(time.Millisecond).String()))
		return
	}
	if err := c.write(PingToken); err != nil {
		c.fail(err)
	}
}

func (c *Client) dispatch(key string) {
	if c.state == StateConnected {
		err := c.write(key)
		if err == nil {
			c.metrics.RecordTriggerSent(false)
			c.log.Debug("trigger sent", "trigger", key)
			return
		}
		// Keep the key for the next connection.
		c.enqueue(key)
		c.fail(err)
		return
	}

	c.enqueue(key)
	if c.state == StateDisconnected {
		c.connect()
	}
}

func (c *Client) enqueue(key string) {
	if evicted, ok := c.queue.Enqueue(key); ok {
		c.evicted(evicted)
	}
	c.metrics.RecordTriggerQueued(c.queue.Len())
	c.depthChanged()
}

func (c *Client) evicted(key string) {
	c.metrics.RecordQueueEviction()
	c.log.Warn("queue full, dropped oldest trigger", "trigger", key)
	c.publish(TopicQueueEvicted, QueueEvictedPayload{Key: key})
}

// flush sends the queue in order. On the first failed write the unsent
// remainder goes back in front of the queue.
func (c *Client) flush() {
	items := c.queue.DrainAll()
	if len(items) == 0 {
		return
	}

	for i, key := range items {
		if err := c.write(key); err != nil {
			for _, k := range c.queue.Restore(items[i:]) {
				c.evicted(k)
			}
			c.depthChanged()
			c.log.Warn("flush interrupted", "sent", i, "remaining", len(items)-i)
			c.fail(err)
			return
		}
		c.metrics.RecordTriggerSent(true)
	}

	c.depthChanged()
	c.log.Info("flushed queued triggers", "count", len(items))
}

func (c *Client) write(payload string) error {
	if c.conn == nil {
		return apperrors.SendOnClosedError()
	}
	return c.conn.WriteMessage(payload)
}

// fail tears the connection down and schedules the next attempt.
func (c *Client) fail(err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.TransportError("transport failure", err)
	}
	c.lastErr = appErr
	c.teardown()

	delay := c.cfg.Backoff.Delay(c.retryCount)
	c.retryCount++
	c.retryDelay = delay
	c.nextRetryAt = c.now().Add(delay)
	c.retryTimer = time.NewTimer(delay)

	c.metrics.RecordReconnect(delay)
	c.log.WithError(appErr).Warn("channel lost, reconnect scheduled",
		"retry", c.retryCount, "delay", delay)
	c.setState(StateReconnecting, appErr)
}

// teardown cancels the retry timer, the heartbeat, any dial in flight and
// the open connection, and invalidates events from all of them.
func (c *Client) teardown() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.heartbeat.Stop()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++
}

func (c *Client) stop() {
	c.teardown()
	c.retryDelay = 0
	c.nextRetryAt = time.Time{}
	c.setState(StateDisconnected, nil)
	c.snapshot()
	c.log.Info("channel shut down", "pending", c.queue.Len())
}

func (c *Client) retryC() <-chan time.Time {
	if c.retryTimer == nil {
		return nil
	}
	return c.retryTimer.C
}

func (c *Client) setState(s State, err error) {
	old := c.state
	if old == s {
		return
	}
	c.state = s
	c.metrics.RecordStateChange(s.String())

	ev := StateEvent{Old: old, New: s, RetryCount: c.retryCount, Err: err}
	payload := StateChangedPayload{Old: old.String(), New: s.String(), RetryCount: c.retryCount}
	if s == StateReconnecting {
		ev.RetryDelay = c.retryDelay
		payload.RetryDelayMs = c.retryDelay.Milliseconds()
	}
	if err != nil {
		payload.Error = err.Error()
	}

	c.snapshot()
	c.publish(TopicStateChanged, payload)
	c.stateFns.emit(ev)
}

func (c *Client) depthChanged() {
	depth := c.queue.Len()
	if depth == c.lastDepth {
		return
	}
	c.lastDepth = depth
	c.snapshot()
	c.publish(TopicQueueDepthChanged, QueueDepthPayload{Depth: depth, Capacity: c.queue.Capacity()})
	c.depthFns.emit(depth)
}

func (c *Client) snapshot() {
	st := Status{
		URL:           c.cfg.URL,
		State:         c.state,
		RetryCount:    c.retryCount,
		RetryDelay:    c.retryDelay,
		NextRetryAt:   c.nextRetryAt,
		QueueDepth:    c.queue.Len(),
		QueueCapacity: c.queue.Capacity(),
		Pending:       c.queue.Snapshot(),
		LastObserved:  c.heartbeat.LastObserved(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// publish hands an event to the publisher goroutine; a full outbox drops it.
func (c *Client) publish(topic string, payload any) {
	if c.bus == nil {
		return
	}
	ev := bus.NewEvent(topic, EventSource, payload)
	ev.Timestamp = c.now().UnixMilli()
	select {
	case c.outbox <- ev:
	default:
		c.log.Warn("event outbox full, dropping event", "topic", topic)
	}
}

func (c *Client) runPublisher() {
	defer close(c.pubDone)
	for {
		select {
		case ev := <-c.outbox:
			c.deliver(ev)
		case <-c.done:
			for {
				select {
				case ev := <-c.outbox:
					c.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) deliver(ev bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.bus.Publish(ctx, ev.Type, ev); err != nil {
		c.log.WithError(err).Debug("event publish failed", "topic", ev.Type)
	}
}

type listener[T any] struct {
	id int
	fn func(T)
}

type listeners[T any] struct {
	mu     sync.RWMutex
	nextID int
	items  []listener[T]
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.items = append(l.items, listener[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, it := range l.items {
			if it.id == id {
				l.items = append(l.items[:i:i], l.items[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), len(l.items))
	for i, it := range l.items {
		fns[i] = it.fn
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}
