package metrics

import (
	"runtime"
	"strconv"
	"time"
)

// Metrics holds every metric the remote and the reference peer expose.
// It satisfies channel.MetricsRecorder and bus.MetricsRecorder.
type Metrics struct {
	// Channel
	ChannelState      *GaugeVec
	StateTransitions  *CounterVec
	TriggersSent      *CounterVec
	TriggersReceived  *Counter
	QueueDepth        *Gauge
	QueueEvictions    *Counter
	Reconnects        *Counter
	ReconnectDelay    *Histogram
	HeartbeatTimeouts *Counter

	// One-shot delivery
	Deliveries      *CounterVec
	DeliveryLatency *Histogram

	// Event bus
	BusEventsPublished *CounterVec
	BusEventLatency    *HistogramVec
	BusErrors          *CounterVec
	BusHandlerErrors   *CounterVec

	// Reference peer
	PeerClients     *Gauge
	PeerConnections *Counter
	PeerFanout      *Counter

	// HTTP
	HTTPRequests         *CounterVec
	HTTPDuration         *HistogramVec
	HTTPRequestsInFlight *Gauge

	// Process
	GoroutineCount *Gauge
	MemoryUsage    *Gauge
	Uptime         *Gauge

	// Bucketed history for the console and /metrics/history
	TimeSeries *TimeSeriesData

	storage   *RedisStorage
	startTime time.Time
	now       func() time.Time
}

var channelStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

// New creates an in-memory metrics instance.
func New() *Metrics {
	return newMetrics(nil)
}

// NewWithRedis creates a metrics instance whose history is persisted to
// Redis. It returns an error when Redis is unreachable.
func NewWithRedis(redisURL string) (*Metrics, error) {
	storage, err := NewRedisStorage(redisURL)
	if err != nil {
		return nil, err
	}
	return newMetrics(storage), nil
}

// NewWithConfig creates metrics, using Redis history when redisURL is set and
// reachable and falling back to memory otherwise. The returned error reports
// the fallback; the Metrics value is always usable.
func NewWithConfig(redisURL string) (*Metrics, error) {
	if redisURL == "" {
		return New(), nil
	}
	m, err := NewWithRedis(redisURL)
	if err != nil {
		return New(), err
	}
	return m, nil
}

func newMetrics(storage *RedisStorage) *Metrics {
	var ts *TimeSeriesData
	if storage != nil {
		ts = NewTimeSeriesDataWithRedis(storage)
	} else {
		ts = NewTimeSeriesData()
	}

	m := &Metrics{
		ChannelState: NewGaugeVec(
			"face_channel_state",
			"1 for the current channel state, 0 otherwise",
			[]string{"state"},
		),
		StateTransitions: NewCounterVec(
			"face_channel_state_transitions_total",
			"Channel state transitions by target state",
			[]string{"state"},
		),
		TriggersSent: NewCounterVec(
			"face_triggers_sent_total",
			"Trigger keys written to the channel",
			[]string{"path"},
		),
		TriggersReceived: NewCounter(
			"face_triggers_received_total",
			"Trigger keys received from the peer",
			nil,
		),
		QueueDepth: NewGauge(
			"face_queue_depth",
			"Keys waiting in the outgoing queue",
			nil,
		),
		QueueEvictions: NewCounter(
			"face_queue_evictions_total",
			"Keys dropped from a full outgoing queue",
			nil,
		),
		Reconnects: NewCounter(
			"face_reconnects_scheduled_total",
			"Reconnect attempts scheduled after a failure",
			nil,
		),
		ReconnectDelay: NewHistogram(
			"face_reconnect_delay_seconds",
			"Backoff delay applied before a reconnect",
			[]float64{0, 1, 2, 4, 8, 16, 30},
		),
		HeartbeatTimeouts: NewCounter(
			"face_heartbeat_timeouts_total",
			"Connections abandoned for peer silence",
			nil,
		),

		Deliveries: NewCounterVec(
			"face_oneshot_deliveries_total",
			"One-shot trigger deliveries by outcome",
			[]string{"outcome"},
		),
		DeliveryLatency: NewHistogram(
			"face_oneshot_latency_ms",
			"One-shot delivery latency in milliseconds",
			nil,
		),

		BusEventsPublished: NewCounterVec(
			"face_bus_events_published_total",
			"Events published to the bus",
			[]string{"topic"},
		),
		BusEventLatency: NewHistogramVec(
			"face_bus_event_latency_seconds",
			"Bus publish latency in seconds",
			[]string{"topic"},
			[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		),
		BusErrors: NewCounterVec(
			"face_bus_errors_total",
			"Bus publish failures",
			[]string{"topic"},
		),
		BusHandlerErrors: NewCounterVec(
			"face_bus_handler_errors_total",
			"Subscriber handlers that returned an error",
			[]string{"topic"},
		),

		PeerClients: NewGauge(
			"face_peer_clients",
			"WebSocket clients connected to the peer",
			nil,
		),
		PeerConnections: NewCounter(
			"face_peer_connections_total",
			"WebSocket clients accepted by the peer",
			nil,
		),
		PeerFanout: NewCounter(
			"face_peer_fanout_total",
			"Trigger messages written to peer clients",
			nil,
		),

		HTTPRequests: NewCounterVec(
			"face_http_requests_total",
			"HTTP requests served",
			[]string{"method", "path", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"face_http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]string{"method", "path"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		),
		HTTPRequestsInFlight: NewGauge(
			"face_http_requests_in_flight",
			"HTTP requests currently being served",
			nil,
		),

		GoroutineCount: NewGauge("face_goroutines", "Number of goroutines", nil),
		MemoryUsage:    NewGauge("face_memory_bytes", "Allocated heap bytes", nil),
		Uptime:         NewGauge("face_uptime_seconds", "Seconds since start", nil),

		TimeSeries: ts,
		storage:    storage,
		startTime:  time.Now(),
		now:        time.Now,
	}

	for _, s := range channelStates {
		m.ChannelState.WithLabels(s).Set(0)
	}
	m.ChannelState.WithLabels("disconnected").Set(1)
	return m
}

// RecordStateChange marks state as current.
func (m *Metrics) RecordStateChange(state string) {
	for _, s := range channelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ChannelState.WithLabels(s).Set(v)
	}
	m.StateTransitions.WithLabels(state).Inc()
}

// RecordTriggerSent counts a key written to the peer.
func (m *Metrics) RecordTriggerSent(flushed bool) {
	path := "direct"
	if flushed {
		path = "flushed"
	}
	m.TriggersSent.WithLabels(path).Inc()
	m.TimeSeries.RecordTrigger()
}

// RecordTriggerReceived counts an inbound trigger.
func (m *Metrics) RecordTriggerReceived() {
	m.TriggersReceived.Inc()
}

// RecordTriggerQueued updates the queue depth.
func (m *Metrics) RecordTriggerQueued(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordQueueEviction counts a dropped key.
func (m *Metrics) RecordQueueEviction() {
	m.QueueEvictions.Inc()
}

// RecordReconnect counts a scheduled reconnect and its delay.
func (m *Metrics) RecordReconnect(delay time.Duration) {
	m.Reconnects.Inc()
	m.ReconnectDelay.Observe(delay.Seconds())
}

// RecordHeartbeatTimeout counts a liveness failure.
func (m *Metrics) RecordHeartbeatTimeout() {
	m.HeartbeatTimeouts.Inc()
}

// RecordDelivery records the outcome of a one-shot send. code is the error
// code for failures and ignored on success.
func (m *Metrics) RecordDelivery(latencyMs int64, code string, ok bool) {
	if ok {
		m.Deliveries.WithLabels("delivered").Inc()
		m.DeliveryLatency.Observe(float64(latencyMs))
		m.TimeSeries.RecordDelivery(float64(latencyMs))
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.Deliveries.WithLabels("failed_" + code).Inc()
}

// RecordBusPublish records event bus publish metrics.
func (m *Metrics) RecordBusPublish(topic string, latencyMs int64, err error) {
	m.BusEventsPublished.WithLabels(topic).Inc()
	m.BusEventLatency.WithLabels(topic).Observe(float64(latencyMs) / 1000.0)
	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

// RecordBusHandler counts failed subscriber deliveries.
func (m *Metrics) RecordBusHandler(topic string, err error) {
	if err != nil {
		m.BusHandlerErrors.WithLabels(topic).Inc()
	}
}

// PeerClientConnected counts an accepted WebSocket client.
func (m *Metrics) PeerClientConnected() {
	m.PeerClients.Inc()
	m.PeerConnections.Inc()
}

// PeerClientDisconnected drops a WebSocket client from the gauge.
func (m *Metrics) PeerClientDisconnected() {
	m.PeerClients.Dec()
}

// RecordFanout counts trigger messages written to n clients.
func (m *Metrics) RecordFanout(n int) {
	m.PeerFanout.Add(int64(n))
}

// RecordHTTP records one served request. Called by HTTPMiddleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64) {
	p := normalizePath(path)
	m.HTTPRequests.WithLabels(method, p, statusCode(status)).Inc()
	m.HTTPDuration.WithLabels(method, p).Observe(durationSeconds)
}

// refreshProcess updates the process gauges. Called before each export.
func (m *Metrics) refreshProcess() {
	m.GoroutineCount.Set(float64(runtime.NumGoroutine()))
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.MemoryUsage.Set(float64(ms.Alloc))
	m.Uptime.Set(m.now().Sub(m.startTime).Seconds())
}

// Close releases the Redis history backend, if any.
func (m *Metrics) Close() error {
	if m.storage != nil {
		return m.storage.Close()
	}
	return nil
}

// IsRedisPersisted reports whether history is persisted to Redis.
func (m *Metrics) IsRedisPersisted() bool {
	return m.storage != nil
}

func statusCode(code int) string {
	switch {
	case code == 200, code == 400, code == 404, code == 405, code == 429, code == 500, code == 502, code == 504:
		return strconv.Itoa(code)
	case code >= 100 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return strconv.Itoa(code)
	}
}
