package channel

import "time"

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultLivenessTimeout   = 30 * time.Second
)

// HeartbeatMonitor tracks the last inbound traffic on a connection and
// ticks while the connection is up. On each tick the owner calls Expired;
// the check is only as precise as the tick interval.
type HeartbeatMonitor struct {
	interval     time.Duration
	timeout      time.Duration
	ticker       *time.Ticker
	lastObserved time.Time
}

// NewHeartbeatMonitor creates a stopped monitor.
func NewHeartbeatMonitor(interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &HeartbeatMonitor{interval: interval, timeout: timeout}
}

// Start arms the ticker, cancelling any previous one, and counts now as
// the last liveness signal.
func (h *HeartbeatMonitor) Start(now time.Time) {
	h.Stop()
	h.lastObserved = now
	h.ticker = time.NewTicker(h.interval)
}

// Stop cancels the ticker. Safe on a stopped monitor.
func (h *HeartbeatMonitor) Stop() {
	if h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}
}

// Running reports whether the ticker is armed.
func (h *HeartbeatMonitor) Running() bool {
	return h.ticker != nil
}

// C returns the tick channel, or nil when stopped so a select never fires.
func (h *HeartbeatMonitor) C() <-chan time.Time {
	if h.ticker == nil {
		return nil
	}
	return h.ticker.C
}

// Observe records inbound traffic.
func (h *HeartbeatMonitor) Observe(t time.Time) {
	if t.After(h.lastObserved) {
		h.lastObserved = t
	}
}

// LastObserved returns the time of the last liveness signal.
func (h *HeartbeatMonitor) LastObserved() time.Time {
	return h.lastObserved
}

// Expired reports whether the peer has been silent for longer than the
// liveness timeout, along with the silence duration.
func (h *HeartbeatMonitor) Expired(now time.Time) (time.Duration, bool) {
	silent := now.Sub(h.lastObserved)
	return silent, silent > h.timeout
}

// Interval returns the tick interval.
func (h *HeartbeatMonitor) Interval() time.Duration {
	return h.interval
}

// Timeout returns the liveness timeout.
func (h *HeartbeatMonitor) Timeout() time.Duration {
	return h.timeout
}
