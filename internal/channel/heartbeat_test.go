package channel

import (
	"testing"
	"time"
)

func TestHeartbeatStartStop(t *testing.T) {
	h := NewHeartbeatMonitor(time.Hour, time.Hour)
	if h.Running() || h.C() != nil {
		t.Fatal("new monitor should be stopped")
	}

	now := time.Now()
	h.Start(now)
	if !h.Running() || h.C() == nil {
		t.Fatal("monitor should be running after Start")
	}
	first := h.ticker

	h.Start(now)
	if h.ticker == first {
		t.Error("Start should replace the previous ticker")
	}

	h.Stop()
	h.Stop()
	if h.Running() || h.C() != nil {
		t.Error("monitor should be stopped")
	}
}

func TestHeartbeatExpired(t *testing.T) {
	h := NewHeartbeatMonitor(10*time.Second, 30*time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Start(start)
	defer h.Stop()

	tests := []struct {
		elapsed time.Duration
		want    bool
	}{
		{0, false},
		{10 * time.Second, false},
		{30 * time.Second, false},
		{31 * time.Second, true},
	}
	for _, tt := range tests {
		silent, expired := h.Expired(start.Add(tt.elapsed))
		if expired != tt.want {
			t.Errorf("Expired(+%v) = %v, want %v", tt.elapsed, expired, tt.want)
		}
		if silent != tt.elapsed {
			t.Errorf("silent = %v, want %v", silent, tt.elapsed)
		}
	}

	h.Observe(start.Add(25 * time.Second))
	if _, expired := h.Expired(start.Add(31 * time.Second)); expired {
		t.Error("observed traffic should reset the silence window")
	}
}

func TestHeartbeatObserveNeverMovesBack(t *testing.T) {
	h := NewHeartbeatMonitor(0, 0)
	now := time.Now()
	h.Start(now)
	defer h.Stop()

	h.Observe(now.Add(-time.Minute))
	if !h.LastObserved().Equal(now) {
		t.Errorf("LastObserved() = %v, want %v", h.LastObserved(), now)
	}
	if h.Interval() != DefaultHeartbeatInterval || h.Timeout() != DefaultLivenessTimeout {
		t.Error("zero durations should select defaults")
	}
}
