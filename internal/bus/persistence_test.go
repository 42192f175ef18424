package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

func TestEventLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	t.Run("Disabled", func(t *testing.T) {
		l, err := NewEventLogger(logPath, false)
		if err != nil {
			t.Fatalf("NewEventLogger failed: %v", err)
		}
		defer l.Close()

		if l.IsEnabled() {
			t.Error("Expected logger to be disabled")
		}
		if err := l.Log("topic", Event{ID: "x"}); err != nil {
			t.Errorf("Log on disabled logger = %v", err)
		}
		if _, err := l.GetEvents(time.Time{}, 0); err == nil {
			t.Error("GetEvents on disabled logger should fail")
		}
		if _, err := os.Stat(logPath); !os.IsNotExist(err) {
			t.Error("disabled logger should not create the file")
		}
	})

	t.Run("LogAndRead", func(t *testing.T) {
		l, err := NewEventLogger(logPath, true)
		if err != nil {
			t.Fatalf("NewEventLogger failed: %v", err)
		}
		defer l.Close()

		for _, id := range []string{"e1", "e2", "e3"} {
			if err := l.Log("channel.state_changed", Event{ID: id}); err != nil {
				t.Fatalf("Log failed: %v", err)
			}
		}

		events, err := l.GetEvents(time.Now().Add(-time.Minute), 0)
		if err != nil {
			t.Fatalf("GetEvents failed: %v", err)
		}
		if len(events) != 3 || events[0].Event.ID != "e1" || events[2].Topic != "channel.state_changed" {
			t.Fatalf("events = %+v", events)
		}

		latest, _ := l.GetEvents(time.Time{}, 2)
		if len(latest) != 2 || latest[0].Event.ID != "e2" {
			t.Errorf("limit should keep the most recent events, got %+v", latest)
		}

		future, _ := l.GetEvents(time.Now().Add(time.Minute), 0)
		if len(future) != 0 {
			t.Errorf("expected no events after the future cutoff, got %d", len(future))
		}
	})

	t.Run("SkipsMalformedLines", func(t *testing.T) {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = f.WriteString("{not json\n")
		_ = f.Close()

		events, err := OpenEventLog(logPath).GetEvents(time.Time{}, 0)
		if err != nil {
			t.Fatalf("GetEvents failed: %v", err)
		}
		if len(events) != 3 {
			t.Errorf("len(events) = %d, want 3", len(events))
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		events, err := OpenEventLog(filepath.Join(t.TempDir(), "none.jsonl")).GetEvents(time.Time{}, 0)
		if err != nil || len(events) != 0 {
			t.Errorf("GetEvents = %v, %v; want empty, nil", events, err)
		}
	})

	t.Run("ReadOnlyCannotLog", func(t *testing.T) {
		if err := OpenEventLog(logPath).Log("t", Event{}); err == nil {
			t.Error("Log on a read-only log should fail")
		}
	})

	t.Run("Replay", func(t *testing.T) {
		target := NewMemoryBus()
		defer target.Close()

		var mu sync.Mutex
		var ids []string
		var wg sync.WaitGroup
		wg.Add(3)
		_ = target.Subscribe(context.Background(), "channel.state_changed", func(ctx context.Context, ev Event) error {
			mu.Lock()
			ids = append(ids, ev.ID)
			mu.Unlock()
			wg.Done()
			return nil
		})

		n, err := OpenEventLog(logPath).Replay(context.Background(), target, time.Time{})
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if n != 3 {
			t.Errorf("replayed %d events, want 3", n)
		}
		waitGroupTimeout(t, &wg, time.Second)
	})
}

func TestLoggedBus(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logged_bus.jsonl")

	inner := NewMemoryBus()
	el, err := NewEventLogger(logPath, true)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	loggedBus := NewLoggedBus(inner, el, logger.Discard())

	delivered := make(chan Event, 1)
	_ = loggedBus.Subscribe(context.Background(), "channel.queue_evicted", func(ctx context.Context, ev Event) error {
		delivered <- ev
		return nil
	})

	event := NewEvent("channel.queue_evicted", "channel", map[string]string{"key": "1"})
	if err := loggedBus.Publish(context.Background(), "channel.queue_evicted", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case ev := <-delivered:
		if ev.ID != event.ID {
			t.Errorf("delivered ID = %q", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("inner bus did not receive the event")
	}

	events, err := loggedBus.EventLogger().GetEvents(time.Now().Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Event.ID != event.ID {
		t.Errorf("logged = %+v", events)
	}

	if err := loggedBus.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := inner.Publish(context.Background(), "x", Event{}); err == nil {
		t.Error("inner bus should be closed")
	}
}

func TestLoggedBus_SkipsRejectedEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rejected.jsonl")

	inner := NewMemoryBus()
	el, err := NewEventLogger(logPath, true)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	loggedBus := NewLoggedBus(inner, el, logger.Discard())
	defer loggedBus.Close()

	_ = inner.Close()
	if err := loggedBus.Publish(context.Background(), "channel.state_changed", NewEvent("channel.state_changed", "channel", nil)); err == nil {
		t.Fatal("Publish on a closed inner bus should fail")
	}

	events, err := OpenEventLog(logPath).GetEvents(time.Time{}, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("logged %d rejected events, want 0", len(events))
	}
	if loggedBus.LogFailures() != 0 {
		t.Errorf("LogFailures() = %d, want 0", loggedBus.LogFailures())
	}
}
