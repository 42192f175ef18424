package bus

import (
	"path/filepath"
	"testing"

	"github.com/facecontrol/face-remote/internal/config"
	"github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Run("memory by default", func(t *testing.T) {
		b, err := New(config.BusConfig{}, logger.Discard())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer b.Close()
		if _, ok := b.(*MemoryBus); !ok {
			t.Errorf("New() = %T, want *MemoryBus", b)
		}
	})

	t.Run("event log wraps transport", func(t *testing.T) {
		b, err := New(config.BusConfig{
			Type:            "memory",
			EventLogEnabled: true,
			EventLogPath:    filepath.Join(t.TempDir(), "events.jsonl"),
		}, logger.Discard())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer b.Close()
		if _, ok := b.(*LoggedBus); !ok {
			t.Errorf("New() = %T, want *LoggedBus", b)
		}
	})

	tests := []struct {
		name string
		cfg  config.BusConfig
	}{
		{"unknown type", config.BusConfig{Type: "nats"}},
		{"kafka without brokers", config.BusConfig{Type: "kafka"}},
		{"redis without url", config.BusConfig{Type: "redis"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, logger.Discard())
			if !errors.IsValidation(err) {
				t.Errorf("New() error = %v, want validation error", err)
			}
		})
	}
}
