package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"

	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
	}{
		{
			name: "empty brokers",
			cfg:  KafkaConfig{ConsumerGroup: "test-group"},
		},
		{
			name: "empty consumer group",
			cfg:  KafkaConfig{Brokers: []string{"localhost:9092"}},
		},
		{
			name: "invalid kafka version",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
				Version:       "invalid",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKafkaBus(tt.cfg, logger.Discard()); err == nil {
				t.Error("NewKafkaBus() should fail")
			}
		})
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{"a:9092, b:9092 ,c:9092", []string{"a:9092", "b:9092", "c:9092"}},
		{"a:9092,,", []string{"a:9092"}},
	}

	for _, tt := range tests {
		got := ParseKafkaBrokers(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("ParseKafkaBrokers(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseKafkaBrokers(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestKafkaBus_ProducerMessage(t *testing.T) {
	b := &KafkaBus{config: KafkaConfig{TopicPrefix: "face."}}

	ev := NewEvent("channel.state_changed", "channel", map[string]string{"new": "connected"})
	ev.CorrelationID = "corr-1"

	msg, err := b.producerMessage("channel.state_changed", ev)
	if err != nil {
		t.Fatalf("producerMessage() error = %v", err)
	}
	if msg.Topic != "face.channel.state_changed" {
		t.Errorf("Topic = %q", msg.Topic)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "corr-1" {
		t.Errorf("Headers = %v", msg.Headers)
	}
}

func TestDecodeKafkaMessage(t *testing.T) {
	data, _ := json.Marshal(Event{ID: "e1", Type: "channel.trigger_received"})
	msg := &sarama.ConsumerMessage{
		Value: data,
		Headers: []*sarama.RecordHeader{
			{Key: []byte("correlation_id"), Value: []byte("corr-123")},
		},
	}

	ev, err := decodeKafkaMessage(msg)
	if err != nil {
		t.Fatalf("decodeKafkaMessage() error = %v", err)
	}
	if ev.ID != "e1" || ev.CorrelationID != "corr-123" {
		t.Errorf("decoded = %+v", ev)
	}

	if _, err := decodeKafkaMessage(&sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestKafkaBus_Interface(t *testing.T) {
	var _ Bus = (*KafkaBus)(nil)
}

func TestKafkaBus_CloseIdempotent(t *testing.T) {
	bus := &KafkaBus{
		handlers: make(map[string][]Handler),
		closed:   true,
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Close() on closed bus returned error: %v", err)
	}
}

func TestKafkaBus_OperationsAfterClose(t *testing.T) {
	bus := &KafkaBus{
		handlers: make(map[string][]Handler),
		closed:   true,
	}

	if err := bus.Publish(context.Background(), "test", Event{ID: "test"}); err == nil {
		t.Error("Publish() after Close() should return error")
	}
	err := bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should return error")
	}
}
