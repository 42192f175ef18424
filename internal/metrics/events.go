package metrics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/facecontrol/face-remote/internal/bus"
	"github.com/facecontrol/face-remote/internal/client"
)

// EventSubscriber turns one-shot delivery events on the bus into metrics.
// Channel metrics are recorded directly by the channel client.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents registers the delivery handlers.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	if err := es.bus.Subscribe(ctx, client.TopicDelivered, es.handleDelivered); err != nil {
		return err
	}
	return es.bus.Subscribe(ctx, client.TopicFailed, es.handleFailed)
}

func (es *EventSubscriber) handleDelivered(_ context.Context, event bus.Event) error {
	var p client.DeliveredPayload
	if err := decodePayload(event.Payload, &p); err != nil {
		return err
	}
	es.metrics.RecordDelivery(p.LatencyMs, "", true)
	return nil
}

func (es *EventSubscriber) handleFailed(_ context.Context, event bus.Event) error {
	var p client.FailedPayload
	if err := decodePayload(event.Payload, &p); err != nil {
		return err
	}
	es.metrics.RecordDelivery(0, p.Code, false)
	return nil
}

// decodePayload accepts the typed payload published in-process as well as
// the generic map produced by the Kafka and Redis transports.
func decodePayload(payload any, out any) error {
	switch p := payload.(type) {
	case client.DeliveredPayload:
		if o, ok := out.(*client.DeliveredPayload); ok {
			*o = p
			return nil
		}
	case client.FailedPayload:
		if o, ok := out.(*client.FailedPayload); ok {
			*o = p
			return nil
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
