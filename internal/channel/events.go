package channel

// Event topics published by the client.
const (
	// TopicStateChanged is published on every connection state transition.
	TopicStateChanged = "channel.state_changed"

	// TopicTriggerReceived is published for each known trigger from the peer.
	TopicTriggerReceived = "channel.trigger_received"

	// TopicQueueDepthChanged is published when the pending queue grows or shrinks.
	TopicQueueDepthChanged = "channel.queue_depth_changed"

	// TopicQueueEvicted is published when a full queue drops its oldest key.
	TopicQueueEvicted = "channel.queue_evicted"
)

// EventSource identifies the client in published events.
const EventSource = "channel"

// StateChangedPayload is the payload for channel.state_changed events.
type StateChangedPayload struct {
	Old          string `json:"old"`
	New          string `json:"new"`
	RetryCount   int    `json:"retry_count"`
	RetryDelayMs int64  `json:"retry_delay_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// TriggerReceivedPayload is the payload for channel.trigger_received events.
type TriggerReceivedPayload struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// QueueDepthPayload is the payload for channel.queue_depth_changed events.
type QueueDepthPayload struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

// QueueEvictedPayload is the payload for channel.queue_evicted events.
type QueueEvictedPayload struct {
	Key string `json:"key"`
}
