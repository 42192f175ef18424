package channel

// DefaultQueueCapacity is the number of triggers kept while disconnected.
const DefaultQueueCapacity = 10

// Queue is a bounded FIFO of pending trigger keys. When full, the oldest
// entry is evicted so the most recent keys win. It is owned by the client
// loop and is not safe for concurrent use.
type Queue struct {
	items    []string
	capacity int
}

// NewQueue creates a queue; capacity < 1 selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue appends key. If that pushes the queue over capacity, the oldest
// key is evicted and returned with ok set.
func (q *Queue) Enqueue(key string) (evicted string, ok bool) {
	q.items = append(q.items, key)
	if len(q.items) <= q.capacity {
		return "", false
	}
	evicted = q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	return evicted, true
}

// DrainAll returns every pending key in order and empties the queue.
func (q *Queue) DrainAll() []string {
	if len(q.items) == 0 {
		return nil
	}
	out := make([]string, len(q.items))
	copy(out, q.items)
	q.items = q.items[:0]
	return out
}

// Restore puts undelivered keys back in front of anything queued since the
// drain. The capacity still applies; the oldest overflow is returned.
func (q *Queue) Restore(keys []string) (evicted []string) {
	if len(keys) == 0 {
		return nil
	}
	merged := make([]string, 0, len(keys)+len(q.items))
	merged = append(merged, keys...)
	merged = append(merged, q.items...)
	if over := len(merged) - q.capacity; over > 0 {
		evicted = append(evicted, merged[:over]...)
		merged = merged[over:]
	}
	q.items = append(q.items[:0], merged...)
	return evicted
}

// Len returns the number of pending keys.
func (q *Queue) Len() int {
	return len(q.items)
}

// Capacity returns the maximum number of retained keys.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Snapshot returns a copy of the pending keys.
func (q *Queue) Snapshot() []string {
	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}
