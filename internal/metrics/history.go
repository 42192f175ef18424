package metrics

import (
	"context"
	"sync"
	"time"
)

// DataPoint is one bucket of a time series.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// aggregation decides how a bucket's observations become its value.
type aggregation int

const (
	aggMean aggregation = iota
	aggSum
)

// MetricHistory keeps a fixed number of time buckets, optionally persisting
// closed buckets to Redis.
type MetricHistory struct {
	mu          sync.Mutex
	buckets     []DataPoint
	bucketSize  time.Duration
	maxBuckets  int
	agg         aggregation
	accumulator float64
	count       int64
	current     time.Time
	storage     *RedisStorage
	metricName  string
	now         func() time.Time
}

// NewMetricHistory creates a history whose buckets hold the mean of their
// observations.
func NewMetricHistory(bucketSize time.Duration, maxBuckets int) *MetricHistory {
	return newMetricHistory(bucketSize, maxBuckets, aggMean, nil, "")
}

// NewRateHistory creates a history whose buckets hold the sum of their
// observations.
func NewRateHistory(bucketSize time.Duration, maxBuckets int) *MetricHistory {
	return newMetricHistory(bucketSize, maxBuckets, aggSum, nil, "")
}

func newMetricHistory(bucketSize time.Duration, maxBuckets int, agg aggregation, storage *RedisStorage, name string) *MetricHistory {
	h := &MetricHistory{
		buckets:    make([]DataPoint, 0, maxBuckets),
		bucketSize: bucketSize,
		maxBuckets: maxBuckets,
		agg:        agg,
		storage:    storage,
		metricName: name,
		now:        time.Now,
	}
	h.current = h.now().Truncate(bucketSize)

	if storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		since := h.now().Add(-time.Duration(maxBuckets) * bucketSize)
		if points, err := storage.LoadHistory(ctx, name, since); err == nil && len(points) > 0 {
			h.buckets = points
			h.trim()
		}
	}
	return h
}

// Record adds an observation to the current bucket.
func (h *MetricHistory) Record(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.roll()
	h.accumulator += value
	h.count++
}

// RecordCount adds one to the current bucket.
func (h *MetricHistory) RecordCount() {
	h.Record(1)
}

// roll closes the current bucket when the clock has moved past it.
// Must be called with the lock held.
func (h *MetricHistory) roll() {
	bucket := h.now().Truncate(h.bucketSize)
	if !bucket.After(h.current) {
		return
	}
	if h.count > 0 {
		dp := DataPoint{Timestamp: h.current, Value: h.value()}
		h.buckets = append(h.buckets, dp)
		h.trim()
		h.persist(dp)
	}
	h.current = bucket
	h.accumulator = 0
	h.count = 0
}

func (h *MetricHistory) value() float64 {
	if h.agg == aggSum || h.count == 0 {
		return h.accumulator
	}
	return h.accumulator / float64(h.count)
}

func (h *MetricHistory) trim() {
	if len(h.buckets) > h.maxBuckets {
		h.buckets = h.buckets[len(h.buckets)-h.maxBuckets:]
	}
}

func (h *MetricHistory) persist(dp DataPoint) {
	if h.storage == nil || h.metricName == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.storage.SaveDataPoint(ctx, h.metricName, dp)
	}()
}

// GetHistory returns the closed buckets.
func (h *MetricHistory) GetHistory() []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.roll()
	return append([]DataPoint(nil), h.buckets...)
}

// GetHistoryWithCurrent returns the closed buckets plus the open one when it
// has observations.
func (h *MetricHistory) GetHistoryWithCurrent() []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.roll()
	result := append([]DataPoint(nil), h.buckets...)
	if h.count > 0 {
		result = append(result, DataPoint{Timestamp: h.current, Value: h.value()})
	}
	return result
}

// GetHistorySince returns points at or after since.
func (h *MetricHistory) GetHistorySince(since time.Time) []DataPoint {
	all := h.GetHistoryWithCurrent()
	result := make([]DataPoint, 0, len(all))
	for _, dp := range all {
		if !dp.Timestamp.Before(since) {
			result = append(result, dp)
		}
	}
	return result
}

// TimeSeriesData groups the series shown by the console and the peer.
type TimeSeriesData struct {
	TriggerRate     *MetricHistory // triggers written per bucket
	DeliveryLatency *MetricHistory // mean one-shot latency per bucket
}

const (
	historyBucket  = time.Minute
	historyBuckets = 60
)

// NewTimeSeriesData creates in-memory series with one-minute buckets and one
// hour of retention.
func NewTimeSeriesData() *TimeSeriesData {
	return &TimeSeriesData{
		TriggerRate:     NewRateHistory(historyBucket, historyBuckets),
		DeliveryLatency: NewMetricHistory(historyBucket, historyBuckets),
	}
}

// NewTimeSeriesDataWithRedis creates series persisted to storage.
func NewTimeSeriesDataWithRedis(storage *RedisStorage) *TimeSeriesData {
	return &TimeSeriesData{
		TriggerRate:     newMetricHistory(historyBucket, historyBuckets, aggSum, storage, "trigger_rate"),
		DeliveryLatency: newMetricHistory(historyBucket, historyBuckets, aggMean, storage, "delivery_latency"),
	}
}

// RecordTrigger counts one trigger written to the peer.
func (t *TimeSeriesData) RecordTrigger() {
	t.TriggerRate.RecordCount()
}

// RecordDelivery records one one-shot latency sample.
func (t *TimeSeriesData) RecordDelivery(latencyMs float64) {
	t.DeliveryLatency.Record(latencyMs)
}
