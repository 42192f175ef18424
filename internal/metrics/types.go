// Package metrics collects channel, delivery, bus and HTTP metrics for the
// face remote and exposes them in Prometheus text format.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// desc is the name, help text and fixed labels shared by every metric.
type desc struct {
	name   string
	help   string
	labels map[string]string
}

func newDesc(name, help string, labels map[string]string) desc {
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return desc{name: name, help: help, labels: copied}
}

// Name returns the metric name.
func (d desc) Name() string { return d.name }

// Help returns the metric help text.
func (d desc) Help() string { return d.help }

// Labels returns a copy of the metric labels.
func (d desc) Labels() map[string]string {
	result := make(map[string]string, len(d.labels))
	for k, v := range d.labels {
		result[k] = v
	}
	return result
}

// Counter is a monotonically increasing integer.
type Counter struct {
	desc
	value atomic.Int64
}

// NewCounter creates a counter.
func NewCounter(name, help string, labels map[string]string) *Counter {
	return &Counter{desc: newDesc(name, help, labels)}
}

// Inc adds one.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds delta. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if delta > 0 {
		c.value.Add(delta)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Reset sets the counter back to zero.
func (c *Counter) Reset() { c.value.Store(0) }

// Gauge is a float value that can go up and down.
type Gauge struct {
	desc
	bits atomic.Uint64
}

// NewGauge creates a gauge.
func NewGauge(name, help string, labels map[string]string) *Gauge {
	return &Gauge{desc: newDesc(name, help, labels)}
}

// Set stores value.
func (g *Gauge) Set(value float64) { g.bits.Store(math.Float64bits(value)) }

// Add adds delta.
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Inc adds one.
func (g *Gauge) Inc() { g.Add(1) }

// Dec subtracts one.
func (g *Gauge) Dec() { g.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	desc
	mu      sync.Mutex
	buckets []float64
	counts  []int64 // cumulative, last entry is +Inf
	sum     float64
	count   int64
}

// DefaultBuckets are millisecond latency bounds.
var DefaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// NewHistogram creates a histogram. Nil or empty buckets use DefaultBuckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return newHistogram(name, help, nil, buckets)
}

func newHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{
		desc:    newDesc(name, help, labels),
		buckets: sorted,
		counts:  make([]int64, len(sorted)+1),
	}
}

// Observe records one value.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++
	idx := sort.SearchFloat64s(h.buckets, value)
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Buckets returns the bucket upper bounds.
func (h *Histogram) Buckets() []float64 {
	return append([]float64(nil), h.buckets...)
}

// BucketCounts returns cumulative counts per bucket plus the +Inf bucket.
func (h *Histogram) BucketCounts() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.counts...)
}

// vec holds one child metric per distinct label value combination.
type vec[T any] struct {
	desc
	labelNames []string
	build      func(labels map[string]string) T
	mu         sync.RWMutex
	children   map[string]T
}

func (v *vec[T]) init(name, help string, labelNames []string, build func(map[string]string) T) {
	v.desc = newDesc(name, help, nil)
	v.labelNames = labelNames
	v.build = build
	v.children = make(map[string]T)
}

func (v *vec[T]) with(values ...string) T {
	if len(values) != len(v.labelNames) {
		panic(fmt.Sprintf("metric %s: expected %d label values, got %d", v.name, len(v.labelNames), len(values)))
	}
	labels := make(map[string]string, len(values))
	for i, n := range v.labelNames {
		labels[n] = values[i]
	}
	key := labelsToKey(labels)

	v.mu.RLock()
	child, ok := v.children[key]
	v.mu.RUnlock()
	if ok {
		return child
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if child, ok := v.children[key]; ok {
		return child
	}
	child = v.build(labels)
	v.children[key] = child
	return child
}

// all returns children ordered by label key so exposition is stable.
func (v *vec[T]) all() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.children))
	for k := range v.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]T, 0, len(keys))
	for _, k := range keys {
		result = append(result, v.children[k])
	}
	return result
}

// CounterVec is a counter partitioned by labels.
type CounterVec struct{ vec[*Counter] }

// NewCounterVec creates a counter vector.
func NewCounterVec(name, help string, labelNames []string) *CounterVec {
	v := &CounterVec{}
	v.init(name, help, labelNames, func(l map[string]string) *Counter {
		return NewCounter(name, help, l)
	})
	return v
}

// WithLabels returns the counter for the given label values.
func (cv *CounterVec) WithLabels(values ...string) *Counter { return cv.with(values...) }

// GetAll returns every counter in the vector.
func (cv *CounterVec) GetAll() []*Counter { return cv.all() }

// Total sums every child counter.
func (cv *CounterVec) Total() int64 {
	var total int64
	for _, c := range cv.all() {
		total += c.Value()
	}
	return total
}

// GaugeVec is a gauge partitioned by labels.
type GaugeVec struct{ vec[*Gauge] }

// NewGaugeVec creates a gauge vector.
func NewGaugeVec(name, help string, labelNames []string) *GaugeVec {
	v := &GaugeVec{}
	v.init(name, help, labelNames, func(l map[string]string) *Gauge {
		return NewGauge(name, help, l)
	})
	return v
}

// WithLabels returns the gauge for the given label values.
func (gv *GaugeVec) WithLabels(values ...string) *Gauge { return gv.with(values...) }

// GetAll returns every gauge in the vector.
func (gv *GaugeVec) GetAll() []*Gauge { return gv.all() }

// HistogramVec is a histogram partitioned by labels.
type HistogramVec struct{ vec[*Histogram] }

// NewHistogramVec creates a histogram vector.
func NewHistogramVec(name, help string, labelNames []string, buckets []float64) *HistogramVec {
	v := &HistogramVec{}
	v.init(name, help, labelNames, func(l map[string]string) *Histogram {
		return newHistogram(name, help, l, buckets)
	})
	return v
}

// WithLabels returns the histogram for the given label values.
func (hv *HistogramVec) WithLabels(values ...string) *Histogram { return hv.with(values...) }

// GetAll returns every histogram in the vector.
func (hv *HistogramVec) GetAll() []*Histogram { return hv.all() }

func labelsToKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}
