package metrics

import (
	"sort"
	"strconv"
	"strings"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (m *Metrics) PrometheusFormat() string {
	m.refreshProcess()

	var sb strings.Builder

	// Channel
	writeGaugeVec(&sb, m.ChannelState)
	writeCounterVec(&sb, m.StateTransitions)
	writeCounterVec(&sb, m.TriggersSent)
	writeCounter(&sb, m.TriggersReceived)
	writeGauge(&sb, m.QueueDepth)
	writeCounter(&sb, m.QueueEvictions)
	writeCounter(&sb, m.Reconnects)
	writeHistogram(&sb, m.ReconnectDelay, true)
	writeCounter(&sb, m.HeartbeatTimeouts)

	// One-shot
	writeCounterVec(&sb, m.Deliveries)
	writeHistogram(&sb, m.DeliveryLatency, true)

	// Bus
	writeCounterVec(&sb, m.BusEventsPublished)
	writeHistogramVec(&sb, m.BusEventLatency)
	writeCounterVec(&sb, m.BusErrors)
	writeCounterVec(&sb, m.BusHandlerErrors)

	// Peer
	writeGauge(&sb, m.PeerClients)
	writeCounter(&sb, m.PeerConnections)
	writeCounter(&sb, m.PeerFanout)

	// HTTP
	writeCounterVec(&sb, m.HTTPRequests)
	writeHistogramVec(&sb, m.HTTPDuration)
	writeGauge(&sb, m.HTTPRequestsInFlight)

	// Process
	writeGauge(&sb, m.GoroutineCount)
	writeGauge(&sb, m.MemoryUsage)
	writeGauge(&sb, m.Uptime)

	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	sb.WriteString("# HELP " + name + " " + help + "\n")
	sb.WriteString("# TYPE " + name + " " + kind + "\n")
}

func writeSample(sb *strings.Builder, name string, labels map[string]string, value string) {
	sb.WriteString(name)
	writeLabels(sb, labels)
	sb.WriteString(" " + value + "\n")
}

func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.Name(), c.Help(), "counter")
	writeSample(sb, c.Name(), c.Labels(), strconv.FormatInt(c.Value(), 10))
}

func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.Name(), g.Help(), "gauge")
	writeSample(sb, g.Name(), g.Labels(), formatFloat(g.Value()))
}

func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.GetAll()
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, cv.Name(), cv.Help(), "counter")
	for _, c := range counters {
		writeSample(sb, c.Name(), c.Labels(), strconv.FormatInt(c.Value(), 10))
	}
}

func writeGaugeVec(sb *strings.Builder, gv *GaugeVec) {
	gauges := gv.GetAll()
	if len(gauges) == 0 {
		return
	}
	writeHeader(sb, gv.Name(), gv.Help(), "gauge")
	for _, g := range gauges {
		writeSample(sb, g.Name(), g.Labels(), formatFloat(g.Value()))
	}
}

func writeHistogramVec(sb *strings.Builder, hv *HistogramVec) {
	histograms := hv.GetAll()
	if len(histograms) == 0 {
		return
	}
	writeHeader(sb, hv.Name(), hv.Help(), "histogram")
	for _, h := range histograms {
		writeHistogram(sb, h, false)
	}
}

// writeHistogram writes bucket, sum and count series. The header is omitted
// when the histogram is a child of a vector.
func writeHistogram(sb *strings.Builder, h *Histogram, header bool) {
	if header {
		writeHeader(sb, h.Name(), h.Help(), "histogram")
	}
	labels := h.Labels()
	counts := h.BucketCounts()
	for i, bound := range h.Buckets() {
		writeSample(sb, h.Name()+"_bucket", withLabel(labels, "le", formatFloat(bound)), strconv.FormatInt(counts[i], 10))
	}
	writeSample(sb, h.Name()+"_bucket", withLabel(labels, "le", "+Inf"), strconv.FormatInt(counts[len(counts)-1], 10))
	writeSample(sb, h.Name()+"_sum", labels, formatFloat(h.Sum()))
	writeSample(sb, h.Name()+"_count", labels, strconv.FormatInt(h.Count(), 10))
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

// writeLabels writes {key="value",...} with keys sorted.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k + "=\"" + escapeString(labels[k]) + "\"")
	}
	sb.WriteByte('}')
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
