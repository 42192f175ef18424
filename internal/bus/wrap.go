package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

// MetricsRecorder receives bus measurements. It is satisfied by
// *metrics.Metrics without importing it.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latencyMs int64, err error)
	RecordBusHandler(topic string, err error)
}

// InstrumentedBus times every publish and reports handler failures.
type InstrumentedBus struct {
	inner   Bus
	metrics MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder makes it a pass-through.
func NewInstrumentedBus(inner Bus, metrics MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{inner: inner, metrics: metrics}
}

// Publish forwards to the inner bus and records the latency and outcome.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	if b.metrics != nil {
		b.metrics.RecordBusPublish(topic, time.Since(start).Milliseconds(), err)
	}
	return err
}

// Subscribe registers handler, reporting each of its errors.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if b.metrics == nil {
		return b.inner.Subscribe(ctx, topic, handler)
	}
	return b.inner.Subscribe(ctx, topic, func(ctx context.Context, event Event) error {
		err := handler(ctx, event)
		if err != nil {
			b.metrics.RecordBusHandler(topic, err)
		}
		return err
	})
}

func (b *InstrumentedBus) Close() error { return b.inner.Close() }

// Unwrap returns the wrapped bus.
func (b *InstrumentedBus) Unwrap() Bus { return b.inner }

// LoggedBus appends every event the inner bus accepted to an EventLogger, so
// the log can be replayed onto a bus later. Events the inner bus rejected are
// not logged.
type LoggedBus struct {
	inner       Bus
	eventLogger *EventLogger
	log         *logger.Logger
	failed      atomic.Int64
}

// NewLoggedBus wraps inner with eventLogger.
func NewLoggedBus(inner Bus, eventLogger *EventLogger, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Default()
	}
	return &LoggedBus{inner: inner, eventLogger: eventLogger, log: log}
}

// Publish delegates first and records the event once it was accepted.
func (b *LoggedBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.inner.Publish(ctx, topic, event); err != nil {
		return err
	}
	if err := b.eventLogger.Log(topic, event); err != nil {
		if b.failed.Add(1) == 1 {
			b.log.WithError(err).Warn("event log write failed", "topic", topic, "path", b.eventLogger.Path())
		}
	}
	return nil
}

func (b *LoggedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the inner bus, then the event log.
func (b *LoggedBus) Close() error {
	err := b.inner.Close()
	if lerr := b.eventLogger.Close(); lerr != nil {
		b.log.WithError(lerr).Warn("event log close failed")
	}
	return err
}

// EventLogger returns the underlying event log.
func (b *LoggedBus) EventLogger() *EventLogger { return b.eventLogger }

// LogFailures returns how many accepted events could not be written to the log.
func (b *LoggedBus) LogFailures() int64 { return b.failed.Load() }
