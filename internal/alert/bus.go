// Package alert provides the fire-and-forget event bus between the trading
// core and its observers (log, Telegram/Discord, Redis stream). Publishing
// never blocks: when consumers fall behind, events are dropped and counted
// rather than stalling the order path.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Level classifies an alert for display and filtering.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a single notification emitted by the core.
type Event struct {
	Level     Level
	Type      string // e.g. "admission_reject", "order_state", "kill_switch"
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}

// Consumer receives dispatched events. Consumer errors are logged and never
// propagate back to publishers.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, ev Event) error
}

// Bus is a bounded, non-blocking alert dispatcher.
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64
	logger  *slog.Logger

	mu        sync.Mutex
	consumers []Consumer
}

// NewBus creates a Bus with the given buffer size. A buffer of zero falls
// back to 256.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		ch:     make(chan Event, buffer),
		logger: logger.With(slog.String("component", "alert_bus")),
	}
}

// AddConsumer registers a consumer. Consumers added after Run has started
// receive only subsequent events.
func (b *Bus) AddConsumer(c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers = append(b.consumers, c)
}

// Publish enqueues an event without blocking. If the buffer is full the event
// is dropped and the drop counter incremented; core throughput is never
// affected by slow consumers.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Publishf is a convenience wrapper building an Event from parts.
func (b *Bus) Publishf(level Level, eventType, title, message string, fields map[string]string) {
	b.Publish(Event{
		Level:   level,
		Type:    eventType,
		Title:   title,
		Message: message,
		Fields:  fields,
	})
}

// Dropped returns the number of events discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run dispatches events to all registered consumers until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("alert bus started")
	defer b.logger.Info("alert bus stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		if err := c.Consume(ctx, ev); err != nil {
			b.logger.Warn("alert consumer failed",
				slog.String("consumer", c.Name()),
				slog.String("event_type", ev.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// LogConsumer mirrors every alert into the structured log.
type LogConsumer struct {
	Logger *slog.Logger
}

// Name returns the consumer identifier.
func (lc LogConsumer) Name() string { return "log" }

// Consume writes the event at a level matching its alert level.
func (lc LogConsumer) Consume(_ context.Context, ev Event) error {
	attrs := []any{
		slog.String("event_type", ev.Type),
		slog.String("title", ev.Title),
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	switch ev.Level {
	case LevelError:
		lc.Logger.Error(ev.Message, attrs...)
	case LevelWarning:
		lc.Logger.Warn(ev.Message, attrs...)
	default:
		lc.Logger.Info(ev.Message, attrs...)
	}
	return nil
}
