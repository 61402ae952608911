package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// DefaultStream is the stream name alerts are appended to when none is
// configured.
const DefaultStream = "alerts"

// streamEvent is the wire form of an Event on the durable stream.
type streamEvent struct {
	Level     string            `json:"level"`
	Type      string            `json:"type"`
	Title     string            `json:"title,omitempty"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// StreamConsumer appends every alert to a durable stream so external tooling
// and the monitor mode can replay recent history.
type StreamConsumer struct {
	bus    domain.SignalBus
	stream string
}

// NewStreamConsumer creates a StreamConsumer writing to the given stream.
// An empty stream name falls back to DefaultStream.
func NewStreamConsumer(bus domain.SignalBus, stream string) *StreamConsumer {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamConsumer{bus: bus, stream: stream}
}

// Name returns the consumer identifier.
func (sc *StreamConsumer) Name() string { return "stream" }

// Consume serializes the event and appends it to the stream.
func (sc *StreamConsumer) Consume(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(streamEvent{
		Level:     string(ev.Level),
		Type:      ev.Type,
		Title:     ev.Title,
		Message:   ev.Message,
		Fields:    ev.Fields,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("alert: marshal stream event: %w", err)
	}
	if err := sc.bus.StreamAppend(ctx, sc.stream, payload); err != nil {
		return fmt.Errorf("alert: append stream event: %w", err)
	}
	return nil
}

// ReadStream decodes up to count events from the stream after lastID. It is
// used by the monitor mode to tail recent alerts.
func ReadStream(ctx context.Context, bus domain.SignalBus, stream, lastID string, count int) ([]Event, string, error) {
	if stream == "" {
		stream = DefaultStream
	}
	msgs, err := bus.StreamRead(ctx, stream, lastID, count)
	if err != nil {
		return nil, lastID, fmt.Errorf("alert: read stream: %w", err)
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		var se streamEvent
		if err := json.Unmarshal(msg.Payload, &se); err != nil {
			continue
		}
		events = append(events, Event{
			Level:     Level(se.Level),
			Type:      se.Type,
			Title:     se.Title,
			Message:   se.Message,
			Fields:    se.Fields,
			Timestamp: se.Timestamp,
		})
		lastID = msg.ID
	}
	return events, lastID, nil
}
