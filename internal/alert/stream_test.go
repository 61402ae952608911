package alert

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// memoryBus is an in-memory SignalBus good enough for stream round trips.
type memoryBus struct {
	streams map[string][]domain.StreamMessage
	nextID  int
}

func newMemoryBus() *memoryBus {
	return &memoryBus{streams: make(map[string][]domain.StreamMessage)}
}

func (m *memoryBus) Publish(context.Context, string, []byte) error { return nil }

func (m *memoryBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (m *memoryBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	m.nextID++
	m.streams[stream] = append(m.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", m.nextID),
		Payload: payload,
	})
	return nil
}

func (m *memoryBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, msg := range m.streams[stream] {
		if msg.ID > lastID && len(out) < count {
			out = append(out, msg)
		}
	}
	return out, nil
}

func TestStreamConsumerRoundTrip(t *testing.T) {
	bus := newMemoryBus()
	sc := NewStreamConsumer(bus, "")

	sent := Event{
		Level:     LevelWarning,
		Type:      "kill_switch",
		Title:     "KILL SWITCH",
		Message:   "daily loss limit breached",
		Fields:    map[string]string{"market": "m1"},
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, sc.Consume(context.Background(), sent))

	events, nextID, err := ReadStream(context.Background(), bus, "", "0", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, "0", nextID)

	got := events[0]
	assert.Equal(t, sent.Level, got.Level)
	assert.Equal(t, sent.Type, got.Type)
	assert.Equal(t, sent.Title, got.Title)
	assert.Equal(t, sent.Message, got.Message)
	assert.Equal(t, sent.Fields, got.Fields)
	assert.True(t, sent.Timestamp.Equal(got.Timestamp))
}

func TestReadStreamResumesFromLastID(t *testing.T) {
	bus := newMemoryBus()
	sc := NewStreamConsumer(bus, "ops")

	for i := 0; i < 3; i++ {
		require.NoError(t, sc.Consume(context.Background(), Event{
			Level:   LevelInfo,
			Type:    "tick",
			Message: fmt.Sprintf("event %d", i),
		}))
	}

	events, nextID, err := ReadStream(context.Background(), bus, "ops", "0", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, _, err = ReadStream(context.Background(), bus, "ops", nextID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "event 2", events[0].Message)
}

func TestReadStreamEmptyKeepsCursor(t *testing.T) {
	bus := newMemoryBus()

	events, nextID, err := ReadStream(context.Background(), bus, "empty", "7-0", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, "7-0", nextID)
}
