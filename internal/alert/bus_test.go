package alert

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingConsumer struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (rc *recordingConsumer) Name() string { return "recording" }

func (rc *recordingConsumer) Consume(_ context.Context, ev Event) error {
	rc.mu.Lock()
	rc.events = append(rc.events, ev)
	rc.mu.Unlock()
	return rc.err
}

func (rc *recordingConsumer) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.events)
}

func TestBusDispatchesToAllConsumers(t *testing.T) {
	b := NewBus(16, testLogger())
	c1 := &recordingConsumer{}
	c2 := &recordingConsumer{}
	b.AddConsumer(c1)
	b.AddConsumer(c2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	b.Publishf(LevelInfo, "test_event", "Title", "message", map[string]string{"k": "v"})

	require.Eventually(t, func() bool {
		return c1.count() == 1 && c2.count() == 1
	}, time.Second, 5*time.Millisecond)

	c1.mu.Lock()
	ev := c1.events[0]
	c1.mu.Unlock()
	assert.Equal(t, "test_event", ev.Type)
	assert.Equal(t, LevelInfo, ev.Level)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestBusConsumerErrorDoesNotStopOthers(t *testing.T) {
	b := NewBus(16, testLogger())
	bad := &recordingConsumer{err: assert.AnError}
	good := &recordingConsumer{}
	b.AddConsumer(bad)
	b.AddConsumer(good)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	b.Publishf(LevelError, "boom", "", "still delivered", nil)

	require.Eventually(t, func() bool {
		return good.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBusDropsWhenFull(t *testing.T) {
	// No Run loop: the buffer fills and overflow is counted, never blocked on.
	b := NewBus(2, testLogger())

	for i := 0; i < 5; i++ {
		b.Publish(Event{Level: LevelInfo, Type: "flood", Message: "x"})
	}

	assert.EqualValues(t, 3, b.Dropped())
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus(1, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Type: "spin"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}
