package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paperOrder(id string, side domain.OrderSide, price, size float64) domain.Order {
	return domain.Order{
		ID:         id,
		MarketID:   "m1",
		TokenID:    "tok1",
		Side:       side,
		Type:       domain.OrderTypeGTC,
		PriceTicks: int64(price * 1e6),
		SizeUnits:  int64(size * 1e6),
		Strategy:   "test",
	}
}

// drain collects buffered events without blocking.
func drain(s *Sim) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSimRejectsInvalidOrder(t *testing.T) {
	s := NewSim(testLogger())

	res, err := s.Submit(context.Background(), paperOrder("o1", domain.OrderSideBuy, 0, 10))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.False(t, res.Accepted)
}

func TestSimMarketableBuyFillsAtAsk(t *testing.T) {
	s := NewSim(testLogger())
	s.UpdateBook("tok1", 0.40, 0.42)

	res, err := s.Submit(context.Background(), paperOrder("o1", domain.OrderSideBuy, 0.45, 10))
	require.NoError(t, err)
	require.True(t, res.Accepted)

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventAck, events[0].Type)
	assert.Equal(t, EventFill, events[1].Type)

	fill := events[1].Fill
	require.NotNil(t, fill)
	assert.InDelta(t, 0.42, fill.Price(), 1e-9) // at the ask, not the limit
	assert.InDelta(t, 10.0, fill.Size(), 1e-9)
	assert.Equal(t, domain.OrderSideBuy, fill.Side)

	// Filled order is no longer resting.
	_, err = s.Status(context.Background(), "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimRestingOrderFillsOnBookCross(t *testing.T) {
	s := NewSim(testLogger())
	s.UpdateBook("tok1", 0.40, 0.45)

	res, err := s.Submit(context.Background(), paperOrder("o1", domain.OrderSideBuy, 0.42, 10))
	require.NoError(t, err)
	require.True(t, res.Accepted)

	events := drain(s)
	require.Len(t, events, 1) // ack only, order rests
	assert.Equal(t, EventAck, events[0].Type)

	st, err := s.Status(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, st)

	// Ask drops through the limit: the resting bid fills.
	s.UpdateBook("tok1", 0.38, 0.41)

	events = drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventFill, events[0].Type)
	assert.InDelta(t, 0.41, events[0].Fill.Price(), 1e-9)
}

func TestSimSellFillsAtBid(t *testing.T) {
	s := NewSim(testLogger())
	s.UpdateBook("tok1", 0.60, 0.62)

	_, err := s.Submit(context.Background(), paperOrder("o1", domain.OrderSideSell, 0.55, 5))
	require.NoError(t, err)

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventFill, events[1].Type)
	assert.InDelta(t, 0.60, events[1].Fill.Price(), 1e-9)
}

func TestSimCancelIsIdempotent(t *testing.T) {
	s := NewSim(testLogger())

	_, err := s.Submit(context.Background(), paperOrder("o1", domain.OrderSideBuy, 0.10, 10))
	require.NoError(t, err)
	drain(s)

	require.NoError(t, s.Cancel(context.Background(), "o1"))
	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventCancelled, events[0].Type)

	// Second cancel and unknown cancel: no events, no error.
	require.NoError(t, s.Cancel(context.Background(), "o1"))
	require.NoError(t, s.Cancel(context.Background(), "ghost"))
	assert.Empty(t, drain(s))
}

func TestSimBookUpdateOnlyMatchesOwnToken(t *testing.T) {
	s := NewSim(testLogger())

	_, err := s.Submit(context.Background(), paperOrder("o1", domain.OrderSideBuy, 0.50, 10))
	require.NoError(t, err)
	drain(s)

	s.UpdateBook("other-token", 0.10, 0.20)
	assert.Empty(t, drain(s))

	st, err := s.Status(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, st)
}
