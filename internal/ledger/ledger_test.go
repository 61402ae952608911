package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

type fakeGate struct {
	notional  map[string]float64
	openCount int
	dailyPnL  float64
}

func (f *fakeGate) SetPositionNotional(marketID string, notional float64, openCount int) {
	if f.notional == nil {
		f.notional = make(map[string]float64)
	}
	f.notional[marketID] = notional
	f.openCount = openCount
}

func (f *fakeGate) UpdateDailyPnL(pnl float64) {
	f.dailyPnL = pnl
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fill(id, orderID string, side domain.OrderSide, price, size float64) domain.Fill {
	return domain.Fill{
		ID:         id,
		OrderID:    orderID,
		MarketID:   "m1",
		TokenID:    "tok1",
		Strategy:   "test",
		Side:       side,
		PriceTicks: int64(price * 1e6),
		SizeUnits:  int64(size * 1e6),
		Timestamp:  time.Now(),
	}
}

func TestApplyFillOpensPosition(t *testing.T) {
	gate := &fakeGate{}
	l := New(nil, nil, gate, testLogger())

	pos, applied, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)
	require.True(t, applied)

	assert.InDelta(t, 10.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.40, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 4.0, gate.notional["m1"], 1e-9)
	assert.Equal(t, 1, gate.openCount)
}

func TestApplyFillDeduplicatesByID(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	f := fill("f1", "o1", domain.OrderSideBuy, 0.40, 10)
	_, applied, err := l.ApplyFill(context.Background(), f)
	require.NoError(t, err)
	require.True(t, applied)

	pos, applied, err := l.ApplyFill(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.InDelta(t, 10.0, pos.Size, 1e-9)
	assert.True(t, l.Applied("f1"))
}

func TestApplyFillRejectsInvalid(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	_, _, err := l.ApplyFill(context.Background(), domain.Fill{OrderID: "o1", SizeUnits: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, _, err = l.ApplyFill(context.Background(), domain.Fill{ID: "f1", OrderID: "o1"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestIncreasingFillMovesAverageEntry(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)
	pos, _, err := l.ApplyFill(context.Background(), fill("f2", "o2", domain.OrderSideBuy, 0.60, 10))
	require.NoError(t, err)

	assert.InDelta(t, 20.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 1e-9)
}

func TestReducingFillRealizesPnL(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)

	pos, _, err := l.ApplyFill(context.Background(), fill("f2", "o2", domain.OrderSideSell, 0.55, 4))
	require.NoError(t, err)

	assert.InDelta(t, 6.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.40, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 0.60, pos.RealizedPnL, 1e-9) // (0.55-0.40)*4
}

func TestFullCloseZeroesEntry(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)

	pos, _, err := l.ApplyFill(context.Background(), fill("f2", "o2", domain.OrderSideSell, 0.50, 10))
	require.NoError(t, err)

	assert.True(t, pos.Flat())
	assert.Zero(t, pos.AvgEntryPrice)
	assert.InDelta(t, 1.0, pos.RealizedPnL, 1e-9)
}

func TestFlipThroughZeroRebasesEntry(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)

	// Sell 15: close 10 at 0.50, open short 5 at 0.50.
	pos, _, err := l.ApplyFill(context.Background(), fill("f2", "o2", domain.OrderSideSell, 0.50, 15))
	require.NoError(t, err)

	assert.InDelta(t, -5.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 1.0, pos.RealizedPnL, 1e-9)
}

func TestMarkPriceUpdatesUnrealized(t *testing.T) {
	gate := &fakeGate{}
	l := New(nil, nil, gate, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)

	l.MarkPrice("tok1", 0.55)

	pos, ok := l.Position("m1", "tok1")
	require.True(t, ok)
	assert.InDelta(t, 1.5, pos.UnrealizedPnL, 1e-9) // (0.55-0.40)*10
	assert.InDelta(t, 1.5, l.DailyPnL(), 1e-9)
	assert.InDelta(t, 1.5, gate.dailyPnL, 1e-9)

	// Notional re-marks at the new price.
	assert.InDelta(t, 5.5, gate.notional["m1"], 1e-9)

	// A mark for an unrelated token changes nothing.
	l.MarkPrice("other", 0.90)
	pos, _ = l.Position("m1", "tok1")
	assert.InDelta(t, 0.55, pos.MarkPrice, 1e-9)
}

func TestDailyPnLCombinesRealizedAndUnrealized(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)
	_, _, err = l.ApplyFill(context.Background(), fill("f2", "o2", domain.OrderSideSell, 0.50, 5))
	require.NoError(t, err)

	l.MarkPrice("tok1", 0.30)

	// Realized +0.50, unrealized (0.30-0.40)*5 = -0.50.
	assert.InDelta(t, 0.0, l.DailyPnL(), 1e-9)
}

func TestResetDailyKeepsOpenPositions(t *testing.T) {
	gate := &fakeGate{}
	l := New(nil, nil, gate, testLogger())

	_, _, err := l.ApplyFill(context.Background(), fill("f1", "o1", domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)
	_, _, err = l.ApplyFill(context.Background(), fill("f2", "o2", domain.OrderSideSell, 0.60, 10))
	require.NoError(t, err)
	require.InDelta(t, 2.0, l.DailyPnL(), 1e-9)

	l.ResetDaily()
	assert.Zero(t, l.DailyPnL())
	assert.Zero(t, gate.dailyPnL)
}

func TestNetSizeSpansBothTokens(t *testing.T) {
	l := New(nil, nil, nil, testLogger())

	f1 := fill("f1", "o1", domain.OrderSideBuy, 0.40, 10)
	_, _, err := l.ApplyFill(context.Background(), f1)
	require.NoError(t, err)

	f2 := fill("f2", "o2", domain.OrderSideBuy, 0.55, 3)
	f2.TokenID = "tok2"
	_, _, err = l.ApplyFill(context.Background(), f2)
	require.NoError(t, err)

	assert.InDelta(t, 13.0, l.NetSize("m1"), 1e-9)
	assert.Len(t, l.Snapshot(), 2)
}
