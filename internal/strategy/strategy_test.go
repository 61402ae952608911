package strategy

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// fakeEnv is a canned Env for strategy tests.
type fakeEnv struct {
	positions map[string]domain.Position // keyed by marketID|tokenID
	open      map[string][]domain.Order  // keyed by strategy|marketID
	markets   map[string]domain.Market
	netSize   map[string]float64
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		positions: make(map[string]domain.Position),
		open:      make(map[string][]domain.Order),
		markets:   make(map[string]domain.Market),
		netSize:   make(map[string]float64),
	}
}

func (e *fakeEnv) Position(marketID, tokenID string) (domain.Position, bool) {
	pos, ok := e.positions[marketID+"|"+tokenID]
	return pos, ok
}

func (e *fakeEnv) NetSize(marketID string) float64 {
	return e.netSize[marketID]
}

func (e *fakeEnv) OpenOrders(strategy, marketID string) []domain.Order {
	return e.open[strategy+"|"+marketID]
}

func (e *fakeEnv) Market(marketID string) (domain.Market, bool) {
	m, ok := e.markets[marketID]
	return m, ok
}

func (e *fakeEnv) addMarket(m domain.Market) {
	e.markets[m.ID] = m
}

func testMarket(id string) domain.Market {
	return domain.Market{
		ID:       id,
		TokenIDs: [2]string{"tok-yes", "tok-no"},
		Outcomes: [2]string{"Yes", "No"},
		TickSize: 0.01,
		Status:   domain.MarketStatusActive,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bookUpdate(marketID string, bid, ask float64) domain.BookUpdate {
	return domain.BookUpdate{
		MarketID:  marketID,
		AssetID:   "tok-yes",
		BestBid:   bid,
		BestAsk:   ask,
		Timestamp: time.Now(),
	}
}

func TestNewIntentAssignsIdentityAndSequence(t *testing.T) {
	a := NewIntent("s", "m1", "tok", domain.OrderSideBuy, ToTicks(0.40), ToTicks(10), "why")
	b := NewIntent("s", "m1", "tok", domain.OrderSideBuy, ToTicks(0.40), ToTicks(10), "why")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Greater(t, b.Seq, a.Seq)
	assert.Equal(t, domain.IntentPlace, a.Kind)
	assert.InDelta(t, 4.0, a.Notional(), 1e-9)
}

func TestNewCancelCarriesTarget(t *testing.T) {
	c := NewCancel("s", "m1", "order-7", "stale")
	assert.Equal(t, domain.IntentCancel, c.Kind)
	assert.Equal(t, "order-7", c.CancelID)
}

func TestToTicksRounds(t *testing.T) {
	assert.EqualValues(t, 400_000, ToTicks(0.40))
	assert.EqualValues(t, 1_000_000, ToTicks(0.9999996))
}

func TestClampPrice(t *testing.T) {
	assert.InDelta(t, 0.01, ClampPrice(-0.5), 1e-9)
	assert.InDelta(t, 0.50, ClampPrice(0.50), 1e-9)
	assert.InDelta(t, 0.99, ClampPrice(1.2), 1e-9)
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 0.42, RoundToTick(0.418, 0.01), 1e-9)
	assert.InDelta(t, 0.41, RoundToTick(0.414, 0.01), 1e-9)
	assert.InDelta(t, 0.414, RoundToTick(0.414, 0), 1e-9)
}
