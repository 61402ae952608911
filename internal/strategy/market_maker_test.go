package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/config"
	"github.com/alanyoungcy/ultratrader/internal/domain"
)

func mmConfig() config.MarketMakerConfig {
	cfg := config.Defaults().MarketMaker
	cfg.Enabled = true
	cfg.QuoteSize = 10
	cfg.SpreadTicks = 2
	cfg.RequoteTicks = 2
	cfg.SkewPerUnit = 0
	return cfg
}

func TestMarketMakerQuotesBothSides(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))
	mm := NewMarketMaker(mmConfig(), env, testLogger())
	require.NoError(t, mm.Init(context.Background()))

	intents, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)
	require.Len(t, intents, 2)

	bid, ask := intents[0], intents[1]
	assert.Equal(t, domain.OrderSideBuy, bid.Side)
	assert.Equal(t, domain.OrderSideSell, ask.Side)
	assert.InDelta(t, 0.48, bid.Price(), 1e-9) // mid 0.50 - 2 ticks
	assert.InDelta(t, 0.52, ask.Price(), 1e-9)
	assert.Equal(t, "tok-yes", bid.TokenID)
	assert.InDelta(t, 10.0, bid.Size(), 1e-9)
}

func TestMarketMakerCancelsBeforeRequoting(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))
	mm := NewMarketMaker(mmConfig(), env, testLogger())

	intents, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)
	require.Len(t, intents, 2)

	env.open["market_maker|m1"] = []domain.Order{
		{ID: "bid-old", MarketID: "m1", Side: domain.OrderSideBuy, Status: domain.OrderStatusOpen},
		{ID: "ask-old", MarketID: "m1", Side: domain.OrderSideSell, Status: domain.OrderStatusOpen},
	}

	// Mid moves 3 ticks, past the 2-tick requote threshold.
	intents, err = mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.51, 0.55))
	require.NoError(t, err)
	require.Len(t, intents, 4)

	assert.Equal(t, domain.IntentCancel, intents[0].Kind)
	assert.Equal(t, domain.IntentCancel, intents[1].Kind)
	assert.Equal(t, domain.IntentPlace, intents[2].Kind)
	assert.Equal(t, domain.IntentPlace, intents[3].Kind)
}

func TestMarketMakerHoldsQuotesOnSmallMove(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))
	mm := NewMarketMaker(mmConfig(), env, testLogger())

	_, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)

	env.open["market_maker|m1"] = []domain.Order{
		{ID: "bid-old", MarketID: "m1", Side: domain.OrderSideBuy, Status: domain.OrderStatusOpen},
	}

	// Mid moves one tick; threshold is two.
	intents, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.49, 0.53))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMarketMakerInventorySkewShiftsQuotes(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))
	env.netSize["m1"] = 10 // long 10 units

	cfg := mmConfig()
	cfg.SkewPerUnit = 0.1 // one tick of shift per 10 units
	mm := NewMarketMaker(cfg, env, testLogger())

	intents, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)
	require.Len(t, intents, 2)

	// Long inventory shifts both quotes down a tick to favor selling.
	assert.InDelta(t, 0.47, intents[0].Price(), 1e-9)
	assert.InDelta(t, 0.51, intents[1].Price(), 1e-9)
}

func TestMarketMakerIgnoresSecondaryToken(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))
	mm := NewMarketMaker(mmConfig(), env, testLogger())

	book := bookUpdate("m1", 0.48, 0.52)
	book.AssetID = "tok-no"
	intents, err := mm.OnBookUpdate(context.Background(), book)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMarketMakerWithdrawsInsideExpiryCutoff(t *testing.T) {
	m := testMarket("m1")
	m.ExpiresAt = time.Now().Add(time.Minute)
	env := newFakeEnv()
	env.addMarket(m)
	env.open["market_maker|m1"] = []domain.Order{
		{ID: "bid-old", MarketID: "m1", Side: domain.OrderSideBuy, Status: domain.OrderStatusOpen},
	}

	cfg := mmConfig()
	cfg.ExpiryCutoff.Duration = 2 * time.Minute
	mm := NewMarketMaker(cfg, env, testLogger())

	intents, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.IntentCancel, intents[0].Kind)

	// Withdrawal happens once, not on every subsequent update.
	intents, err = mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMarketMakerRequotesOnCadence(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))

	cfg := mmConfig()
	cfg.RequoteInterval.Duration = time.Minute
	mm := NewMarketMaker(cfg, env, testLogger())

	_, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)

	// Inside the interval: nothing.
	intents, err := mm.OnTimer(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, intents)

	// Past the interval: fresh quote pair at the last observed mid.
	intents, err = mm.OnTimer(context.Background(), time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, intents, 2)
}

func TestMarketMakerRespectsAllowList(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))

	cfg := mmConfig()
	cfg.Markets = []string{"other-market"}
	mm := NewMarketMaker(cfg, env, testLogger())

	intents, err := mm.OnBookUpdate(context.Background(), bookUpdate("m1", 0.48, 0.52))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMarketMakerInitRejectsBadConfig(t *testing.T) {
	cfg := mmConfig()
	cfg.QuoteSize = 0
	mm := NewMarketMaker(cfg, newFakeEnv(), testLogger())
	assert.Error(t, mm.Init(context.Background()))

	cfg = mmConfig()
	cfg.SpreadTicks = 0
	mm = NewMarketMaker(cfg, newFakeEnv(), testLogger())
	assert.Error(t, mm.Init(context.Background()))
}
