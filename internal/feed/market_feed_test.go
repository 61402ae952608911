package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/platform/polymarket"
)

func newTestFeed() (*MarketFeed, *[]domain.FeedEvent) {
	var events []domain.FeedEvent
	sink := func(ctx context.Context, ev domain.FeedEvent) { events = append(events, ev) }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	markets := []domain.Market{{
		ID:       "m1",
		TokenIDs: [2]string{"tok-yes", "tok-no"},
	}}
	f := NewMarketFeed("", markets, sink, nil, nil, nil, logger)
	return f, &events
}

func snapshot(asset string, bid, ask float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		AssetID: asset,
		Bids: []domain.PriceLevel{
			{Price: bid, Size: 100},
			{Price: bid - 0.01, Size: 200},
		},
		Asks: []domain.PriceLevel{
			{Price: ask, Size: 100},
			{Price: ask + 0.01, Size: 200},
		},
		BestBid:   bid,
		BestAsk:   ask,
		Timestamp: time.Now(),
	}
}

func TestSnapshotEmitsBookUpdate(t *testing.T) {
	f, events := newTestFeed()

	f.handleSnapshot(context.Background(), snapshot("tok-yes", 0.40, 0.42))

	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, domain.FeedEventBook, ev.Type)
	assert.Equal(t, "m1", ev.MarketID)
	require.NotNil(t, ev.Book)
	assert.Equal(t, 0.40, ev.Book.BestBid)
	assert.Equal(t, 0.42, ev.Book.BestAsk)
	assert.Equal(t, "tok-yes", ev.Book.AssetID)
}

func TestSnapshotForUnknownAssetIsDropped(t *testing.T) {
	f, events := newTestFeed()

	f.handleSnapshot(context.Background(), snapshot("tok-other", 0.40, 0.42))

	assert.Empty(t, *events)
}

func TestPriceChangeRecomputesBestPrices(t *testing.T) {
	f, events := newTestFeed()
	ctx := context.Background()

	f.handleSnapshot(ctx, snapshot("tok-yes", 0.40, 0.42))

	// A tighter ask improves the best ask.
	f.handlePriceChange(ctx, polymarket.PriceChange{
		AssetID: "tok-yes", Side: "SELL", Price: 0.41, Size: 50,
		Timestamp: time.Now(),
	})
	require.Len(t, *events, 2)
	assert.Equal(t, 0.41, (*events)[1].Book.BestAsk)
	assert.Equal(t, 0.40, (*events)[1].Book.BestBid)

	// Removing the best bid falls back to the next level.
	f.handlePriceChange(ctx, polymarket.PriceChange{
		AssetID: "tok-yes", Side: "BUY", Price: 0.40, Size: 0,
		Timestamp: time.Now(),
	})
	require.Len(t, *events, 3)
	assert.InDelta(t, 0.39, (*events)[2].Book.BestBid, 1e-9)
}

func TestPriceChangeWithoutSnapshotIsDropped(t *testing.T) {
	f, events := newTestFeed()

	f.handlePriceChange(context.Background(), polymarket.PriceChange{
		AssetID: "tok-yes", Side: "SELL", Price: 0.41, Size: 50,
	})

	assert.Empty(t, *events)
}

func TestTradeTickIsTaggedWithMarket(t *testing.T) {
	f, events := newTestFeed()

	f.handleTrade(context.Background(), domain.TradeTick{
		AssetID:   "tok-no",
		Price:     0.58,
		Size:      25,
		Timestamp: time.Now(),
	})

	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, domain.FeedEventTick, ev.Type)
	assert.Equal(t, "m1", ev.MarketID)
	require.NotNil(t, ev.Tick)
	assert.Equal(t, "m1", ev.Tick.MarketID)
}

func TestBBOOnEmptyBook(t *testing.T) {
	st := &bookState{bids: map[float64]float64{}, asks: map[float64]float64{}}
	bid, ask := st.bbo()
	assert.Zero(t, bid)
	assert.Zero(t, ask)
}
