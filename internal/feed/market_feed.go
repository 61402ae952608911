// Package feed turns raw exchange streams into the engine's normalized event
// stream: book updates, trade ticks, and tracked-wallet signals.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/alert"
	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/platform/polymarket"
)

// Sink receives every normalized feed event, in arrival order.
type Sink func(ctx context.Context, ev domain.FeedEvent)

// MarketFeed subscribes to the CLOB WebSocket for the configured markets,
// maintains per-token book state so incremental updates produce correct
// best bid/ask, and emits normalized events. Snapshots are mirrored into the
// orderbook cache so a restart resumes from the last known book.
type MarketFeed struct {
	wsURL  string
	sink   Sink
	logger *slog.Logger
	alerts *alert.Bus

	prices domain.PriceCache     // optional
	books  domain.OrderbookCache // optional

	assetMarket map[string]string // token ID -> market ID

	mu    sync.Mutex
	state map[string]*bookState // keyed by token ID

	closeOnce sync.Once
	done      chan struct{}
}

type bookState struct {
	bids map[float64]float64
	asks map[float64]float64
}

// NewMarketFeed creates a feed for the given markets. Both outcome tokens of
// every market are subscribed.
func NewMarketFeed(wsURL string, markets []domain.Market, sink Sink, prices domain.PriceCache, books domain.OrderbookCache, alerts *alert.Bus, logger *slog.Logger) *MarketFeed {
	assetMarket := make(map[string]string)
	for _, m := range markets {
		for _, tok := range m.TokenIDs {
			if tok != "" {
				assetMarket[tok] = m.ID
			}
		}
	}
	return &MarketFeed{
		wsURL:       wsURL,
		sink:        sink,
		logger:      logger.With(slog.String("component", "market_feed")),
		alerts:      alerts,
		prices:      prices,
		books:       books,
		assetMarket: assetMarket,
		state:       make(map[string]*bookState),
		done:        make(chan struct{}),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled. Transient
// disconnects are handled by the client's internal reconnect with resumed
// subscriptions; each drop is surfaced as a warning alert.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.assetMarket) == 0 {
		f.logger.Info("no markets configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnDisconnect(func(err error) {
		f.logger.Warn("feed disconnected", slog.String("error", err.Error()))
		if f.alerts != nil {
			f.alerts.Publishf(alert.LevelWarning, "feed_disconnect", "Feed disconnected",
				err.Error(), nil)
		}
	})
	client.OnBook(func(snap domain.OrderbookSnapshot) {
		f.handleSnapshot(ctx, snap)
	})
	client.OnPriceChange(func(pc polymarket.PriceChange) {
		f.handlePriceChange(ctx, pc)
	})
	client.OnTrade(func(tick domain.TradeTick) {
		f.handleTrade(ctx, tick)
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}

	assets := make([]string, 0, len(f.assetMarket))
	for a := range f.assetMarket {
		assets = append(assets, a)
	}
	channels := []string{"book", "price_change", "last_trade_price"}
	if err := client.Subscribe(ctx, channels, assets); err != nil {
		return err
	}
	f.logger.Info("market feed subscribed", slog.Int("assets", len(assets)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Close stops the feed.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// --------------------------------------------------------------------------
// Event handling
// --------------------------------------------------------------------------

func (f *MarketFeed) handleSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) {
	marketID, ok := f.assetMarket[snap.AssetID]
	if !ok {
		return
	}

	st := &bookState{
		bids: make(map[float64]float64, len(snap.Bids)),
		asks: make(map[float64]float64, len(snap.Asks)),
	}
	for _, lvl := range snap.Bids {
		if lvl.Size > 0 {
			st.bids[lvl.Price] = lvl.Size
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size > 0 {
			st.asks[lvl.Price] = lvl.Size
		}
	}

	f.mu.Lock()
	f.state[snap.AssetID] = st
	f.mu.Unlock()

	if f.books != nil {
		if err := f.books.SetSnapshot(ctx, snap.AssetID, snap); err != nil {
			f.logger.Debug("book cache write failed", slog.String("error", err.Error()))
		}
	}

	f.emitBook(ctx, marketID, snap.AssetID, snap.BestBid, snap.BestAsk, snap.Timestamp)
}

func (f *MarketFeed) handlePriceChange(ctx context.Context, pc polymarket.PriceChange) {
	marketID, ok := f.assetMarket[pc.AssetID]
	if !ok {
		return
	}

	f.mu.Lock()
	st, ok := f.state[pc.AssetID]
	if !ok {
		// No snapshot yet; deltas without a base are meaningless.
		f.mu.Unlock()
		return
	}
	side := st.asks
	if pc.Side == "BUY" {
		side = st.bids
	}
	if pc.Size <= 0 {
		delete(side, pc.Price)
	} else {
		side[pc.Price] = pc.Size
	}
	bid, ask := st.bbo()
	f.mu.Unlock()

	if f.books != nil {
		cacheSide := "asks"
		if pc.Side == "BUY" {
			cacheSide = "bids"
		}
		if err := f.books.UpdateLevel(ctx, pc.AssetID, cacheSide, pc.Price, pc.Size); err != nil {
			f.logger.Debug("book cache update failed", slog.String("error", err.Error()))
		}
	}

	f.emitBook(ctx, marketID, pc.AssetID, bid, ask, pc.Timestamp)
}

func (f *MarketFeed) handleTrade(ctx context.Context, tick domain.TradeTick) {
	marketID, ok := f.assetMarket[tick.AssetID]
	if !ok {
		return
	}
	tick.MarketID = marketID

	f.sink(ctx, domain.FeedEvent{
		Type:      domain.FeedEventTick,
		MarketID:  marketID,
		Tick:      &tick,
		Timestamp: tick.Timestamp,
	})
}

func (f *MarketFeed) emitBook(ctx context.Context, marketID, assetID string, bid, ask float64, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}

	if f.prices != nil {
		if mid := (bid + ask) / 2; bid > 0 && ask > 0 {
			if err := f.prices.SetPrice(ctx, assetID, mid, ts); err != nil {
				f.logger.Debug("price cache write failed", slog.String("error", err.Error()))
			}
		}
	}

	book := domain.BookUpdate{
		MarketID:  marketID,
		AssetID:   assetID,
		BestBid:   bid,
		BestAsk:   ask,
		Timestamp: ts,
	}
	f.sink(ctx, domain.FeedEvent{
		Type:      domain.FeedEventBook,
		MarketID:  marketID,
		Book:      &book,
		Timestamp: ts,
	})
}

func (st *bookState) bbo() (bid, ask float64) {
	for p := range st.bids {
		if p > bid {
			bid = p
		}
	}
	for p := range st.asks {
		if ask == 0 || p < ask {
			ask = p
		}
	}
	return bid, ask
}
