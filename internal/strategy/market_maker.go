package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/config"
	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// MarketMaker keeps a two-sided quote around the midpoint of each configured
// market. Quotes are refreshed when the midpoint moves by the configured
// number of ticks or when the requote interval elapses, always cancelling
// the stale pair before placing the new one. Inventory skews both quotes
// away from the accumulating side.
type MarketMaker struct {
	cfg    config.MarketMakerConfig
	env    Env
	logger *slog.Logger

	markets map[string]struct{}
	state   map[string]*quoteState // keyed by market ID
}

type quoteState struct {
	mid       float64 // midpoint at last quote
	lastMid   float64 // most recent observed midpoint
	quotedAt  time.Time
	withdrawn bool // set inside the expiry cutoff window
}

// NewMarketMaker creates a MarketMaker for the configured markets.
func NewMarketMaker(cfg config.MarketMakerConfig, env Env, logger *slog.Logger) *MarketMaker {
	allow := make(map[string]struct{}, len(cfg.Markets))
	for _, m := range cfg.Markets {
		allow[m] = struct{}{}
	}
	return &MarketMaker{
		cfg:     cfg,
		env:     env,
		logger:  logger.With(slog.String("strategy", "market_maker")),
		markets: allow,
		state:   make(map[string]*quoteState),
	}
}

// Name returns the strategy identifier.
func (mm *MarketMaker) Name() string { return "market_maker" }

// Init validates the quoting parameters.
func (mm *MarketMaker) Init(_ context.Context) error {
	if mm.cfg.QuoteSize <= 0 {
		return fmt.Errorf("market_maker: quote size must be positive")
	}
	if mm.cfg.SpreadTicks <= 0 {
		return fmt.Errorf("market_maker: spread must be at least one tick")
	}
	return nil
}

// OnBookUpdate requotes when the midpoint has moved at least RequoteTicks
// from the last quoted midpoint. Cancels precede placements in the returned
// slice so the book never briefly holds both quote generations.
func (mm *MarketMaker) OnBookUpdate(_ context.Context, book domain.BookUpdate) ([]domain.OrderIntent, error) {
	if len(mm.markets) > 0 {
		if _, ok := mm.markets[book.MarketID]; !ok {
			return nil, nil
		}
	}

	mid := book.Mid()
	if mid <= 0 {
		return nil, nil
	}

	st := mm.stateFor(book.MarketID)
	st.lastMid = mid

	market, ok := mm.env.Market(book.MarketID)
	if !ok || book.AssetID != market.TokenIDs[0] {
		// Quotes live on the primary outcome token only.
		return nil, nil
	}

	if mm.insideExpiryCutoff(market) {
		return mm.withdraw(market, st, "expiry cutoff"), nil
	}

	tick := mm.tickSize(market)
	open := mm.env.OpenOrders(mm.Name(), book.MarketID)

	if len(open) > 0 {
		moved := mid - st.mid
		if moved < 0 {
			moved = -moved
		}
		if moved < float64(mm.cfg.RequoteTicks)*tick {
			return nil, nil
		}
	}

	return mm.requote(market, st, mid, open, "midpoint moved"), nil
}

// OnTradeTick is a no-op; quoting keys off the book.
func (mm *MarketMaker) OnTradeTick(context.Context, domain.TradeTick) ([]domain.OrderIntent, error) {
	return nil, nil
}

// OnWalletSignal is a no-op.
func (mm *MarketMaker) OnWalletSignal(context.Context, domain.WalletSignal) ([]domain.OrderIntent, error) {
	return nil, nil
}

// OnFill requotes the filled side so the market maker stays two-sided, with
// the inventory skew reflecting the fresh position.
func (mm *MarketMaker) OnFill(_ context.Context, fill domain.Fill, _ domain.Order) ([]domain.OrderIntent, error) {
	market, ok := mm.env.Market(fill.MarketID)
	if !ok {
		return nil, nil
	}

	st := mm.stateFor(fill.MarketID)
	if st.lastMid <= 0 || mm.insideExpiryCutoff(market) {
		return nil, nil
	}

	open := mm.env.OpenOrders(mm.Name(), fill.MarketID)
	return mm.requote(market, st, st.lastMid, open, "fill"), nil
}

// OnTimer enforces the requote cadence and withdraws quotes from markets
// that have drifted inside the expiry cutoff between book updates.
func (mm *MarketMaker) OnTimer(_ context.Context, now time.Time) ([]domain.OrderIntent, error) {
	var intents []domain.OrderIntent
	for marketID, st := range mm.state {
		market, ok := mm.env.Market(marketID)
		if !ok || st.lastMid <= 0 {
			continue
		}
		if mm.insideExpiryCutoff(market) {
			intents = append(intents, mm.withdraw(market, st, "expiry cutoff")...)
			continue
		}
		if now.Sub(st.quotedAt) < mm.cfg.RequoteInterval.Duration {
			continue
		}
		open := mm.env.OpenOrders(mm.Name(), marketID)
		intents = append(intents, mm.requote(market, st, st.lastMid, open, "cadence")...)
	}
	return intents, nil
}

// Close is a no-op; outstanding quotes are cancelled by engine shutdown.
func (mm *MarketMaker) Close() error { return nil }

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (mm *MarketMaker) stateFor(marketID string) *quoteState {
	st, ok := mm.state[marketID]
	if !ok {
		st = &quoteState{}
		mm.state[marketID] = st
	}
	return st
}

func (mm *MarketMaker) tickSize(market domain.Market) float64 {
	if market.TickSize > 0 {
		return market.TickSize
	}
	return 0.01
}

func (mm *MarketMaker) insideExpiryCutoff(market domain.Market) bool {
	if mm.cfg.ExpiryCutoff.Duration <= 0 || market.ExpiresAt.IsZero() {
		return false
	}
	return market.TimeToExpiry(time.Now()) < mm.cfg.ExpiryCutoff.Duration
}

// requote cancels the current quote pair and places a new one centered on
// mid, shifted down by the inventory skew when the book has filled us long
// and up when short.
func (mm *MarketMaker) requote(market domain.Market, st *quoteState, mid float64, open []domain.Order, why string) []domain.OrderIntent {
	tick := mm.tickSize(market)
	intents := make([]domain.OrderIntent, 0, len(open)+2)

	for _, o := range open {
		intents = append(intents, NewCancel(mm.Name(), market.ID, o.ID, "requote: "+why))
	}

	skew := mm.cfg.SkewPerUnit * mm.env.NetSize(market.ID) * tick
	spread := float64(mm.cfg.SpreadTicks) * tick

	bid := ClampPrice(RoundToTick(mid-spread-skew, tick))
	ask := ClampPrice(RoundToTick(mid+spread-skew, tick))
	if ask <= bid {
		ask = ClampPrice(bid + tick)
	}

	token := market.TokenIDs[0]
	size := ToTicks(mm.cfg.QuoteSize)
	intents = append(intents,
		NewIntent(mm.Name(), market.ID, token, domain.OrderSideBuy, ToTicks(bid), size, "quote bid: "+why),
		NewIntent(mm.Name(), market.ID, token, domain.OrderSideSell, ToTicks(ask), size, "quote ask: "+why),
	)

	st.mid = mid
	st.quotedAt = time.Now()
	st.withdrawn = false

	mm.logger.Debug("requoting",
		slog.String("market_id", market.ID),
		slog.Float64("mid", mid),
		slog.Float64("bid", bid),
		slog.Float64("ask", ask),
		slog.Float64("skew", skew),
		slog.String("why", why))

	return intents
}

// withdraw cancels all open quotes for a market approaching expiry.
func (mm *MarketMaker) withdraw(market domain.Market, st *quoteState, why string) []domain.OrderIntent {
	if st.withdrawn {
		return nil
	}
	open := mm.env.OpenOrders(mm.Name(), market.ID)
	intents := make([]domain.OrderIntent, 0, len(open))
	for _, o := range open {
		intents = append(intents, NewCancel(mm.Name(), market.ID, o.ID, "withdraw: "+why))
	}
	st.withdrawn = true
	if len(intents) > 0 {
		mm.logger.Info("withdrawing quotes",
			slog.String("market_id", market.ID),
			slog.String("why", why))
	}
	return intents
}
