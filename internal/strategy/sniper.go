package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/config"
	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// Sniper rests a deep low bid on each configured market, waiting for a
// flash dump to sweep it. A resting bid is withdrawn once it exceeds its
// maximum age, and the market re-arms only after a cooldown so the sniper
// does not chase a moving crash. A filled bid is exited with a sell at the
// configured target price.
type Sniper struct {
	cfg    config.SniperConfig
	env    Env
	logger *slog.Logger

	markets map[string]struct{}
	state   map[string]*sniperState // keyed by market ID
}

type sniperState struct {
	disarmedAt time.Time // last cancel or fill; zero when never disarmed
}

// NewSniper creates a Sniper for the configured markets.
func NewSniper(cfg config.SniperConfig, env Env, logger *slog.Logger) *Sniper {
	allow := make(map[string]struct{}, len(cfg.Markets))
	for _, m := range cfg.Markets {
		allow[m] = struct{}{}
	}
	return &Sniper{
		cfg:     cfg,
		env:     env,
		logger:  logger.With(slog.String("strategy", "sniper")),
		markets: allow,
		state:   make(map[string]*sniperState),
	}
}

// Name returns the strategy identifier.
func (sn *Sniper) Name() string { return "sniper" }

// Init validates the sniping parameters.
func (sn *Sniper) Init(_ context.Context) error {
	if sn.cfg.BidPrice <= 0 || sn.cfg.BidPrice >= 1 {
		return fmt.Errorf("sniper: bid price %.4f outside (0,1)", sn.cfg.BidPrice)
	}
	if sn.cfg.Shares <= 0 {
		return fmt.Errorf("sniper: shares must be positive")
	}
	if sn.cfg.SellTarget > 0 && sn.cfg.SellTarget <= sn.cfg.BidPrice {
		return fmt.Errorf("sniper: sell target %.4f must exceed bid price %.4f",
			sn.cfg.SellTarget, sn.cfg.BidPrice)
	}
	return nil
}

// OnBookUpdate arms the market when no bid is resting, the cooldown has
// passed, and the configured bid sits at least DepthTicks below the best
// bid. The depth requirement keeps the snipe out of normal trading range.
func (sn *Sniper) OnBookUpdate(_ context.Context, book domain.BookUpdate) ([]domain.OrderIntent, error) {
	if len(sn.markets) > 0 {
		if _, ok := sn.markets[book.MarketID]; !ok {
			return nil, nil
		}
	}

	market, ok := sn.env.Market(book.MarketID)
	if !ok || book.AssetID != market.TokenIDs[0] {
		return nil, nil
	}
	if book.BestBid <= 0 {
		return nil, nil
	}

	if len(sn.env.OpenOrders(sn.Name(), book.MarketID)) > 0 {
		return nil, nil
	}

	st := sn.stateFor(book.MarketID)
	if !st.disarmedAt.IsZero() && time.Since(st.disarmedAt) < sn.cfg.Cooldown.Duration {
		return nil, nil
	}

	tick := market.TickSize
	if tick <= 0 {
		tick = 0.01
	}
	if sn.cfg.BidPrice > book.BestBid-float64(sn.cfg.DepthTicks)*tick {
		// Book trades too close to our level; a fill here would not be
		// the dislocation we are hunting.
		return nil, nil
	}

	intent := NewIntent(sn.Name(), book.MarketID, market.TokenIDs[0], domain.OrderSideBuy,
		ToTicks(sn.cfg.BidPrice), ToTicks(sn.cfg.Shares),
		fmt.Sprintf("snipe bid %.4f under best %.4f", sn.cfg.BidPrice, book.BestBid))
	intent.ExpiresAt = time.Now().Add(sn.cfg.MaxAge.Duration)

	sn.logger.Info("arming snipe",
		slog.String("market_id", book.MarketID),
		slog.Float64("bid", sn.cfg.BidPrice),
		slog.Float64("best_bid", book.BestBid))

	return []domain.OrderIntent{intent}, nil
}

// OnTradeTick is a no-op.
func (sn *Sniper) OnTradeTick(context.Context, domain.TradeTick) ([]domain.OrderIntent, error) {
	return nil, nil
}

// OnWalletSignal is a no-op.
func (sn *Sniper) OnWalletSignal(context.Context, domain.WalletSignal) ([]domain.OrderIntent, error) {
	return nil, nil
}

// OnFill exits a swept snipe with a sell at the target price and starts the
// cooldown.
func (sn *Sniper) OnFill(_ context.Context, fill domain.Fill, order domain.Order) ([]domain.OrderIntent, error) {
	if fill.Side != domain.OrderSideBuy {
		sn.stateFor(fill.MarketID).disarmedAt = time.Now()
		return nil, nil
	}

	sn.stateFor(fill.MarketID).disarmedAt = time.Now()

	if sn.cfg.SellTarget <= 0 || order.Status != domain.OrderStatusFilled {
		return nil, nil
	}

	target := ClampPrice(sn.cfg.SellTarget)
	intent := NewIntent(sn.Name(), fill.MarketID, fill.TokenID, domain.OrderSideSell,
		ToTicks(target), order.FilledUnits,
		fmt.Sprintf("snipe exit @ %.4f after entry %.4f", target, order.AvgFillPrice))

	sn.logger.Info("snipe filled, arming exit",
		slog.String("market_id", fill.MarketID),
		slog.Float64("entry", order.AvgFillPrice),
		slog.Float64("target", target))

	return []domain.OrderIntent{intent}, nil
}

// OnTimer withdraws resting bids past their maximum age. The actual cancel
// confirmation restarts the cooldown via OnFill/engine routing; the timer
// only requests the withdrawal.
func (sn *Sniper) OnTimer(_ context.Context, now time.Time) ([]domain.OrderIntent, error) {
	if sn.cfg.MaxAge.Duration <= 0 {
		return nil, nil
	}

	var intents []domain.OrderIntent
	for marketID := range sn.trackedMarkets() {
		for _, o := range sn.env.OpenOrders(sn.Name(), marketID) {
			if o.Side != domain.OrderSideBuy {
				continue
			}
			if now.Sub(o.CreatedAt) > sn.cfg.MaxAge.Duration {
				intents = append(intents, NewCancel(sn.Name(), marketID, o.ID, "snipe aged out"))
				sn.stateFor(marketID).disarmedAt = now
			}
		}
	}
	return intents, nil
}

// Close is a no-op.
func (sn *Sniper) Close() error { return nil }

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (sn *Sniper) stateFor(marketID string) *sniperState {
	st, ok := sn.state[marketID]
	if !ok {
		st = &sniperState{}
		sn.state[marketID] = st
	}
	return st
}

// trackedMarkets returns the configured allow-list, or every market seen so
// far when the list is empty.
func (sn *Sniper) trackedMarkets() map[string]struct{} {
	if len(sn.markets) > 0 {
		return sn.markets
	}
	seen := make(map[string]struct{}, len(sn.state))
	for m := range sn.state {
		seen[m] = struct{}{}
	}
	return seen
}
