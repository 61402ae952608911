package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/advisory"
	"github.com/alanyoungcy/ultratrader/internal/config"
	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// CopyTrader mirrors the trades of a tracked wallet at a configured fraction
// of the observed size. Buys are protected by a slippage bound relative to
// the observed price; fills are optionally exited automatically at a profit
// target above entry.
type CopyTrader struct {
	cfg     config.CopyTraderConfig
	env     Env
	advisor advisory.Advisor
	logger  *slog.Logger

	markets map[string]struct{} // allow-list; empty means all
}

// NewCopyTrader creates a CopyTrader. advisor may be nil to disable
// confidence scaling.
func NewCopyTrader(cfg config.CopyTraderConfig, env Env, advisor advisory.Advisor, logger *slog.Logger) *CopyTrader {
	if advisor == nil {
		advisor = advisory.Noop{}
	}
	allow := make(map[string]struct{}, len(cfg.Markets))
	for _, m := range cfg.Markets {
		allow[m] = struct{}{}
	}
	return &CopyTrader{
		cfg:     cfg,
		env:     env,
		advisor: advisor,
		logger:  logger.With(slog.String("strategy", "copy_trader")),
		markets: allow,
	}
}

// Name returns the strategy identifier.
func (ct *CopyTrader) Name() string { return "copy_trader" }

// Init validates the tracked wallet address.
func (ct *CopyTrader) Init(_ context.Context) error {
	if ct.cfg.TargetAddress == "" {
		return fmt.Errorf("copy_trader: target wallet address not configured")
	}
	return nil
}

// OnBookUpdate is a no-op; copying is driven purely by wallet signals.
func (ct *CopyTrader) OnBookUpdate(context.Context, domain.BookUpdate) ([]domain.OrderIntent, error) {
	return nil, nil
}

// OnTradeTick is a no-op.
func (ct *CopyTrader) OnTradeTick(context.Context, domain.TradeTick) ([]domain.OrderIntent, error) {
	return nil, nil
}

// OnWalletSignal mirrors an observed trade. A signal is skipped when it is
// not from the tracked wallet, too old, too small, or outside the market
// allow-list. The mirrored buy's limit price is the observed price plus the
// slippage tolerance, so the copy can never execute materially worse than
// the original; sells mirror with the tolerance subtracted.
func (ct *CopyTrader) OnWalletSignal(ctx context.Context, sig domain.WalletSignal) ([]domain.OrderIntent, error) {
	if !strings.EqualFold(sig.Wallet, ct.cfg.TargetAddress) {
		return nil, nil
	}
	if len(ct.markets) > 0 {
		if _, ok := ct.markets[sig.MarketID]; !ok {
			return nil, nil
		}
	}

	age := time.Since(sig.Timestamp)
	if age > ct.cfg.MaxSignalAge.Duration {
		ct.logger.Debug("signal too old",
			slog.String("market_id", sig.MarketID),
			slog.Duration("age", age))
		return nil, nil
	}
	if sig.Notional() < ct.cfg.MinSignalUSDC {
		ct.logger.Debug("signal below minimum notional",
			slog.String("market_id", sig.MarketID),
			slog.Float64("notional", sig.Notional()))
		return nil, nil
	}

	size := sig.Size * ct.cfg.SizePercent / 100
	if score, ok := ct.advisor.Confidence(ctx, sig.MarketID); ok {
		// Scale between half and full size on the advisor's opinion.
		size *= 0.5 + 0.5*score
	}
	if size <= 0 {
		return nil, nil
	}

	var limit float64
	if sig.Side == domain.OrderSideBuy {
		limit = ClampPrice(sig.Price + ct.cfg.SlippageTol)
	} else {
		limit = ClampPrice(sig.Price - ct.cfg.SlippageTol)
		// Never sell more than we hold.
		if pos, ok := ct.env.Position(sig.MarketID, sig.AssetID); ok {
			if pos.Size < size {
				size = pos.Size
			}
		} else {
			return nil, nil
		}
		if size <= 0 {
			return nil, nil
		}
	}

	intent := NewIntent(ct.Name(), sig.MarketID, sig.AssetID, sig.Side,
		ToTicks(limit), ToTicks(size),
		fmt.Sprintf("mirror %s %.4f @ %.4f", sig.Side, sig.Size, sig.Price))
	intent.ExpiresAt = sig.Timestamp.Add(ct.cfg.MaxSignalAge.Duration)

	ct.logger.Info("mirroring trade",
		slog.String("market_id", sig.MarketID),
		slog.String("side", string(sig.Side)),
		slog.Float64("observed_price", sig.Price),
		slog.Float64("limit", limit),
		slog.Float64("size", size))

	return []domain.OrderIntent{intent}, nil
}

// OnFill places the automatic exit for a filled copy buy: a sell at the
// entry price marked up by the configured profit percentage, rounded to the
// market's tick grid and clamped to the tradable price range.
func (ct *CopyTrader) OnFill(_ context.Context, fill domain.Fill, order domain.Order) ([]domain.OrderIntent, error) {
	if ct.cfg.AutoSellProfit <= 0 || fill.Side != domain.OrderSideBuy {
		return nil, nil
	}
	if order.Status != domain.OrderStatusFilled {
		// Wait for the full position before arming the exit.
		return nil, nil
	}

	tick := 0.01
	if market, ok := ct.env.Market(fill.MarketID); ok && market.TickSize > 0 {
		tick = market.TickSize
	}
	target := ClampPrice(RoundToTick(order.AvgFillPrice*(1+ct.cfg.AutoSellProfit/100), tick))
	intent := NewIntent(ct.Name(), fill.MarketID, fill.TokenID, domain.OrderSideSell,
		ToTicks(target), order.FilledUnits,
		fmt.Sprintf("auto-sell %.1f%% above entry %.4f", ct.cfg.AutoSellProfit, order.AvgFillPrice))

	ct.logger.Info("arming auto-sell",
		slog.String("market_id", fill.MarketID),
		slog.Float64("entry", order.AvgFillPrice),
		slog.Float64("target", target))

	return []domain.OrderIntent{intent}, nil
}

// OnTimer is a no-op.
func (ct *CopyTrader) OnTimer(context.Context, time.Time) ([]domain.OrderIntent, error) {
	return nil, nil
}

// Close is a no-op.
func (ct *CopyTrader) Close() error { return nil }
