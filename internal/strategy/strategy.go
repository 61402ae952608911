// Package strategy contains the trading strategies. Each strategy is a pure
// decision layer: it consumes normalized feed events and emits order intents;
// it never talks to the exchange and never mutates shared engine state.
package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// Strategy defines the contract for trading strategies. Callbacks for one
// strategy instance are never invoked concurrently; returned intents are
// executed in slice order, so a cancel placed before a replacement quote is
// guaranteed to reach the gateway first.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnBookUpdate(ctx context.Context, book domain.BookUpdate) ([]domain.OrderIntent, error)
	OnTradeTick(ctx context.Context, tick domain.TradeTick) ([]domain.OrderIntent, error)
	OnWalletSignal(ctx context.Context, sig domain.WalletSignal) ([]domain.OrderIntent, error)
	OnFill(ctx context.Context, fill domain.Fill, order domain.Order) ([]domain.OrderIntent, error)
	OnTimer(ctx context.Context, now time.Time) ([]domain.OrderIntent, error)
	Close() error
}

// Env is the read-only engine state strategies may consult: current
// positions, their own open orders, and market metadata.
type Env interface {
	Position(marketID, tokenID string) (domain.Position, bool)
	NetSize(marketID string) float64
	OpenOrders(strategy, marketID string) []domain.Order
	Market(marketID string) (domain.Market, bool)
}

// seq is the process-wide intent sequence counter.
var seq atomic.Uint64

// NewIntent builds a place intent with a fresh ID and sequence number.
func NewIntent(strategyName string, marketID, tokenID string, side domain.OrderSide, priceTicks, sizeUnits int64, reason string) domain.OrderIntent {
	now := time.Now()
	return domain.OrderIntent{
		ID:         uuid.NewString(),
		Seq:        seq.Add(1),
		Kind:       domain.IntentPlace,
		Strategy:   strategyName,
		MarketID:   marketID,
		TokenID:    tokenID,
		Side:       side,
		PriceTicks: priceTicks,
		SizeUnits:  sizeUnits,
		Reason:     reason,
		CreatedAt:  now,
	}
}

// NewCancel builds a cancel intent for an existing order.
func NewCancel(strategyName, marketID, orderID, reason string) domain.OrderIntent {
	return domain.OrderIntent{
		ID:        uuid.NewString(),
		Seq:       seq.Add(1),
		Kind:      domain.IntentCancel,
		Strategy:  strategyName,
		MarketID:  marketID,
		CancelID:  orderID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// ToTicks converts a display price or size to 1e6 fixed point.
func ToTicks(v float64) int64 {
	return int64(v*1e6 + 0.5)
}

// ClampPrice bounds a binary-outcome price to the tradable (0, 1) interval.
func ClampPrice(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// RoundToTick snaps a price onto the market's tick grid.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	steps := int64(price/tick + 0.5)
	return float64(steps) * tick
}
