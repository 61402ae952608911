// Package executor is the single consumer of the strategy intent stream. It
// applies deduplication and expiry, routes place intents through the risk
// gate, and hands admitted orders to the lifecycle tracker. Cancels skip the
// gate: they only ever reduce exposure.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// Admitter is the risk gate surface the executor needs.
type Admitter interface {
	Evaluate(ctx context.Context, intent domain.OrderIntent) domain.Admission
}

// OrderSink receives admitted orders and cancel requests; implemented by the
// lifecycle tracker.
type OrderSink interface {
	Submit(ctx context.Context, order domain.Order) error
	Cancel(ctx context.Context, orderID string) error
	Order(orderID string) (domain.Order, bool)
}

// Executor reads intent batches from the scheduler and executes them in
// order on a single goroutine, which is what makes the strategies'
// cancel-before-place sequencing meaningful.
type Executor struct {
	intents <-chan []domain.OrderIntent
	gate    Admitter
	sink    OrderSink
	dedup   *Dedup
	wallet  string
	logger  *slog.Logger

	cleanupInterval time.Duration
}

// New creates an Executor reading from intents.
func New(intents <-chan []domain.OrderIntent, gate Admitter, sink OrderSink, wallet string, logger *slog.Logger) *Executor {
	return &Executor{
		intents:         intents,
		gate:            gate,
		sink:            sink,
		dedup:           NewDedup(2 * time.Minute),
		wallet:          wallet,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run consumes intents until ctx is cancelled or the stream closes.
func (e *Executor) Run(ctx context.Context) error {
	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			e.dedup.Cleanup()
		case batch, ok := <-e.intents:
			if !ok {
				return nil
			}
			for _, intent := range batch {
				e.execute(ctx, intent)
			}
		}
	}
}

// OrderClosed releases the dedup entry for a dead or filled order so the
// owning strategy may immediately re-place the same content. Wired to the
// tracker's terminal-transition callback.
func (e *Executor) OrderClosed(order domain.Order) {
	e.dedup.Forget(order)
}

func (e *Executor) execute(ctx context.Context, intent domain.OrderIntent) {
	if intent.Kind == domain.IntentCancel {
		order, tracked := e.sink.Order(intent.CancelID)
		if err := e.sink.Cancel(ctx, intent.CancelID); err != nil {
			e.logger.Warn("cancel failed",
				slog.String("order_id", intent.CancelID),
				slog.String("strategy", intent.Strategy),
				slog.String("error", err.Error()))
			return
		}
		// Cancelling frees the content slot immediately, so a replacement
		// order later in the same batch is not mistaken for a duplicate of
		// the quote it replaces.
		if tracked {
			e.dedup.Forget(order)
		}
		return
	}

	if !intent.ExpiresAt.IsZero() && time.Now().After(intent.ExpiresAt) {
		e.logger.Debug("intent expired before execution",
			slog.String("intent_id", intent.ID),
			slog.String("strategy", intent.Strategy))
		return
	}

	if e.dedup.IsDuplicate(intent) {
		e.logger.Debug("duplicate intent suppressed",
			slog.String("intent_id", intent.ID),
			slog.String("strategy", intent.Strategy))
		return
	}

	adm := e.gate.Evaluate(ctx, intent)
	if !adm.Admitted() {
		e.logger.Info("intent rejected by risk gate",
			slog.String("intent_id", intent.ID),
			slog.String("strategy", intent.Strategy),
			slog.String("market_id", intent.MarketID),
			slog.String("reason", string(adm.Reason)))
		return
	}

	order := domain.Order{
		ID:         intent.ID,
		MarketID:   intent.MarketID,
		TokenID:    intent.TokenID,
		Wallet:     e.wallet,
		Side:       intent.Side,
		Type:       domain.OrderTypeGTC,
		PriceTicks: intent.PriceTicks,
		SizeUnits:  intent.SizeUnits,
		Strategy:   intent.Strategy,
		Simulated:  adm.Simulated,
	}

	if err := e.sink.Submit(ctx, order); err != nil {
		e.logger.Error("order submission failed",
			slog.String("order_id", order.ID),
			slog.String("strategy", order.Strategy),
			slog.String("error", err.Error()))
	}
}
