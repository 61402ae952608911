package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/platform/polymarket"
)

const rateLimitKey = "gateway:orders"

// LiveConfig tunes the live gateway.
type LiveConfig struct {
	// OrdersPerSec caps order placements and cancels per second.
	OrdersPerSec int
	// ReconcileEvery is the polling interval for the trade/order
	// reconciliation loop.
	ReconcileEvery time.Duration
}

// Live submits real orders to the Polymarket CLOB. The REST API has no push
// channel for executions, so Run polls the authenticated trades endpoint and
// synthesizes fill and cancel events for orders submitted through this
// gateway.
type Live struct {
	clob    *polymarket.ClobClient
	limiter domain.RateLimiter
	logger  *slog.Logger
	cfg     LiveConfig

	mu       sync.Mutex
	tracked  map[string]*liveOrder // keyed by exchange order ID
	lastSync time.Time

	events chan Event
}

type liveOrder struct {
	order       domain.Order
	filledUnits int64
}

// NewLive creates a live gateway. limiter may be nil, in which case no rate
// limiting is applied.
func NewLive(clob *polymarket.ClobClient, limiter domain.RateLimiter, logger *slog.Logger, cfg LiveConfig) *Live {
	if cfg.OrdersPerSec <= 0 {
		cfg.OrdersPerSec = 5
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 5 * time.Second
	}
	return &Live{
		clob:    clob,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "gateway.live")),
		cfg:     cfg,
		tracked: make(map[string]*liveOrder),
		events:  make(chan Event, eventBuffer),
	}
}

// Submit signs and posts the order to the CLOB. On acceptance the exchange
// assigns its own order ID, returned in the result; subsequent events use
// that ID.
func (l *Live) Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error) {
	if err := l.throttle(ctx); err != nil {
		return domain.SubmitResult{}, err
	}

	res, err := l.clob.PostOrder(ctx, order)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("gateway: submit %s: %w", order.ID, err)
	}
	if !res.Accepted {
		l.emit(Event{
			Type:      EventRejected,
			OrderID:   order.ID,
			Message:   res.Message,
			Timestamp: time.Now(),
		})
		return res, nil
	}

	if res.OrderID == "" {
		res.OrderID = order.ID
	}

	l.mu.Lock()
	l.tracked[res.OrderID] = &liveOrder{order: order}
	l.mu.Unlock()

	l.logger.Info("order accepted",
		slog.String("order_id", res.OrderID),
		slog.String("market_id", order.MarketID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", order.Price()),
		slog.Float64("size", order.Size()))

	l.emit(Event{
		Type:      EventAck,
		OrderID:   res.OrderID,
		Timestamp: time.Now(),
	})

	return res, nil
}

// Cancel cancels an order on the exchange. An order the exchange no longer
// knows about counts as already cancelled.
func (l *Live) Cancel(ctx context.Context, orderID string) error {
	if err := l.throttle(ctx); err != nil {
		return err
	}

	err := l.clob.CancelOrder(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("gateway: cancel %s: %w", orderID, err)
	}

	l.mu.Lock()
	delete(l.tracked, orderID)
	l.mu.Unlock()

	l.emit(Event{
		Type:      EventCancelled,
		OrderID:   orderID,
		Timestamp: time.Now(),
	})
	return nil
}

// Status queries the exchange for the order's current state.
func (l *Live) Status(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	o, err := l.clob.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("gateway: status %s: %w", orderID, err)
	}
	return o.Status, nil
}

// Events returns the notification channel. Consume it promptly; the gateway
// blocks rather than drop a fill.
func (l *Live) Events() <-chan Event {
	return l.events
}

// Run drives the reconciliation loop until ctx is cancelled. It polls for
// executions belonging to tracked orders and for tracked orders that left the
// book without a matching trade, which surface as cancels.
func (l *Live) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.ReconcileEvery)
	defer ticker.Stop()

	l.mu.Lock()
	l.lastSync = time.Now()
	l.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Warn("reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (l *Live) throttle(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	ok, err := l.limiter.Allow(ctx, rateLimitKey, l.cfg.OrdersPerSec, time.Second)
	if err != nil {
		// Limiter backend failure must not block trading.
		l.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("gateway: %w", domain.ErrRateLimited)
	}
	return nil
}

func (l *Live) emit(ev Event) {
	l.events <- ev
}

// reconcile pulls recent executions and resolves tracked orders that have
// disappeared from the open set.
func (l *Live) reconcile(ctx context.Context) error {
	l.mu.Lock()
	since := l.lastSync
	l.mu.Unlock()

	fills, err := l.clob.GetTrades(ctx, since.Add(-l.cfg.ReconcileEvery))
	if err != nil {
		return err
	}

	now := time.Now()
	for i := range fills {
		f := fills[i]

		l.mu.Lock()
		lo, ok := l.tracked[f.OrderID]
		if ok {
			f.MarketID = lo.order.MarketID
			f.TokenID = lo.order.TokenID
			f.Side = lo.order.Side
			f.Strategy = lo.order.Strategy
			lo.filledUnits += f.SizeUnits
			if lo.filledUnits >= lo.order.SizeUnits {
				delete(l.tracked, f.OrderID)
			}
		}
		l.mu.Unlock()

		if !ok {
			// Execution for an order this gateway never placed; the
			// tracker decides whether that is an inconsistency.
			if f.OrderID == "" {
				continue
			}
		}

		l.emit(Event{
			Type:      EventFill,
			OrderID:   f.OrderID,
			Fill:      &f,
			Timestamp: now,
		})
	}

	// Tracked orders that left the book with nothing executed were
	// cancelled server-side (expiry, self-trade prevention, operator).
	open, err := l.clob.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	openSet := make(map[string]struct{}, len(open))
	for i := range open {
		openSet[open[i].ID] = struct{}{}
	}

	var gone []string
	l.mu.Lock()
	for id, lo := range l.tracked {
		if _, still := openSet[id]; still {
			continue
		}
		if lo.filledUnits == 0 {
			gone = append(gone, id)
			delete(l.tracked, id)
		}
	}
	l.lastSync = now
	l.mu.Unlock()

	for _, id := range gone {
		l.emit(Event{
			Type:      EventCancelled,
			OrderID:   id,
			Message:   "removed from book",
			Timestamp: now,
		})
	}

	return nil
}
