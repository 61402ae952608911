// Package lifecycle owns the order state machine. Every admitted order is
// registered here; gateway notifications drive validated transitions, and
// fills flow through to the position ledger and risk accounting exactly once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/alert"
	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/gateway"
	"github.com/alanyoungcy/ultratrader/internal/ledger"
)

// transitions is the legal state graph. Anything not listed is invalid and
// is refused rather than applied.
var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {
		domain.OrderStatusOpen,
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusFilled,
		domain.OrderStatusRejected,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusOpen: {
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPartiallyFilled: {
		domain.OrderStatusPartiallyFilled,
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
	},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RiskFeedback is the slice of the risk gate the tracker needs: committing
// exposure when fills land and releasing reservations when orders die
// unfilled.
type RiskFeedback interface {
	CommitFill(marketID string, side domain.OrderSide, notional float64)
	ReleaseReservation(marketID string, side domain.OrderSide, notional float64)
}

// FillHandler is notified after a fill has been applied to the ledger, so
// strategies can react (auto-sell, re-arm).
type FillHandler func(fill domain.Fill, order domain.Order)

// TerminalHandler is notified when an order reaches a terminal status. The
// executor uses it to release the order's dedup entry so the owning strategy
// may re-place the same content without waiting out the dedup window.
type TerminalHandler func(order domain.Order)

// Config tunes the tracker.
type Config struct {
	// AckTimeout bounds how long an order may sit in pending before the
	// tracker reconciles it against the exchange.
	AckTimeout time.Duration
	// SweepEvery is the interval of the pending-order sweep.
	SweepEvery time.Duration
}

// Tracker is the single writer of order state. It consumes the gateway event
// stream, validates every transition against the state graph, applies fills
// to the ledger, and freezes orders on protocol inconsistencies instead of
// guessing.
type Tracker struct {
	gw     gateway.Gateway
	ledger *ledger.Ledger
	risk   RiskFeedback
	alerts *alert.Bus
	orders domain.OrderStore // optional persistence
	logger *slog.Logger
	cfg    Config

	onFill     FillHandler
	onTerminal TerminalHandler

	mu      sync.Mutex
	tracked map[string]*trackedOrder
}

type trackedOrder struct {
	order     domain.Order
	frozen    bool
	pendingAt time.Time
}

// New creates a Tracker. orders may be nil to run without persistence; risk
// may be nil in tests.
func New(gw gateway.Gateway, lg *ledger.Ledger, risk RiskFeedback, alerts *alert.Bus, orders domain.OrderStore, logger *slog.Logger, cfg Config) *Tracker {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 2 * time.Second
	}
	return &Tracker{
		gw:      gw,
		ledger:  lg,
		risk:    risk,
		alerts:  alerts,
		orders:  orders,
		logger:  logger.With(slog.String("component", "lifecycle")),
		cfg:     cfg,
		tracked: make(map[string]*trackedOrder),
	}
}

// OnFill registers the post-fill callback. Must be set before Run.
func (t *Tracker) OnFill(fn FillHandler) {
	t.onFill = fn
}

// OnTerminal registers the terminal-transition callback. Must be set before
// Run.
func (t *Tracker) OnTerminal(fn TerminalHandler) {
	t.onTerminal = fn
}

func (t *Tracker) notifyTerminal(order domain.Order) {
	if t.onTerminal != nil {
		t.onTerminal(order)
	}
}

// Submit registers the order and hands it to the gateway. The order enters
// the machine in pending; the gateway's ack moves it to open. If the exchange
// assigns a different ID, tracking is re-keyed to it.
func (t *Tracker) Submit(ctx context.Context, order domain.Order) error {
	order.Status = domain.OrderStatusPending
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	t.mu.Lock()
	t.tracked[order.ID] = &trackedOrder{order: order, pendingAt: order.CreatedAt}
	t.mu.Unlock()

	res, err := t.gw.Submit(ctx, order)
	if err != nil {
		t.mu.Lock()
		delete(t.tracked, order.ID)
		t.mu.Unlock()
		t.releaseOnDeath(order)
		t.notifyTerminal(order)
		return fmt.Errorf("lifecycle: submit %s: %w", order.ID, err)
	}

	if !res.Accepted {
		// Rejection arrives synchronously for some gateways and as an
		// event for others; handleRejected is idempotent either way.
		t.handleRejected(order.ID, res.Message)
		return nil
	}

	if res.OrderID != "" && res.OrderID != order.ID {
		t.mu.Lock()
		if to, ok := t.tracked[order.ID]; ok {
			delete(t.tracked, order.ID)
			to.order.ID = res.OrderID
			t.tracked[res.OrderID] = to
			// Persist under the exchange ID, or later UpdateStatus calls
			// keyed by it would match no row.
			order = to.order
		}
		t.mu.Unlock()
	}

	t.persist(ctx, order)
	return nil
}

// Cancel requests cancellation. Cancelling an order that is already terminal
// or unknown is a successful no-op.
func (t *Tracker) Cancel(ctx context.Context, orderID string) error {
	t.mu.Lock()
	to, ok := t.tracked[orderID]
	if ok && to.order.Status.Terminal() {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}

	if err := t.gw.Cancel(ctx, orderID); err != nil {
		return fmt.Errorf("lifecycle: cancel %s: %w", orderID, err)
	}
	return nil
}

// CancelAll requests cancellation of every live order, best effort. It is
// invoked on kill-switch and on shutdown.
func (t *Tracker) CancelAll(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.tracked))
	for id, to := range t.tracked {
		if !to.order.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	for _, id := range ids {
		if err := t.Cancel(ctx, id); err != nil {
			t.logger.Warn("cancel-all: order not cancelled",
				slog.String("order_id", id),
				slog.String("error", err.Error()))
		}
	}
}

// Order returns a copy of a tracked order.
func (t *Tracker) Order(orderID string) (domain.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	to, ok := t.tracked[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return to.order, true
}

// OpenOrders returns copies of all non-terminal tracked orders.
func (t *Tracker) OpenOrders() []domain.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Order, 0, len(t.tracked))
	for _, to := range t.tracked {
		if !to.order.Status.Terminal() {
			out = append(out, to.order)
		}
	}
	return out
}

// OpenOrdersFor returns non-terminal orders for one strategy and market.
func (t *Tracker) OpenOrdersFor(strategy, marketID string) []domain.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Order
	for _, to := range t.tracked {
		if to.order.Strategy == strategy && to.order.MarketID == marketID && !to.order.Status.Terminal() {
			out = append(out, to.order)
		}
	}
	return out
}

// Run consumes gateway events and sweeps aged pending orders until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	sweep := time.NewTicker(t.cfg.SweepEvery)
	defer sweep.Stop()

	events := t.gw.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handleEvent(ctx, ev)
		case <-sweep.C:
			t.sweepPending(ctx)
		}
	}
}

// --------------------------------------------------------------------------
// Event handling
// --------------------------------------------------------------------------

func (t *Tracker) handleEvent(ctx context.Context, ev gateway.Event) {
	switch ev.Type {
	case gateway.EventAck:
		t.handleAck(ctx, ev.OrderID)
	case gateway.EventRejected:
		t.handleRejected(ev.OrderID, ev.Message)
	case gateway.EventFill:
		if ev.Fill != nil {
			t.handleFill(ctx, *ev.Fill)
		}
	case gateway.EventCancelled:
		t.handleCancelled(ctx, ev.OrderID, ev.Message)
	}
}

func (t *Tracker) handleAck(ctx context.Context, orderID string) {
	t.mu.Lock()
	to, ok := t.tracked[orderID]
	if !ok || to.frozen {
		t.mu.Unlock()
		return
	}
	if !canTransition(to.order.Status, domain.OrderStatusOpen) {
		t.mu.Unlock()
		return
	}
	to.order.Status = domain.OrderStatusOpen
	to.order.UpdatedAt = time.Now()
	order := to.order
	t.mu.Unlock()

	t.persist(ctx, order)
}

func (t *Tracker) handleRejected(orderID, message string) {
	t.mu.Lock()
	to, ok := t.tracked[orderID]
	if !ok || to.frozen || to.order.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	to.order.Status = domain.OrderStatusRejected
	to.order.UpdatedAt = time.Now()
	order := to.order
	t.mu.Unlock()

	t.releaseOnDeath(order)
	t.notifyTerminal(order)
	t.persist(context.Background(), order)

	t.logger.Warn("order rejected",
		slog.String("order_id", orderID),
		slog.String("reason", message))
	if t.alerts != nil {
		t.alerts.Publishf(alert.LevelWarning, "order_rejected", "Order rejected",
			fmt.Sprintf("%s %s %s: %s", order.Strategy, order.Side, order.MarketID, message), nil)
	}
}

// handleFill applies one execution. The ledger deduplicates by fill ID, so
// replays are harmless; fills for unknown or already-terminal orders are a
// protocol inconsistency and freeze the order instead of mutating anything.
func (t *Tracker) handleFill(ctx context.Context, fill domain.Fill) {
	t.mu.Lock()
	to, ok := t.tracked[fill.OrderID]
	if !ok {
		t.mu.Unlock()
		if t.ledger.Applied(fill.ID) {
			return
		}
		t.inconsistency(fill, "fill for unknown order")
		return
	}
	if to.frozen {
		t.mu.Unlock()
		return
	}
	if to.order.Status.Terminal() {
		to.frozen = true
		t.mu.Unlock()
		if t.ledger.Applied(fill.ID) {
			return
		}
		t.inconsistency(fill, fmt.Sprintf("fill after terminal state %s", to.order.Status))
		return
	}
	order := to.order
	t.mu.Unlock()

	if fill.Strategy == "" {
		fill.Strategy = order.Strategy
	}
	if fill.MarketID == "" {
		fill.MarketID = order.MarketID
	}
	if fill.TokenID == "" {
		fill.TokenID = order.TokenID
	}

	_, applied, err := t.ledger.ApplyFill(ctx, fill)
	if err != nil {
		t.logger.Error("apply fill failed",
			slog.String("fill_id", fill.ID),
			slog.String("order_id", fill.OrderID),
			slog.String("error", err.Error()))
		return
	}
	if !applied {
		return
	}

	if t.risk != nil {
		t.risk.CommitFill(fill.MarketID, fill.Side, fill.Notional())
	}

	t.mu.Lock()
	to, ok = t.tracked[fill.OrderID]
	var updated domain.Order
	if ok {
		prevFilled := to.order.FilledUnits
		to.order.FilledUnits += fill.SizeUnits
		if to.order.FilledUnits > to.order.SizeUnits {
			to.order.FilledUnits = to.order.SizeUnits
		}
		if to.order.FilledUnits > 0 {
			to.order.AvgFillPrice = (to.order.AvgFillPrice*float64(prevFilled) +
				fill.Price()*float64(fill.SizeUnits)) / float64(to.order.FilledUnits)
		}

		next := domain.OrderStatusPartiallyFilled
		if to.order.FilledUnits >= to.order.SizeUnits {
			next = domain.OrderStatusFilled
		}
		if canTransition(to.order.Status, next) {
			to.order.Status = next
		}
		to.order.UpdatedAt = time.Now()
		updated = to.order
	}
	t.mu.Unlock()

	if ok {
		if updated.Status == domain.OrderStatusFilled {
			t.notifyTerminal(updated)
		}
		t.persist(ctx, updated)
		t.logger.Info("fill applied",
			slog.String("order_id", fill.OrderID),
			slog.String("strategy", updated.Strategy),
			slog.String("side", string(fill.Side)),
			slog.Float64("price", fill.Price()),
			slog.Float64("size", fill.Size()),
			slog.String("status", string(updated.Status)))
		if t.alerts != nil {
			t.alerts.Publishf(alert.LevelSuccess, "fill", "Order filled",
				fmt.Sprintf("%s %s %.4f @ %.4f (%s)",
					updated.Strategy, fill.Side, fill.Size(), fill.Price(), updated.Status), nil)
		}
		if t.onFill != nil {
			t.onFill(fill, updated)
		}
	}
}

func (t *Tracker) handleCancelled(ctx context.Context, orderID, message string) {
	t.mu.Lock()
	to, ok := t.tracked[orderID]
	if !ok || to.frozen || to.order.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if !canTransition(to.order.Status, domain.OrderStatusCancelled) {
		t.mu.Unlock()
		return
	}
	to.order.Status = domain.OrderStatusCancelled
	to.order.UpdatedAt = time.Now()
	order := to.order
	t.mu.Unlock()

	t.releaseOnDeath(order)
	t.notifyTerminal(order)
	t.persist(ctx, order)

	t.logger.Debug("order cancelled",
		slog.String("order_id", orderID),
		slog.String("detail", message))
}

// sweepPending reconciles orders stuck in pending past the ack timeout. The
// exchange is asked for the authoritative status; if that fails too, the
// order is marked rejected so its reservation is not leaked.
func (t *Tracker) sweepPending(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	var stale []string
	for id, to := range t.tracked {
		if to.order.Status == domain.OrderStatusPending && !to.frozen &&
			now.Sub(to.pendingAt) > t.cfg.AckTimeout {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()

	for _, id := range stale {
		status, err := t.gw.Status(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Warn("ack timeout, status unresolvable",
				slog.String("order_id", id),
				slog.String("error", err.Error()))
			t.handleRejected(id, domain.ErrGatewayTimeout.Error())
			continue
		}

		switch status {
		case domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled:
			t.handleAck(ctx, id)
		case domain.OrderStatusCancelled:
			t.handleCancelled(ctx, id, "resolved by ack-timeout reconcile")
		case domain.OrderStatusRejected:
			t.handleRejected(id, "resolved by ack-timeout reconcile")
		case domain.OrderStatusFilled:
			// Fills arrive on the event stream; just open the order so
			// they can be applied.
			t.handleAck(ctx, id)
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// inconsistency freezes nothing ledger-side; it records the event and raises
// an alert for manual reconciliation.
func (t *Tracker) inconsistency(fill domain.Fill, detail string) {
	t.logger.Error("protocol inconsistency",
		slog.String("fill_id", fill.ID),
		slog.String("order_id", fill.OrderID),
		slog.String("detail", detail))
	if t.alerts != nil {
		t.alerts.Publishf(alert.LevelError, "protocol_inconsistency", "Protocol inconsistency",
			fmt.Sprintf("fill %s on order %s: %s", fill.ID, fill.OrderID, detail), nil)
	}
}

// releaseOnDeath returns the unfilled reservation of a dead buy order to the
// risk gate.
func (t *Tracker) releaseOnDeath(order domain.Order) {
	if t.risk == nil {
		return
	}
	if remaining := order.RemainingNotional(); remaining > 0 {
		t.risk.ReleaseReservation(order.MarketID, order.Side, remaining)
	}
}

func (t *Tracker) persist(ctx context.Context, order domain.Order) {
	if t.orders == nil {
		return
	}
	var err error
	if order.Status == domain.OrderStatusPending {
		err = t.orders.Create(ctx, order)
	} else {
		err = t.orders.UpdateStatus(ctx, order.ID, order.Status, order.FilledUnits, order.AvgFillPrice)
	}
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		t.logger.Warn("order persistence failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
	}
}
