package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// Sim is the paper-trading gateway used under DRY_RUN. Orders rest in memory
// and fill against real cached market prices pushed in via UpdateBook, so
// simulated results track what a live order would have done. No call ever
// leaves the process.
type Sim struct {
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	resting map[string]*domain.Order
	books   map[string]bbo // keyed by outcome token ID
}

type bbo struct {
	bid float64
	ask float64
}

// NewSim creates a simulated gateway.
func NewSim(logger *slog.Logger) *Sim {
	return &Sim{
		logger:  logger.With(slog.String("component", "sim_gateway")),
		events:  make(chan Event, eventBuffer),
		resting: make(map[string]*domain.Order),
		books:   make(map[string]bbo),
	}
}

// Events returns the notification channel.
func (s *Sim) Events() <-chan Event {
	return s.events
}

// Submit accepts the order, emits an ack, and fills it immediately if it is
// marketable against the last known book. Non-marketable orders rest until a
// book update crosses them or they are cancelled.
func (s *Sim) Submit(_ context.Context, order domain.Order) (domain.SubmitResult, error) {
	if order.SizeUnits <= 0 || order.PriceTicks <= 0 {
		return domain.SubmitResult{Accepted: false, Message: "invalid order"}, domain.ErrInvalidOrder
	}

	o := order
	o.Simulated = true

	s.mu.Lock()
	s.resting[o.ID] = &o
	book := s.books[o.TokenID]
	s.mu.Unlock()

	s.emit(Event{Type: EventAck, OrderID: o.ID, Timestamp: time.Now().UTC()})
	s.logger.Debug("paper order accepted",
		slog.String("order_id", o.ID),
		slog.String("side", string(o.Side)),
		slog.Float64("price", o.Price()),
		slog.Float64("size", o.Size()),
	)

	s.tryMatch(o.ID, book)
	return domain.SubmitResult{Accepted: true, OrderID: o.ID}, nil
}

// Cancel removes a resting order. Unknown or already-gone orders are a
// successful no-op, matching the exchange's idempotent cancel semantics.
func (s *Sim) Cancel(_ context.Context, orderID string) error {
	s.mu.Lock()
	_, ok := s.resting[orderID]
	if ok {
		delete(s.resting, orderID)
	}
	s.mu.Unlock()

	if ok {
		s.emit(Event{Type: EventCancelled, OrderID: orderID, Timestamp: time.Now().UTC()})
	}
	return nil
}

// Status reports open for resting orders and ErrNotFound otherwise; filled
// and cancelled orders are no longer tracked here, mirroring an exchange
// open-orders query.
func (s *Sim) Status(_ context.Context, orderID string) (domain.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resting[orderID]; ok {
		return domain.OrderStatusOpen, nil
	}
	return "", domain.ErrNotFound
}

// UpdateBook pushes the latest best bid/ask for an outcome token and matches
// any resting orders that have become marketable. Wired to the market data
// feed so paper fills happen at real prices.
func (s *Sim) UpdateBook(tokenID string, bestBid, bestAsk float64) {
	s.mu.Lock()
	s.books[tokenID] = bbo{bid: bestBid, ask: bestAsk}
	ids := make([]string, 0, len(s.resting))
	for id, o := range s.resting {
		if o.TokenID == tokenID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.tryMatch(id, bbo{bid: bestBid, ask: bestAsk})
	}
}

// tryMatch fills the order in full when the book crosses its limit price.
// Buys execute at the ask, sells at the bid, never worse than the limit.
func (s *Sim) tryMatch(orderID string, book bbo) {
	s.mu.Lock()
	o, ok := s.resting[orderID]
	if !ok {
		s.mu.Unlock()
		return
	}

	var fillPrice float64
	marketable := false
	switch o.Side {
	case domain.OrderSideBuy:
		if book.ask > 0 && book.ask <= o.Price() {
			fillPrice = book.ask
			marketable = true
		}
	case domain.OrderSideSell:
		if book.bid > 0 && book.bid >= o.Price() {
			fillPrice = book.bid
			marketable = true
		}
	}
	if !marketable {
		s.mu.Unlock()
		return
	}

	fill := domain.Fill{
		ID:         uuid.New().String(),
		OrderID:    o.ID,
		MarketID:   o.MarketID,
		TokenID:    o.TokenID,
		Strategy:   o.Strategy,
		Side:       o.Side,
		PriceTicks: int64(fillPrice * 1e6),
		SizeUnits:  o.RemainingUnits(),
		Timestamp:  time.Now().UTC(),
	}
	delete(s.resting, orderID)
	s.mu.Unlock()

	s.emit(Event{Type: EventFill, OrderID: o.ID, Fill: &fill, Timestamp: fill.Timestamp})
	s.logger.Info("paper fill",
		slog.String("order_id", o.ID),
		slog.String("side", string(o.Side)),
		slog.Float64("price", fillPrice),
		slog.Float64("size", fill.Size()),
	)
}

// emit delivers an event. Fill and terminal notifications must not be lost,
// so this blocks if the tracker falls behind the (large) buffer.
func (s *Sim) emit(ev Event) {
	s.events <- ev
}
