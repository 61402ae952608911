// Package ledger maintains the authoritative record of open positions,
// realized and unrealized PnL, and the cumulative daily result. All mutation
// passes through a single mutex; fills are applied exactly once, deduplicated
// by fill ID, so a replayed gateway notification can never double-count.
package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// GateFeedback is the ledger's feedback path into the risk gate. Both methods
// are cheap and non-blocking.
type GateFeedback interface {
	SetPositionNotional(marketID string, notional float64, openCount int)
	UpdateDailyPnL(pnl float64)
}

type posKey struct {
	marketID string
	tokenID  string
}

// Ledger is the in-process position book. The postgres stores are optional
// write-behind persistence; their failures are logged, never propagated into
// the fill path.
type Ledger struct {
	store domain.PositionStore
	fills domain.FillStore
	gate  GateFeedback
	logger *slog.Logger

	mu            sync.Mutex
	positions     map[posKey]*domain.Position
	applied       map[string]struct{} // fill IDs already applied
	realizedToday float64
}

// New creates a Ledger. store, fills, and gate may each be nil.
func New(store domain.PositionStore, fills domain.FillStore, gate GateFeedback, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:     store,
		fills:     fills,
		gate:      gate,
		logger:    logger.With(slog.String("component", "position_ledger")),
		positions: make(map[posKey]*domain.Position),
		applied:   make(map[string]struct{}),
	}
}

// ApplyFill applies one fill to the book. Applying the same fill ID a second
// time is a no-op returning applied=false; the position is unchanged. The
// returned Position is a copy of the post-fill state.
func (l *Ledger) ApplyFill(ctx context.Context, fill domain.Fill) (domain.Position, bool, error) {
	if fill.ID == "" || fill.SizeUnits <= 0 {
		return domain.Position{}, false, domain.ErrInvalidOrder
	}

	l.mu.Lock()
	if _, dup := l.applied[fill.ID]; dup {
		pos := l.copyLocked(posKey{fill.MarketID, fill.TokenID})
		l.mu.Unlock()
		return pos, false, nil
	}
	l.applied[fill.ID] = struct{}{}

	key := posKey{fill.MarketID, fill.TokenID}
	pos, ok := l.positions[key]
	if !ok {
		pos = &domain.Position{
			MarketID: fill.MarketID,
			TokenID:  fill.TokenID,
			Strategy: fill.Strategy,
			OpenedAt: fill.Timestamp,
		}
		l.positions[key] = pos
	}

	l.netLocked(pos, fill)
	pos.UpdatedAt = fill.Timestamp
	snapshot := *pos
	notional, openCount := l.marketNotionalLocked(fill.MarketID)
	daily := l.dailyPnLLocked()
	l.mu.Unlock()

	if l.gate != nil {
		l.gate.SetPositionNotional(fill.MarketID, notional, openCount)
		l.gate.UpdateDailyPnL(daily)
	}

	l.persist(ctx, fill, snapshot)

	l.logger.InfoContext(ctx, "fill applied",
		slog.String("fill_id", fill.ID),
		slog.String("order_id", fill.OrderID),
		slog.String("market", fill.MarketID),
		slog.String("side", string(fill.Side)),
		slog.Float64("price", fill.Price()),
		slog.Float64("size", fill.Size()),
		slog.Float64("position_size", snapshot.Size),
	)

	return snapshot, true, nil
}

// netLocked applies the fill quantity to the position with standard netting:
// increasing fills move the average entry price, reducing fills realize PnL
// against it, and a flip through zero re-bases the average at the fill price.
func (l *Ledger) netLocked(pos *domain.Position, fill domain.Fill) {
	qty := fill.Size()
	if fill.Side == domain.OrderSideSell {
		qty = -qty
	}
	price := fill.Price()

	switch {
	case pos.Size == 0 || sameSign(pos.Size, qty):
		newSize := pos.Size + qty
		if newSize != 0 {
			pos.AvgEntryPrice = (pos.AvgEntryPrice*abs(pos.Size) + price*abs(qty)) / abs(newSize)
		}
		pos.Size = newSize
	case abs(qty) <= abs(pos.Size):
		// Reducing: realize on the closed quantity.
		closed := abs(qty)
		realized := (price - pos.AvgEntryPrice) * closed
		if pos.Size < 0 {
			realized = -realized
		}
		pos.RealizedPnL += realized
		l.realizedToday += realized
		pos.Size += qty
		if pos.Size == 0 {
			pos.AvgEntryPrice = 0
		}
	default:
		// Flip: close the full position, open the remainder at fill price.
		closed := abs(pos.Size)
		realized := (price - pos.AvgEntryPrice) * closed
		if pos.Size < 0 {
			realized = -realized
		}
		pos.RealizedPnL += realized
		l.realizedToday += realized
		pos.Size += qty
		pos.AvgEntryPrice = price
	}

	if pos.MarkPrice == 0 {
		pos.MarkPrice = price
	}
	pos.UnrealizedPnL = (pos.MarkPrice - pos.AvgEntryPrice) * pos.Size
}

// MarkPrice updates the mark for every position holding the given outcome
// token and pushes the refreshed daily PnL into the gate.
func (l *Ledger) MarkPrice(tokenID string, price float64) {
	if price <= 0 {
		return
	}

	l.mu.Lock()
	touched := map[string]bool{}
	for key, pos := range l.positions {
		if key.tokenID != tokenID {
			continue
		}
		pos.MarkPrice = price
		pos.UnrealizedPnL = (price - pos.AvgEntryPrice) * pos.Size
		touched[key.marketID] = true
	}
	updates := make(map[string]float64, len(touched))
	var openCount int
	if len(touched) > 0 {
		for m := range touched {
			updates[m], openCount = l.marketNotionalLocked(m)
		}
	}
	daily := l.dailyPnLLocked()
	l.mu.Unlock()

	if l.gate == nil || len(touched) == 0 {
		return
	}
	for m, notional := range updates {
		l.gate.SetPositionNotional(m, notional, openCount)
	}
	l.gate.UpdateDailyPnL(daily)
}

// Position returns a copy of the position for (marketID, tokenID).
func (l *Ledger) Position(marketID, tokenID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[posKey{marketID, tokenID}]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// NetSize returns the combined net inventory across both outcome tokens of a
// market, used by the market maker's inventory skew.
func (l *Ledger) NetSize(marketID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var net float64
	for key, pos := range l.positions {
		if key.marketID == marketID {
			net += pos.Size
		}
	}
	return net
}

// Snapshot returns copies of all non-flat positions.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if !pos.Flat() {
			out = append(out, *pos)
		}
	}
	return out
}

// DailyPnL returns realized-today plus the unrealized PnL of open positions.
func (l *Ledger) DailyPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnLLocked()
}

// ResetDaily zeroes the realized-today counter at the daily boundary.
// Unrealized PnL carries over; open positions do not reset.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	l.realizedToday = 0
	daily := l.dailyPnLLocked()
	l.mu.Unlock()

	if l.gate != nil {
		l.gate.UpdateDailyPnL(daily)
	}
}

func (l *Ledger) dailyPnLLocked() float64 {
	pnl := l.realizedToday
	for _, pos := range l.positions {
		pnl += pos.UnrealizedPnL
	}
	return pnl
}

func (l *Ledger) marketNotionalLocked(marketID string) (float64, int) {
	var notional float64
	for key, pos := range l.positions {
		if key.marketID == marketID {
			notional += pos.Notional()
		}
	}
	openCount := 0
	for _, pos := range l.positions {
		if !pos.Flat() {
			openCount++
		}
	}
	return notional, openCount
}

func (l *Ledger) copyLocked(key posKey) domain.Position {
	if pos, ok := l.positions[key]; ok {
		return *pos
	}
	return domain.Position{}
}

// persist writes the fill and position snapshot to the optional stores.
func (l *Ledger) persist(ctx context.Context, fill domain.Fill, pos domain.Position) {
	if l.fills != nil {
		if err := l.fills.Insert(ctx, fill); err != nil {
			l.logger.WarnContext(ctx, "fill persist failed",
				slog.String("fill_id", fill.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if l.store != nil {
		if err := l.store.Upsert(ctx, pos); err != nil {
			l.logger.WarnContext(ctx, "position persist failed",
				slog.String("market", pos.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Applied reports whether a fill ID has been applied, for reconciliation.
func (l *Ledger) Applied(fillID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[fillID]
	return ok
}
