package domain

import "time"

// Position is the per-(market, token) net size and cost basis. Owned by the
// position ledger and mutated only by applying fills.
type Position struct {
	MarketID      string
	TokenID       string
	Strategy      string
	Size          float64 // net outcome tokens held
	AvgEntryPrice float64
	MarkPrice     float64
	RealizedPnL   float64
	UnrealizedPnL float64
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// Notional returns the current mark-to-market USDC exposure of the position.
func (p Position) Notional() float64 {
	mark := p.MarkPrice
	if mark <= 0 {
		mark = p.AvgEntryPrice
	}
	size := p.Size
	if size < 0 {
		size = -size
	}
	return mark * size
}

// Flat reports whether the position holds no inventory.
func (p Position) Flat() bool {
	return p.Size == 0
}
