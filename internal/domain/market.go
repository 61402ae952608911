package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a binary prediction market. Identity fields are immutable
// after creation; BestBid/BestAsk mutate as feed updates arrive.
type Market struct {
	ID          string
	Question    string
	Slug        string
	Outcomes    [2]string // e.g. ["Yes","No"] or ["Up","Down"]
	TokenIDs    [2]string // outcome token IDs, complementary prices
	ConditionID string
	TickSize    float64 // minimum price increment, usually 0.01
	ExpiresAt   time.Time
	BestBid     float64
	BestAsk     float64
	Volume      float64
	Status      MarketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (m Market) Mid() float64 {
	if m.BestBid <= 0 || m.BestAsk <= 0 {
		return 0
	}
	return (m.BestBid + m.BestAsk) / 2
}

// TimeToExpiry returns the remaining time until market resolution.
func (m Market) TimeToExpiry(now time.Time) time.Duration {
	return m.ExpiresAt.Sub(now)
}

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for an outcome token.
type OrderbookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}
