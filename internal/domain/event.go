package domain

import "time"

// FeedEventType discriminates the payload carried by a FeedEvent.
type FeedEventType string

const (
	FeedEventBook   FeedEventType = "book_update"
	FeedEventTick   FeedEventType = "trade_tick"
	FeedEventSignal FeedEventType = "wallet_signal"
)

// BookUpdate carries the latest best bid/ask for a market. Consecutive book
// updates for the same market may be coalesced to latest-state-wins.
type BookUpdate struct {
	MarketID  string
	AssetID   string
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// Mid returns the bid/ask midpoint, or 0 when either side is missing.
func (b BookUpdate) Mid() float64 {
	if b.BestBid <= 0 || b.BestAsk <= 0 {
		return 0
	}
	return (b.BestBid + b.BestAsk) / 2
}

// TradeTick is a public trade execution observed on a market.
type TradeTick struct {
	MarketID  string
	AssetID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// WalletSignal is an observed trade by the tracked wallet. It is created by
// the market data feed, consumed once by the copy trader, and never mutated.
// WalletSignals must not be coalesced or dropped under backpressure.
type WalletSignal struct {
	Wallet    string
	MarketID  string
	AssetID   string
	Side      OrderSide
	Price     float64
	Size      float64
	Timestamp time.Time
}

// Notional returns the USDC value of the observed trade.
func (w WalletSignal) Notional() float64 {
	return w.Price * w.Size
}

// FeedEvent is the normalized event envelope produced by the market data feed.
// Exactly one of Book, Tick, Signal is non-nil, selected by Type.
type FeedEvent struct {
	Type      FeedEventType
	MarketID  string
	Book      *BookUpdate
	Tick      *TradeTick
	Signal    *WalletSignal
	Timestamp time.Time
}
