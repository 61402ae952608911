package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the order lifecycle state machine:
//
//	pending -> open -> partially_filled -> filled
//	pending -> rejected
//	open | partially_filled -> cancelled
//
// Filled, Cancelled, and Rejected are terminal.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a risk-admitted intent assigned an exchange-facing ID. It is owned
// exclusively by the order tracker once admitted; FilledUnits never exceeds
// SizeUnits.
type Order struct {
	ID           string
	MarketID     string
	TokenID      string
	Wallet       string
	Side         OrderSide
	Type         OrderType
	PriceTicks   int64 // fixed-point: price * 1e6
	SizeUnits    int64 // fixed-point: size  * 1e6
	FilledUnits  int64
	AvgFillPrice float64
	Status       OrderStatus
	Signature    string // EIP-712 hex, empty for simulated orders
	Strategy     string
	Simulated    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Price returns the float64 display price from fixed-point ticks.
func (o Order) Price() float64 {
	return float64(o.PriceTicks) / 1e6
}

// Size returns the float64 display size from fixed-point units.
func (o Order) Size() float64 {
	return float64(o.SizeUnits) / 1e6
}

// FilledSize returns the cumulative filled size.
func (o Order) FilledSize() float64 {
	return float64(o.FilledUnits) / 1e6
}

// RemainingUnits returns the unfilled fixed-point size.
func (o Order) RemainingUnits() int64 {
	return o.SizeUnits - o.FilledUnits
}

// RemainingNotional returns the USDC value of the unfilled remainder at the
// order's limit price.
func (o Order) RemainingNotional() float64 {
	return o.Price() * float64(o.RemainingUnits()) / 1e6
}

// SubmitResult wraps the gateway response to an order submission.
type SubmitResult struct {
	Accepted    bool
	OrderID     string
	Message     string
	ShouldRetry bool
}

// Fill is an immutable record of a partial or full execution against an
// order. Fills are append-only and applied to the position ledger exactly
// once, deduplicated by ID.
type Fill struct {
	ID         string
	OrderID    string
	MarketID   string
	TokenID    string
	Strategy   string
	Side       OrderSide
	PriceTicks int64
	SizeUnits  int64
	Timestamp  time.Time
}

// Price returns the display fill price.
func (f Fill) Price() float64 {
	return float64(f.PriceTicks) / 1e6
}

// Size returns the display fill size.
func (f Fill) Size() float64 {
	return float64(f.SizeUnits) / 1e6
}

// Notional returns the USDC value of the fill.
func (f Fill) Notional() float64 {
	return f.Price() * f.Size()
}
