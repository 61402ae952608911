package domain

import "time"

// IntentKind discriminates order intents from cancel requests. Cancel intents
// bypass risk admission; they only ever reduce exposure.
type IntentKind string

const (
	IntentPlace  IntentKind = "place"
	IntentCancel IntentKind = "cancel"
)

// OrderIntent is a strategy's requested action. Created by a strategy,
// immutable, consumed once by the risk gate (place) or the order tracker
// (cancel). The ID doubles as the exchange-facing order ID once admitted.
type OrderIntent struct {
	ID         string
	Seq        uint64 // monotonic per process, assigned at creation
	Kind       IntentKind
	Strategy   string
	MarketID   string
	TokenID    string
	Side       OrderSide
	PriceTicks int64 // fixed-point price, 1e6 ticks
	SizeUnits  int64 // fixed-point size, 1e6 units
	CancelID   string // order to cancel when Kind == IntentCancel
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Price returns the display price from fixed-point ticks.
func (i OrderIntent) Price() float64 {
	return float64(i.PriceTicks) / 1e6
}

// Size returns the display size from fixed-point units.
func (i OrderIntent) Size() float64 {
	return float64(i.SizeUnits) / 1e6
}

// Notional returns the USDC value of the intent at its limit price.
func (i OrderIntent) Notional() float64 {
	return i.Price() * i.Size()
}

// Decision is the outcome class of a risk gate evaluation.
type Decision string

const (
	DecisionAdmit  Decision = "admit"
	DecisionReject Decision = "reject"
	DecisionHalt   Decision = "halt"
)

// RejectReason explains a risk gate rejection.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectPositionLimit RejectReason = "position_limit"
	RejectDailyLimit    RejectReason = "daily_limit"
	RejectMaxPositions  RejectReason = "max_positions"
	RejectTooSmall      RejectReason = "too_small"
	RejectHalted        RejectReason = "halted"
)

// Admission is the typed outcome of RiskGate evaluation. Rejections are
// expected outcomes reported to the strategy, never raised as errors.
type Admission struct {
	Decision  Decision
	Reason    RejectReason
	Simulated bool // true when admitted under DRY_RUN
}

// Admitted reports whether the intent may proceed to the order gateway.
func (a Admission) Admitted() bool {
	return a.Decision == DecisionAdmit
}
