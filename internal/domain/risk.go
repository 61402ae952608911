package domain

import "time"

// RiskStatus is a read-only snapshot of the risk gate's counters, exposed for
// alerting and operator visibility. DRY_RUN state is always included so no
// live-order ambiguity exists.
type RiskStatus struct {
	DryRun         bool
	KillSwitch     bool
	DailyPnL       float64 // realized + unrealized, negative is a loss
	DailyLossLimit float64
	MaxPositionUSD float64
	GlobalExposure float64
	MarketExposure map[string]float64
	Admitted       int64
	Rejected       int64
	NextReset      time.Time
}
