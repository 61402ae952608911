// Package risk implements the admission-control chokepoint every order
// intent must pass before reaching the order gateway. Admission check and
// counter reservation happen as one atomic step under a single mutex, so no
// two intents are ever admitted against a stale exposure snapshot.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/alert"
	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// Limits holds the immutable hard limits enforced by the gate. They are
// loaded once at startup and never re-read from the environment.
type Limits struct {
	DryRun           bool
	MaxPositionUSDC  float64
	DailyLossLimit   float64
	MaxOpenPositions int
	MinOrderUSDC     float64
	ResetOffset      time.Duration // daily reset time as offset from midnight UTC
}

// Gate is the single admission point for order intents. All counter state is
// guarded by one mutex; Evaluate, fill commits, and PnL updates serialize on
// it.
type Gate struct {
	limits Limits
	alerts *alert.Bus
	audit  domain.AuditStore
	logger *slog.Logger

	onHalt func(reason string) // invoked once per kill-switch trip, outside the lock

	mu         sync.Mutex
	killSwitch bool
	haltReason string
	dailyPnL   float64            // realized + unrealized, negative is a loss
	reserved   map[string]float64 // per-market pending buy notional
	position   map[string]float64 // per-market open position notional (ledger-fed)
	openCount  int
	admitted   int64
	rejected   int64
	nextReset  time.Time
}

// NewGate creates a Gate with the given limits. The audit store is optional;
// a nil store disables persistence of admission decisions.
func NewGate(limits Limits, alerts *alert.Bus, audit domain.AuditStore, logger *slog.Logger) *Gate {
	return &Gate{
		limits:    limits,
		alerts:    alerts,
		audit:     audit,
		logger:    logger.With(slog.String("component", "risk_gate")),
		reserved:  make(map[string]float64),
		position:  make(map[string]float64),
		nextReset: nextResetAfter(time.Now().UTC(), limits.ResetOffset),
	}
}

// OnHalt registers the callback invoked when the kill-switch trips. The
// callback runs in its own goroutine so gate callers are never blocked by
// halt side effects (strategy pausing, best-effort cancels).
func (g *Gate) OnHalt(fn func(reason string)) {
	g.onHalt = fn
}

// Evaluate runs the admission checks for one intent and, on admit, reserves
// its exposure in the same atomic step. Rejections are expected outcomes
// returned as typed values, never errors.
//
// Check order: kill-switch, minimum size, per-market exposure cap, projected
// worst-case daily loss. Cancel intents never reach the gate.
func (g *Gate) Evaluate(ctx context.Context, intent domain.OrderIntent) domain.Admission {
	g.mu.Lock()
	adm := g.evaluateLocked(intent)
	g.mu.Unlock()

	if adm.Decision != domain.DecisionAdmit {
		g.alerts.Publishf(alert.LevelWarning, "admission_reject",
			"intent rejected",
			fmt.Sprintf("%s %s %s rejected: %s", intent.Strategy, intent.Side, intent.MarketID, adm.Reason),
			map[string]string{
				"intent_id": intent.ID,
				"strategy":  intent.Strategy,
				"market":    intent.MarketID,
				"reason":    string(adm.Reason),
			})
	}

	if g.audit != nil {
		if err := g.audit.Log(ctx, "risk_evaluate", map[string]any{
			"intent_id": intent.ID,
			"strategy":  intent.Strategy,
			"market":    intent.MarketID,
			"side":      string(intent.Side),
			"notional":  intent.Notional(),
			"decision":  string(adm.Decision),
			"reason":    string(adm.Reason),
			"simulated": adm.Simulated,
		}); err != nil {
			g.logger.WarnContext(ctx, "audit log failed",
				slog.String("intent_id", intent.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return adm
}

func (g *Gate) evaluateLocked(intent domain.OrderIntent) domain.Admission {
	if g.killSwitch {
		g.rejected++
		return domain.Admission{Decision: domain.DecisionHalt, Reason: domain.RejectHalted}
	}

	notional := intent.Notional()
	if notional < g.limits.MinOrderUSDC {
		g.rejected++
		return domain.Admission{Decision: domain.DecisionReject, Reason: domain.RejectTooSmall}
	}

	if intent.Side == domain.OrderSideBuy {
		market := intent.MarketID

		// Exposure after a hypothetical full fill: current position plus
		// already-reserved pending buys plus this intent.
		projected := g.position[market] + g.reserved[market] + notional
		if projected > g.limits.MaxPositionUSDC {
			g.rejected++
			return domain.Admission{Decision: domain.DecisionReject, Reason: domain.RejectPositionLimit}
		}

		// Worst case for a binary buy is the full notional going to zero.
		loss := 0.0
		if g.dailyPnL < 0 {
			loss = -g.dailyPnL
		}
		if loss+notional > g.limits.DailyLossLimit {
			g.rejected++
			return domain.Admission{Decision: domain.DecisionReject, Reason: domain.RejectDailyLimit}
		}

		if g.limits.MaxOpenPositions > 0 &&
			g.openCount >= g.limits.MaxOpenPositions &&
			g.position[market] == 0 && g.reserved[market] == 0 {
			g.rejected++
			return domain.Admission{Decision: domain.DecisionReject, Reason: domain.RejectMaxPositions}
		}

		g.reserved[market] += notional
	}

	g.admitted++
	return domain.Admission{Decision: domain.DecisionAdmit, Simulated: g.limits.DryRun}
}

// CommitFill converts a reserved buy notional into position exposure once a
// fill arrives. The ledger reports the resulting position notional separately
// via SetPositionNotional.
func (g *Gate) CommitFill(marketID string, side domain.OrderSide, notional float64) {
	if side != domain.OrderSideBuy {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(marketID, notional)
}

// ReleaseReservation returns the unfilled remainder of a terminal buy order
// to the market's risk budget.
func (g *Gate) ReleaseReservation(marketID string, side domain.OrderSide, notional float64) {
	if side != domain.OrderSideBuy {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(marketID, notional)
}

func (g *Gate) releaseLocked(marketID string, notional float64) {
	g.reserved[marketID] -= notional
	if g.reserved[marketID] <= 0 {
		delete(g.reserved, marketID)
	}
}

// SetPositionNotional is the ledger's feedback path: the current open
// exposure for a market and the count of non-flat positions.
func (g *Gate) SetPositionNotional(marketID string, notional float64, openCount int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if notional <= 0 {
		delete(g.position, marketID)
	} else {
		g.position[marketID] = notional
	}
	g.openCount = openCount
}

// UpdateDailyPnL records the ledger's current daily realized+unrealized PnL
// and trips the kill-switch when the loss limit is breached. Once tripped the
// switch latches until the next daily reset, even if PnL later improves.
func (g *Gate) UpdateDailyPnL(pnl float64) {
	g.mu.Lock()
	g.dailyPnL = pnl
	trip := !g.killSwitch && pnl <= -g.limits.DailyLossLimit
	if trip {
		g.killSwitch = true
		g.haltReason = fmt.Sprintf("daily loss limit breached: %.2f <= -%.2f", pnl, g.limits.DailyLossLimit)
	}
	reason := g.haltReason
	g.mu.Unlock()

	if trip {
		g.reportHalt(reason)
	}
}

// Trip activates the kill-switch manually (operator stop). Idempotent.
func (g *Gate) Trip(reason string) {
	g.mu.Lock()
	if g.killSwitch {
		g.mu.Unlock()
		return
	}
	g.killSwitch = true
	g.haltReason = reason
	g.mu.Unlock()

	g.reportHalt(reason)
}

func (g *Gate) reportHalt(reason string) {
	g.logger.Error("kill-switch activated", slog.String("reason", reason))
	g.alerts.Publishf(alert.LevelError, "kill_switch",
		"KILL SWITCH", reason, nil)
	if g.onHalt != nil {
		go g.onHalt(reason)
	}
}

// Halted reports whether the kill-switch is active.
func (g *Gate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitch
}

// ResetDaily clears the daily loss counter and releases the kill-switch.
// Called by Run at the configured boundary; exported for operator tooling.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	wasHalted := g.killSwitch
	g.killSwitch = false
	g.haltReason = ""
	g.dailyPnL = 0
	g.nextReset = nextResetAfter(time.Now().UTC(), g.limits.ResetOffset)
	g.mu.Unlock()

	g.logger.Info("daily risk counters reset", slog.Bool("was_halted", wasHalted))
	g.alerts.Publishf(alert.LevelInfo, "daily_reset",
		"daily reset", "risk counters cleared", nil)
}

// Status returns a snapshot of the gate's counters for alerting and ops.
func (g *Gate) Status() domain.RiskStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	exposure := make(map[string]float64, len(g.position))
	global := 0.0
	for m, n := range g.position {
		exposure[m] = n
		global += n
	}
	for m, n := range g.reserved {
		exposure[m] += n
		global += n
	}

	return domain.RiskStatus{
		DryRun:         g.limits.DryRun,
		KillSwitch:     g.killSwitch,
		DailyPnL:       g.dailyPnL,
		DailyLossLimit: g.limits.DailyLossLimit,
		MaxPositionUSD: g.limits.MaxPositionUSDC,
		GlobalExposure: global,
		MarketExposure: exposure,
		Admitted:       g.admitted,
		Rejected:       g.rejected,
		NextReset:      g.nextReset,
	}
}

// Run blocks until ctx is cancelled, firing ResetDaily at each configured
// daily boundary.
func (g *Gate) Run(ctx context.Context) error {
	g.logger.Info("risk gate started",
		slog.Bool("dry_run", g.limits.DryRun),
		slog.Float64("max_position_usdc", g.limits.MaxPositionUSDC),
		slog.Float64("daily_loss_limit", g.limits.DailyLossLimit),
	)
	defer g.logger.Info("risk gate stopped")

	for {
		g.mu.Lock()
		next := g.nextReset
		g.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			g.ResetDaily()
		}
	}
}

// nextResetAfter returns the first daily boundary strictly after now.
func nextResetAfter(now time.Time, offset time.Duration) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	next := day.Add(offset)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
