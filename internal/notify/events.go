package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
)

// Formatting helpers for the core's event stream. Each builds the operator
// text for one event kind and hands it to Notify; the pipeline sinks call
// these fire-and-forget.

// BreakerTripped reports the execution breaker opening.
func (n *Notifier) BreakerTripped(ctx context.Context, reason string) error {
	return n.Notify(ctx, EventBreakerTripped,
		"Circuit breaker tripped",
		fmt.Sprintf("Order flow halted: %s. New entries are rejected until the breaker resets.", reason))
}

// BreakerReset reports the execution breaker closing again.
func (n *Notifier) BreakerReset(ctx context.Context) error {
	return n.Notify(ctx, EventBreakerReset,
		"Circuit breaker reset",
		"Order flow resumed after a successful probe.")
}

// RiskTripped reports a daily-limit trip with the drawdown picture at the
// moment of the trip.
func (n *Notifier) RiskTripped(ctx context.Context, st domain.RiskState) error {
	return n.Notify(ctx, EventRiskTripped,
		"Risk limits tripped",
		fmt.Sprintf("Scope %s halted: %s. Equity %.2f (peak %.2f, drawdown %.2f%%), %d trades today.",
			st.Scope, st.TripReason, st.Equity, st.PeakEquity, st.Drawdown()*100, st.DailyTrades))
}

// RiskReset reports an operator or day-roll reset of the risk guardian.
func (n *Notifier) RiskReset(ctx context.Context, scope, operator string) error {
	msg := fmt.Sprintf("Scope %s is trading again.", scope)
	if operator != "" {
		msg = fmt.Sprintf("Scope %s is trading again (reset by %s).", scope, operator)
	}
	return n.Notify(ctx, EventRiskReset, "Risk limits reset", msg)
}

// PositionOpened reports a filled entry.
func (n *Notifier) PositionOpened(ctx context.Context, p domain.Position) error {
	return n.Notify(ctx, EventPositionOpened,
		fmt.Sprintf("Opened %s %s", p.Direction, p.Symbol),
		fmt.Sprintf("%s via %s: %.6f @ %.2f (%.0fx, stop %.2f)",
			p.BotID, p.Strategy, p.Size(), p.AvgEntry(), p.Leverage, p.StopLoss))
}

// PositionClosed reports a terminal close with realized performance.
func (n *Notifier) PositionClosed(ctx context.Context, p domain.Position) error {
	return n.Notify(ctx, EventPositionClosed,
		fmt.Sprintf("Closed %s %s", p.Direction, p.Symbol),
		fmt.Sprintf("%s via %s: realized %+.2f (fees %.2f, funding %+.2f) after %s",
			p.BotID, p.Strategy, p.RealizedPnL, p.FeesPaid, p.FundingPnL, holdTime(p)))
}

// PositionErrored reports a position parked in the error state for manual
// intervention.
func (n *Notifier) PositionErrored(ctx context.Context, p domain.Position) error {
	return n.Notify(ctx, EventPositionError,
		fmt.Sprintf("Position error on %s", p.Symbol),
		fmt.Sprintf("%s (position %s) needs attention: %s", p.BotID, p.ID, p.StatusNote))
}

// Opportunities reports the pick of a basis scan, best first.
func (n *Notifier) Opportunities(ctx context.Context, ops []domain.BasisOpportunity) error {
	if len(ops) == 0 {
		return nil
	}
	const top = 3
	if len(ops) > top {
		ops = ops[:top]
	}

	var b strings.Builder
	for i, op := range ops {
		fmt.Fprintf(&b, "%d. %s/%s %.3f%% basis, %.1f%% annualized (%s)\n",
			i+1, op.SpotSymbol, op.FuturesSymbol, op.BasisPercent, op.AnnualizedReturn*100, op.Type)
	}
	return n.Notify(ctx, EventOpportunity, "Basis opportunities", strings.TrimRight(b.String(), "\n"))
}

func holdTime(p domain.Position) time.Duration {
	if p.ClosedAt == nil {
		return 0
	}
	return p.ClosedAt.Sub(p.OpenedAt).Round(time.Second)
}
