// Package risk implements the account-level guardian. It is the single
// serialization point shared by every bot pipeline: all entry and scale-in
// approvals pass through one mutex-guarded Check, so a fill update and a
// concurrent entry decision can never race. Trips are sticky; only an
// explicit operator reset clears the breaker.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// FlagSource reports active manipulation flags for a symbol.
type FlagSource interface {
	ActiveFlags(symbol string, now time.Time) []domain.ManipulationFlag
}

// Sink receives the risk state after every change, plus the audit event
// when the change produced one. Implementers persist, cache, notify.
type Sink func(ctx context.Context, state domain.RiskState, ev *domain.RiskEvent)

// Proposal describes risk a pipeline wants to add.
type Proposal struct {
	BotID    string
	Symbol   string
	Notional float64
	ScaleIn  bool
}

// Guardian guards account-level limits across all pipelines.
type Guardian struct {
	cfg    config.RiskConfig
	flags  FlagSource
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state domain.RiskState
}

// NewGuardian creates a guardian seeded from config. flags and sink may be
// nil.
func NewGuardian(cfg config.RiskConfig, flags FlagSource, sink Sink, logger *slog.Logger) *Guardian {
	return &Guardian{
		cfg:    cfg,
		flags:  flags,
		sink:   sink,
		logger: logger.With(slog.String("component", "risk")),
		now:    func() time.Time { return time.Now().UTC() },
		state: domain.RiskState{
			Scope:      cfg.Scope,
			Equity:     cfg.InitialEquity,
			PeakEquity: cfg.InitialEquity,
		},
	}
}

// SetClock overrides the guardian's clock, for replay and tests.
func (g *Guardian) SetClock(now func() time.Time) {
	g.now = now
}

// Restore adopts persisted state, keeping the configured scope. A restored
// trip stays tripped.
func (g *Guardian) Restore(state domain.RiskState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state.Scope = g.cfg.Scope
	g.state = state
	g.logger.Info("risk state restored",
		slog.Int("daily_trades", state.DailyTrades),
		slog.Float64("equity", state.Equity),
		slog.Bool("tripped", state.Tripped),
	)
}

// State returns a copy of the current risk state.
func (g *Guardian) State() domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Check approves or vetoes a proposed entry. Trip conditions are evaluated
// first match wins: breaker already tripped, manipulation flag on the
// symbol, daily trade budget, drawdown, then the per-trade notional cap.
// Breaching the daily budget or the drawdown limit trips the breaker;
// manipulation and notional vetoes reject only the one proposal.
func (g *Guardian) Check(ctx context.Context, p Proposal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.rollDayLocked(now)

	if g.state.Tripped {
		return g.rejectLocked(ctx, p, domain.TriggerBreakerTripped, g.state.TripReason)
	}
	if g.flags != nil {
		if active := g.flags.ActiveFlags(p.Symbol, now); len(active) > 0 {
			detail := fmt.Sprintf("%s flag active on %s until %s",
				active[0].Kind, p.Symbol, active[0].ExpiresAt.Format(time.RFC3339))
			return g.rejectLocked(ctx, p, domain.TriggerManipulation, detail)
		}
	}
	if g.cfg.MaxDailyTrades > 0 && g.state.DailyTrades >= g.cfg.MaxDailyTrades {
		detail := fmt.Sprintf("%d trades today, limit %d", g.state.DailyTrades, g.cfg.MaxDailyTrades)
		g.tripLocked(ctx, domain.TriggerMaxDailyTrades, detail)
		return g.rejectLocked(ctx, p, domain.TriggerMaxDailyTrades, detail)
	}
	if dd := g.state.Drawdown() * 100; g.cfg.MaxDrawdownPercent > 0 && dd >= g.cfg.MaxDrawdownPercent {
		detail := fmt.Sprintf("drawdown %.2f%%, limit %.2f%%", dd, g.cfg.MaxDrawdownPercent)
		g.tripLocked(ctx, domain.TriggerMaxDrawdown, detail)
		return g.rejectLocked(ctx, p, domain.TriggerMaxDrawdown, detail)
	}
	if g.cfg.MaxNotional > 0 && p.Notional > g.cfg.MaxNotional {
		detail := fmt.Sprintf("notional %.2f exceeds cap %.2f", p.Notional, g.cfg.MaxNotional)
		return g.rejectLocked(ctx, p, domain.TriggerMaxNotional, detail)
	}
	return nil
}

// CheckScaleIn satisfies the position manager's re-approval hook.
func (g *Guardian) CheckScaleIn(ctx context.Context, botID, symbol string, notional float64) error {
	return g.Check(ctx, Proposal{BotID: botID, Symbol: symbol, Notional: notional, ScaleIn: true})
}

// RecordFill books a confirmed fill into the daily counter. Only initial
// entry fills count as trades; scale-ins extend an existing trade and
// reduces close one.
func (g *Guardian) RecordFill(ctx context.Context, fill domain.Fill) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(g.now())
	if fill.Role != domain.FillRoleInitial {
		return
	}
	g.state.DailyTrades++
	g.state.UpdatedAt = g.now()
	g.logger.Info("trade recorded",
		slog.Int("daily_trades", g.state.DailyTrades),
		slog.Int("limit", g.cfg.MaxDailyTrades),
	)
	g.emitLocked(ctx, nil)
}

// MarkEquity updates equity, ratchets the peak, and trips the breaker when
// drawdown from peak breaches the configured limit.
func (g *Guardian) MarkEquity(ctx context.Context, equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(g.now())
	g.state.Equity = equity
	if equity > g.state.PeakEquity {
		g.state.PeakEquity = equity
	}
	g.state.UpdatedAt = g.now()

	if dd := g.state.Drawdown() * 100; g.cfg.MaxDrawdownPercent > 0 && !g.state.Tripped && dd >= g.cfg.MaxDrawdownPercent {
		g.tripLocked(ctx, domain.TriggerMaxDrawdown,
			fmt.Sprintf("drawdown %.2f%%, limit %.2f%%", dd, g.cfg.MaxDrawdownPercent))
		return
	}
	g.emitLocked(ctx, nil)
}

// Trip forces the breaker open, for operator use and tests.
func (g *Guardian) Trip(ctx context.Context, trigger, detail string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Tripped {
		return
	}
	g.tripLocked(ctx, trigger, detail)
}

// Reset clears a tripped breaker. It is the only way to resume entries and
// is always attributed to an operator with a reason.
func (g *Guardian) Reset(ctx context.Context, operator, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.Tripped {
		return fmt.Errorf("risk breaker for scope %s is not tripped", g.state.Scope)
	}
	if operator == "" {
		return fmt.Errorf("risk reset requires an operator")
	}
	now := g.now()
	g.state.Tripped = false
	g.state.TripReason = ""
	g.state.TrippedAt = nil
	g.state.UpdatedAt = now

	ev := &domain.RiskEvent{
		Scope:     g.state.Scope,
		Kind:      domain.RiskEventReset,
		Detail:    reason,
		Operator:  operator,
		CreatedAt: now,
	}
	g.logger.Warn("risk breaker reset",
		slog.String("operator", operator),
		slog.String("reason", reason),
	)
	g.emitLocked(ctx, ev)
	return nil
}

// rollDayLocked zeroes the daily counter on the first touch of a new UTC
// day. The breaker is deliberately left alone.
func (g *Guardian) rollDayLocked(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if g.state.Day.Equal(day) {
		return
	}
	if !g.state.Day.IsZero() {
		g.logger.Info("daily trade counter reset",
			slog.Time("day", day),
			slog.Int("previous_count", g.state.DailyTrades),
		)
	}
	g.state.Day = day
	g.state.DailyTrades = 0
}

func (g *Guardian) tripLocked(ctx context.Context, trigger, detail string) {
	now := g.now()
	g.state.Tripped = true
	g.state.TripReason = trigger
	g.state.TrippedAt = &now
	g.state.UpdatedAt = now

	ev := &domain.RiskEvent{
		Scope:     g.state.Scope,
		Kind:      domain.RiskEventTrip,
		Trigger:   trigger,
		Detail:    detail,
		CreatedAt: now,
	}
	g.logger.Error("risk breaker tripped",
		slog.String("trigger", trigger),
		slog.String("detail", detail),
	)
	g.emitLocked(ctx, ev)
}

func (g *Guardian) rejectLocked(ctx context.Context, p Proposal, trigger, detail string) error {
	kind := "entry"
	if p.ScaleIn {
		kind = "scale-in"
	}
	g.logger.Warn("proposal rejected",
		slog.String("kind", kind),
		slog.String("bot_id", p.BotID),
		slog.String("symbol", p.Symbol),
		slog.Float64("notional", p.Notional),
		slog.String("trigger", trigger),
		slog.String("detail", detail),
	)
	g.emitLocked(ctx, &domain.RiskEvent{
		Scope:     g.state.Scope,
		Kind:      domain.RiskEventRejection,
		Trigger:   trigger,
		Detail:    detail,
		CreatedAt: g.now(),
	})
	return &domain.RiskRejection{Trigger: trigger, Detail: detail}
}

func (g *Guardian) emitLocked(ctx context.Context, ev *domain.RiskEvent) {
	if g.sink == nil {
		return
	}
	g.sink(ctx, g.state, ev)
}
