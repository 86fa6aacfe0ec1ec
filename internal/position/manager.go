// Package position owns the lifecycle of live positions: pending entry,
// fills, scale-ins, trailing stops, partial take-profits and the close path.
// A Manager is confined to its bot's pipeline goroutine; it never locks.
// All money math is derived from the fill list on domain.Position so a
// position rebuilt from persisted fills behaves identically to the live one.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// cancelTimeout bounds the best-effort cancel of a timed-out entry order.
const cancelTimeout = 5 * time.Second

// RiskChecker approves additional exposure before a scale-in order is sent.
// Entry orders are risk-checked upstream by the engine; scale-ins add risk
// after that check and must be re-approved.
type RiskChecker interface {
	CheckScaleIn(ctx context.Context, botID, symbol string, notional float64) error
}

// Sink receives a snapshot after every observable state change. Implementers
// persist, cache, publish; they must treat the snapshot as read-only.
type Sink func(ctx context.Context, pos domain.Position)

// Manager drives one bot's position state machine.
type Manager struct {
	bot     config.BotConfig
	adapter domain.ExecutionAdapter
	risk    RiskChecker
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time

	position *domain.Position
}

// NewManager creates a manager for one bot. risk and sink may be nil.
func NewManager(bot config.BotConfig, adapter domain.ExecutionAdapter, risk RiskChecker, sink Sink, logger *slog.Logger) *Manager {
	return &Manager{
		bot:     bot,
		adapter: adapter,
		risk:    risk,
		sink:    sink,
		logger:  logger.With(slog.String("component", "position"), slog.String("bot_id", bot.ID)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager's clock, for replay and tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Current returns a copy of the live position, if any.
func (m *Manager) Current() (domain.Position, bool) {
	if m.position == nil {
		return domain.Position{}, false
	}
	return m.snapshot(), true
}

// Live reports whether the manager holds a non-terminal position.
func (m *Manager) Live() bool {
	return m.position != nil && !m.position.Status.Terminal()
}

// Adopt resumes management of a persisted position after a restart. A
// position caught mid-flight is settled first: a pending entry is cancelled
// and closed, while Scaling/Closing fall back to Open so the next tick
// re-drives the order with the same idempotent client ID.
func (m *Manager) Adopt(pos domain.Position) error {
	if m.Live() {
		return fmt.Errorf("bot %s already manages position %s: %w", m.bot.ID, m.position.ID, domain.ErrAlreadyExists)
	}
	if pos.Status.Terminal() {
		return fmt.Errorf("position %s is %s: %w", pos.ID, pos.Status, domain.ErrPositionClosed)
	}
	m.position = &pos
	log := m.logger.With(slog.String("position_id", pos.ID))

	switch pos.Status {
	case domain.PositionPendingEntry:
		m.cancelPendingEntry(log, &pos, pos.PendingOrderID, "pending entry cancelled on restart")
		return nil
	case domain.PositionScaling, domain.PositionClosing:
		_ = pos.Transition(domain.PositionOpen)
		pos.PendingOrderID = ""
	}
	log.Info("position adopted",
		slog.String("status", string(pos.Status)),
		slog.Float64("size", pos.Size()),
	)
	return nil
}

// OpenFromSignal creates a pending position from an accepted signal and
// places the entry order. The returned position reflects the outcome: Open
// on a confirmed (possibly partial) fill, Closed when the entry timed out
// and was cancelled, Errored on rejection. An error return means nothing
// was attempted.
func (m *Manager) OpenFromSignal(ctx context.Context, sig domain.Signal, qty float64) (domain.Position, error) {
	if m.Live() {
		return domain.Position{}, fmt.Errorf("bot %s already has live position %s: %w", m.bot.ID, m.position.ID, domain.ErrAlreadyExists)
	}
	if qty <= 0 {
		return domain.Position{}, fmt.Errorf("bot %s: entry quantity %f must be positive", m.bot.ID, qty)
	}
	now := m.now()
	if sig.Expired(now) {
		return domain.Position{}, fmt.Errorf("signal %s expired at %s: %w", sig.ID, sig.ExpiresAt.Format(time.RFC3339), domain.ErrSignalExpired)
	}

	leverage := m.bot.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	targets := make([]domain.TakeProfitTarget, len(sig.TakeProfits))
	for i, tp := range sig.TakeProfits {
		targets[i] = domain.TakeProfitTarget{Price: tp.Price, Allocation: tp.Allocation}
	}
	pos := &domain.Position{
		ID:          uuid.New().String(),
		BotID:       m.bot.ID,
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		Direction:   sig.Direction,
		Strategy:    sig.Strategy,
		Leverage:    leverage,
		TakeProfits: targets,
		StopLoss:    sig.StopLoss,
		InitialStop: sig.StopLoss,
		Status:      domain.PositionPendingEntry,
		UpdatedAt:   now,
	}
	clientID := pos.ID + "-entry"
	pos.PendingOrderID = clientID
	m.position = pos
	m.emit(ctx)

	log := m.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)
	log.Info("entry order placing", slog.Float64("quantity", qty), slog.Float64("entry", sig.Entry))

	octx := ctx
	if t := m.bot.EntryTimeout.Duration; t > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	res, err := m.adapter.PlaceOrder(octx, domain.OrderRequest{
		ClientOrderID: clientID,
		Symbol:        sig.Symbol,
		Side:          domain.SideFor(sig.Direction),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
	})

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// Entry timed out: cancel and close without ever opening.
		m.cancelPendingEntry(log, pos, clientID, "entry not filled within timeout")

	case err != nil:
		// Outcome unknown; freeze for reconciliation rather than guess.
		m.freeze(ctx, fmt.Sprintf("entry order failed: %v", err))
		log.Error("entry order failed", slog.String("error", err.Error()))

	case !res.Success:
		m.freeze(ctx, fmt.Sprintf("entry rejected: %s", res.Message))
		log.Warn("entry order rejected", slog.String("message", res.Message))

	case res.FilledQty <= 0:
		m.cancelPendingEntry(log, pos, clientID, "entry order returned no fill")

	default:
		_ = pos.ApplyFill(domain.Fill{
			OrderID:   res.OrderID,
			Price:     res.AvgPrice,
			Quantity:  res.FilledQty,
			Fee:       res.Fee,
			Role:      domain.FillRoleInitial,
			Timestamp: m.now(),
		})
		_ = pos.Transition(domain.PositionOpen)
		pos.OpenedAt = m.now()
		pos.PendingOrderID = ""
		pos.MarkPrice = res.AvgPrice
		if res.Partial(qty) {
			log.Warn("entry partially filled, sizing to actual fill",
				slog.Float64("requested", qty),
				slog.Float64("filled", res.FilledQty),
			)
		}
		log.Info("position opened",
			slog.Float64("size", pos.Size()),
			slog.Float64("avg_entry", pos.AvgEntry()),
			slog.Float64("stop", pos.StopLoss),
		)
	}

	m.emit(ctx)
	return m.snapshot(), nil
}

// cancelPendingEntry cancels an unfilled entry and closes the position as
// never-opened. A failed cancel freezes the position instead, because the
// order may still fill.
func (m *Manager) cancelPendingEntry(log *slog.Logger, pos *domain.Position, clientID, note string) {
	cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := m.adapter.CancelOrder(cctx, pos.Symbol, clientID); err != nil {
		pos.StatusNote = fmt.Sprintf("%s; cancel failed: %v", note, err)
		_ = pos.Transition(domain.PositionErrored)
		log.Error("entry cancel failed", slog.String("error", err.Error()))
		return
	}
	now := m.now()
	pos.StatusNote = note
	pos.PendingOrderID = ""
	pos.ClosedAt = &now
	_ = pos.Transition(domain.PositionClosed)
	log.Warn("pending entry cancelled", slog.String("note", note))
}

// OnTick advances the live position against a fresh ticker: trailing-stop
// ratchet, stop-loss, take-profit ladder and pyramiding, in that order.
func (m *Manager) OnTick(ctx context.Context, t domain.Ticker) {
	p := m.position
	if p == nil || p.Status.Terminal() || p.Status == domain.PositionPendingEntry {
		return
	}
	if t.Symbol != p.Symbol {
		return
	}
	mark := markOf(t)
	if mark <= 0 {
		return
	}

	p.MarkPrice = mark
	p.UnrealizedPnL = p.UnrealizedAt(mark)
	p.UpdatedAt = t.Timestamp

	m.ratchetTrailing(p, mark)

	if stopTouched(p, mark) {
		reason := "stop_loss"
		if p.TrailingActivated {
			reason = "trailing_stop"
		}
		m.closePortion(ctx, p.Size(), reason, -1)
		m.emit(ctx)
		return
	}

	for i := range p.TakeProfits {
		tp := &p.TakeProfits[i]
		if tp.Consumed || !targetTouched(p, mark, tp.Price) {
			continue
		}
		qty := m.entryQty() * tp.Allocation
		tp.Consumed = true
		if p.RemainingAllocation() <= 1e-9 || qty > p.Size() {
			qty = p.Size()
		}
		m.closePortion(ctx, qty, fmt.Sprintf("take_profit_%d", i+1), i)
		if m.position == nil || m.position.Status.Terminal() {
			m.emit(ctx)
			return
		}
	}

	m.tryPyramid(ctx, p, mark)
	m.emit(ctx)
}

// OnFunding books a funding transfer into the live position.
func (m *Manager) OnFunding(ctx context.Context, f domain.FundingRate) {
	p := m.position
	if p == nil || p.Status.Terminal() || p.Status == domain.PositionPendingEntry || f.Symbol != p.Symbol {
		return
	}
	mark := p.MarkPrice
	if mark <= 0 {
		mark = p.AvgEntry()
	}
	p.AccrueFunding(f.Rate, mark)
	p.UpdatedAt = m.now()
	m.emit(ctx)
}

// ForceClose exits the live position at market, recording the reason. Used
// by the risk guardian and by operators; pending entries are cancelled.
func (m *Manager) ForceClose(ctx context.Context, reason string) error {
	p := m.position
	if p == nil || p.Status.Terminal() {
		return fmt.Errorf("bot %s has no live position: %w", m.bot.ID, domain.ErrNotFound)
	}
	log := m.logger.With(slog.String("position_id", p.ID))
	if p.Status == domain.PositionPendingEntry {
		m.cancelPendingEntry(log, p, p.PendingOrderID, reason)
		m.emit(ctx)
		return nil
	}
	log.Warn("force closing position", slog.String("reason", reason))
	p.StatusNote = reason
	m.closePortion(ctx, p.Size(), "forced: "+reason, -1)
	m.emit(ctx)
	if m.position.Status == domain.PositionErrored {
		return fmt.Errorf("force close of %s failed: %s", p.ID, p.StatusNote)
	}
	return nil
}

// closePortion places a reduce-only market order for qty and applies the
// result. The position passes through Closing while the order is in flight,
// then lands on Closed when flat or back on Open when size remains. Exit
// failures freeze the position: exposure is live and unmanaged retries are
// worse than an operator page.
func (m *Manager) closePortion(ctx context.Context, qty float64, reason string, tpIndex int) {
	p := m.position
	if qty <= 0 {
		return
	}
	if qty > p.Size() {
		qty = p.Size()
	}
	clientID := exitOrderID(p, tpIndex)
	log := m.logger.With(
		slog.String("position_id", p.ID),
		slog.String("reason", reason),
		slog.String("client_order_id", clientID),
	)
	if err := p.Transition(domain.PositionClosing); err != nil {
		log.Error("close transition rejected", slog.String("error", err.Error()))
		return
	}
	p.PendingOrderID = clientID
	m.emit(ctx)

	res, err := m.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: clientID,
		Symbol:        p.Symbol,
		Side:          domain.SideFor(p.Direction.Opposite()),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ReduceOnly:    true,
	})
	if err != nil {
		m.freeze(ctx, fmt.Sprintf("exit order failed: %v", err))
		log.Error("exit order failed", slog.String("error", err.Error()))
		return
	}
	if !res.Success {
		m.freeze(ctx, fmt.Sprintf("exit rejected: %s", res.Message))
		log.Error("exit order rejected", slog.String("message", res.Message))
		return
	}

	fillQty := res.FilledQty
	if fillQty > qty {
		fillQty = qty
	}
	if fillQty > 0 {
		_ = p.ApplyFill(domain.Fill{
			OrderID:   res.OrderID,
			Price:     res.AvgPrice,
			Quantity:  fillQty,
			Fee:       res.Fee,
			Role:      domain.FillRoleReduce,
			Timestamp: m.now(),
		})
		p.UnrealizedPnL = p.UnrealizedAt(p.MarkPrice)
	}
	p.PendingOrderID = ""

	if p.Flat() {
		now := m.now()
		p.ClosedAt = &now
		_ = p.Transition(domain.PositionClosed)
		log.Info("position closed",
			slog.Float64("exit_price", res.AvgPrice),
			slog.Float64("realized_pnl", p.RealizedPnL),
			slog.Float64("funding_pnl", p.FundingPnL),
			slog.Float64("fees", p.FeesPaid),
		)
		return
	}

	_ = p.Transition(domain.PositionOpen)
	if res.Partial(qty) {
		log.Warn("exit partially filled, remainder stays managed",
			slog.Float64("requested", qty),
			slog.Float64("filled", res.FilledQty),
		)
	}
	log.Info("position reduced",
		slog.Float64("closed_qty", fillQty),
		slog.Float64("remaining", p.Size()),
		slog.Float64("realized_pnl", p.RealizedPnL),
	)
}

// ratchetTrailing activates the trailing stop once unrealized gain, measured
// against deployed margin, clears the activation threshold, then ratchets
// the stop behind the favorable watermark. The stop never loosens.
func (m *Manager) ratchetTrailing(p *domain.Position, mark float64) {
	if m.bot.TrailingActivationPercent <= 0 || m.bot.TrailingStopPercent <= 0 {
		return
	}
	if !p.TrailingActivated {
		if p.UnrealizedPercent(mark) < m.bot.TrailingActivationPercent {
			return
		}
		p.TrailingActivated = true
		p.WaterMark = mark
		m.logger.Info("trailing stop activated",
			slog.String("position_id", p.ID),
			slog.Float64("mark", mark),
			slog.Float64("gain_percent", p.UnrealizedPercent(mark)),
		)
	}

	if p.Direction == domain.DirectionLong {
		if mark > p.WaterMark {
			p.WaterMark = mark
		}
		stop := p.WaterMark * (1 - m.bot.TrailingStopPercent/100)
		if stop > p.StopLoss {
			p.StopLoss = stop
		}
		return
	}
	if mark < p.WaterMark {
		p.WaterMark = mark
	}
	stop := p.WaterMark * (1 + m.bot.TrailingStopPercent/100)
	if stop < p.StopLoss {
		p.StopLoss = stop
	}
}

// tryPyramid scales into a winner when the favorable move from the first
// fill passes the next step threshold. Each add is re-risk-checked; a veto
// or a failed order returns the position to Open untouched, to be retried
// on a later tick if conditions still hold.
func (m *Manager) tryPyramid(ctx context.Context, p *domain.Position, mark float64) {
	if !m.bot.EnablePyramiding || p.Status != domain.PositionOpen {
		return
	}
	if p.PyramidLevel >= m.bot.MaxPyramidLevels || m.bot.PyramidStepPercent <= 0 || len(p.Fills) == 0 {
		return
	}
	base := p.Fills[0].Price
	movePct := (mark - base) / base * p.Direction.Sign() * 100
	if movePct < m.bot.PyramidStepPercent*float64(p.PyramidLevel+1) {
		return
	}

	qty := p.Fills[0].Quantity
	log := m.logger.With(
		slog.String("position_id", p.ID),
		slog.Int("level", p.PyramidLevel+1),
	)
	if m.risk != nil {
		if err := m.risk.CheckScaleIn(ctx, p.BotID, p.Symbol, qty*mark); err != nil {
			log.Warn("scale-in vetoed", slog.String("error", err.Error()))
			return
		}
	}

	clientID := fmt.Sprintf("%s-scale-%d", p.ID, p.PyramidLevel+1)
	if err := p.Transition(domain.PositionScaling); err != nil {
		return
	}
	p.PendingOrderID = clientID
	m.emit(ctx)

	res, err := m.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: clientID,
		Symbol:        p.Symbol,
		Side:          domain.SideFor(p.Direction),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
	})
	p.PendingOrderID = ""
	if err != nil || !res.Success || res.FilledQty <= 0 {
		_ = p.Transition(domain.PositionOpen)
		msg := "no fill"
		if err != nil {
			msg = err.Error()
		} else if res.Message != "" {
			msg = res.Message
		}
		log.Warn("scale-in order failed, keeping position as-is", slog.String("error", msg))
		return
	}

	_ = p.ApplyFill(domain.Fill{
		OrderID:   res.OrderID,
		Price:     res.AvgPrice,
		Quantity:  res.FilledQty,
		Fee:       res.Fee,
		Role:      domain.FillRoleScaleIn,
		Timestamp: m.now(),
	})
	p.PyramidLevel++
	_ = p.Transition(domain.PositionOpen)
	log.Info("scaled in",
		slog.Float64("added_qty", res.FilledQty),
		slog.Float64("avg_entry", p.AvgEntry()),
		slog.Float64("size", p.Size()),
	)
}

// freeze moves the position to Errored for manual reconciliation.
func (m *Manager) freeze(ctx context.Context, note string) {
	p := m.position
	p.StatusNote = note
	p.PendingOrderID = ""
	_ = p.Transition(domain.PositionErrored)
	m.emit(ctx)
}

// entryQty is the total entry-side quantity, the base for TP allocations.
func (m *Manager) entryQty() float64 {
	var qty float64
	for _, f := range m.position.Fills {
		if f.Role != domain.FillRoleReduce {
			qty += f.Quantity
		}
	}
	return qty
}

func (m *Manager) emit(ctx context.Context) {
	if m.sink == nil || m.position == nil {
		return
	}
	m.sink(ctx, m.snapshot())
}

// snapshot deep-copies the live position so sinks and callers can hold it
// across further mutations.
func (m *Manager) snapshot() domain.Position {
	p := *m.position
	p.Fills = append([]domain.Fill(nil), m.position.Fills...)
	p.TakeProfits = append([]domain.TakeProfitTarget(nil), m.position.TakeProfits...)
	return p
}

// exitOrderID derives an idempotent client order ID for the current exit
// intent. The fill count suffix makes a retry after a partial fill a new
// order while an unfilled retry reuses the previous one.
func exitOrderID(p *domain.Position, tpIndex int) string {
	if tpIndex >= 0 {
		return fmt.Sprintf("%s-tp%d-%d", p.ID, tpIndex+1, len(p.Fills))
	}
	return fmt.Sprintf("%s-exit-%d", p.ID, len(p.Fills))
}

func stopTouched(p *domain.Position, mark float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Direction == domain.DirectionLong {
		return mark <= p.StopLoss
	}
	return mark >= p.StopLoss
}

func targetTouched(p *domain.Position, mark, target float64) bool {
	if p.Direction == domain.DirectionLong {
		return mark >= target
	}
	return mark <= target
}

// markOf picks the best available mark: venue mark price, then midpoint,
// then last trade.
func markOf(t domain.Ticker) float64 {
	if t.MarkPrice > 0 {
		return t.MarkPrice
	}
	return t.Mid()
}
