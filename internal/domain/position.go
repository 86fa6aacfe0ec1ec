package domain

import (
	"fmt"
	"math"
	"time"
)

// PositionStatus tracks the position lifecycle.
type PositionStatus string

const (
	PositionPendingEntry PositionStatus = "pending_entry"
	PositionOpen         PositionStatus = "open"
	PositionScaling      PositionStatus = "scaling"
	PositionClosing      PositionStatus = "closing"
	PositionClosed       PositionStatus = "closed"
	PositionErrored      PositionStatus = "error"
)

// transitions is the set of legal status changes. Closed and Errored are
// terminal; Errored is additionally reachable from any non-terminal state.
var transitions = map[PositionStatus][]PositionStatus{
	PositionPendingEntry: {PositionOpen, PositionClosed},
	PositionOpen:         {PositionScaling, PositionClosing},
	PositionScaling:      {PositionOpen, PositionClosing},
	PositionClosing:      {PositionOpen, PositionClosed},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to PositionStatus) bool {
	if to == PositionErrored {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionClosed || s == PositionErrored
}

// FillRole classifies how a fill changes position size.
type FillRole string

const (
	FillRoleInitial FillRole = "initial"
	FillRoleScaleIn FillRole = "scale_in"
	FillRoleReduce  FillRole = "reduce"
)

// Fill is a single confirmed execution applied to a position.
// Quantity is always positive; the role determines its sign.
type Fill struct {
	OrderID   string
	Price     float64
	Quantity  float64
	Fee       float64
	Role      FillRole
	Timestamp time.Time
}

// SignedQuantity returns the fill's contribution to position size.
func (f Fill) SignedQuantity() float64 {
	if f.Role == FillRoleReduce {
		return -f.Quantity
	}
	return f.Quantity
}

// TakeProfitTarget is one rung of a position's take-profit ladder.
// Consumed flips exactly once, when the level's allocation has been closed.
type TakeProfitTarget struct {
	Price      float64
	Allocation float64
	Consumed   bool
}

// Position is the mutable aggregate for one trade, owned by a single bot
// pipeline. Size and average entry are always derived from the fill list so
// a position reconstructed from its fills is identical to the live one.
type Position struct {
	ID        string
	BotID     string
	SignalID  string
	Symbol    string
	Direction Direction
	Strategy  string
	Leverage  float64

	Fills       []Fill
	TakeProfits []TakeProfitTarget

	StopLoss    float64
	InitialStop float64

	// Trailing stop state. WaterMark is the best favorable mark price seen
	// since activation (highest for longs, lowest for shorts).
	TrailingActivated bool
	WaterMark         float64

	PyramidLevel int

	// PendingOrderID is the client order ID of the in-flight entry, scale-in
	// or exit order while the position sits in a pending sub-state.
	PendingOrderID string

	// RealizedPnL is kept net of fees and funding at all times: every fill
	// deducts its own fee and funding accrues in as it is captured.
	RealizedPnL   float64
	UnrealizedPnL float64
	FundingPnL    float64
	FeesPaid      float64
	MarkPrice     float64

	Status     PositionStatus
	StatusNote string // populated on Errored and forced closes
	OpenedAt   time.Time
	ClosedAt   *time.Time
	UpdatedAt  time.Time
}

// Size returns the live position size: the sum of fill quantities signed by
// role. Never negative for a well-formed fill sequence.
func (p *Position) Size() float64 {
	var size float64
	for _, f := range p.Fills {
		size += f.SignedQuantity()
	}
	return size
}

// AvgEntry returns the fill-quantity-weighted average price across entry
// fills (initial and scale-in). Reduce fills do not move the average.
func (p *Position) AvgEntry() float64 {
	var notional, qty float64
	for _, f := range p.Fills {
		if f.Role == FillRoleReduce {
			continue
		}
		notional += f.Price * f.Quantity
		qty += f.Quantity
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// Notional returns the current exposure at average entry.
func (p *Position) Notional() float64 {
	return p.Size() * p.AvgEntry()
}

// Margin returns the capital actually deployed, i.e. notional over leverage.
func (p *Position) Margin() float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.Notional() / lev
}

// UnrealizedAt returns the unrealized PnL at the given mark price.
func (p *Position) UnrealizedAt(mark float64) float64 {
	return (mark - p.AvgEntry()) * p.Size() * p.Direction.Sign()
}

// UnrealizedPercent returns unrealized PnL as a percentage of deployed
// capital, i.e. the price move percentage times leverage.
func (p *Position) UnrealizedPercent(mark float64) float64 {
	entry := p.AvgEntry()
	if entry == 0 {
		return 0
	}
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return (mark - entry) / entry * p.Direction.Sign() * lev * 100
}

// Transition moves the position to a new status, enforcing the state machine.
func (p *Position) Transition(to PositionStatus) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("position %s: %s -> %s: %w", p.ID, p.Status, to, ErrInvalidTransition)
	}
	p.Status = to
	return nil
}

// ApplyFill appends a confirmed fill and updates derived money fields.
// Reduce fills realize (price − avg entry) × qty × direction, net of the
// fill's fee; entry fills deduct their fee from realized PnL immediately so
// RealizedPnL is net at every observation point.
func (p *Position) ApplyFill(f Fill) error {
	if p.Status.Terminal() {
		return fmt.Errorf("position %s is %s: %w", p.ID, p.Status, ErrPositionClosed)
	}
	if f.Quantity <= 0 {
		return fmt.Errorf("position %s: fill quantity %f must be positive", p.ID, f.Quantity)
	}
	if f.Role == FillRoleReduce {
		size := p.Size()
		if f.Quantity > size+1e-9 {
			return fmt.Errorf("position %s: reduce %f exceeds size %f", p.ID, f.Quantity, size)
		}
		p.RealizedPnL += (f.Price-p.AvgEntry())*f.Quantity*p.Direction.Sign() - f.Fee
	} else {
		p.RealizedPnL -= f.Fee
	}
	p.FeesPaid += f.Fee
	p.Fills = append(p.Fills, f)
	p.UpdatedAt = f.Timestamp
	return nil
}

// AccrueFunding books a funding payment into the position. Longs pay a
// positive rate, shorts receive it; the transfer lands in both FundingPnL
// and RealizedPnL so realized stays net of funding.
func (p *Position) AccrueFunding(rate, markPrice float64) {
	payment := -p.Direction.Sign() * rate * p.Size() * markPrice
	p.FundingPnL += payment
	p.RealizedPnL += payment
}

// Flat reports whether the live size is zero within float tolerance.
func (p *Position) Flat() bool {
	return math.Abs(p.Size()) < 1e-9
}

// RemainingAllocation returns the take-profit allocation not yet consumed.
func (p *Position) RemainingAllocation() float64 {
	remaining := 1.0
	for _, tp := range p.TakeProfits {
		if tp.Consumed {
			remaining -= tp.Allocation
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}
