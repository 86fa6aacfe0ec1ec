package domain

import (
	"fmt"
	"time"
)

// Risk rejection triggers, named so rejections are attributable.
const (
	TriggerBreakerTripped = "breakerTripped"
	TriggerMaxDailyTrades = "maxDailyTrades"
	TriggerMaxDrawdown    = "maxDrawdown"
	TriggerManipulation   = "manipulation"
	TriggerMaxNotional    = "maxNotional"
)

// RiskState is the per-account risk aggregate. The daily counter resets at
// the UTC day boundary; the circuit breaker never clears on its own.
type RiskState struct {
	Scope       string    // account or bot group this state guards
	Day         time.Time // UTC midnight of the counting day
	DailyTrades int
	Equity      float64
	PeakEquity  float64
	Tripped     bool
	TripReason  string
	TrippedAt   *time.Time
	UpdatedAt   time.Time
}

// Drawdown returns (peak − equity) / peak, or 0 before any equity mark.
func (s RiskState) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	dd := (s.PeakEquity - s.Equity) / s.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// RiskRejection is returned when the guardian vetoes a proposed entry.
// Trigger names the first matching trip condition.
type RiskRejection struct {
	Trigger string
	Detail  string
}

func (r *RiskRejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("risk rejected: %s", r.Trigger)
	}
	return fmt.Sprintf("risk rejected: %s (%s)", r.Trigger, r.Detail)
}

// Unwrap lets errors.Is match ErrRiskTripped.
func (r *RiskRejection) Unwrap() error {
	return ErrRiskTripped
}

// RiskEventKind classifies persisted risk events.
type RiskEventKind string

const (
	RiskEventTrip      RiskEventKind = "trip"
	RiskEventReset     RiskEventKind = "reset"
	RiskEventRejection RiskEventKind = "rejection"
)

// RiskEvent is an audit record of a guardian decision or state change.
type RiskEvent struct {
	ID        int64
	Scope     string
	Kind      RiskEventKind
	Trigger   string
	Detail    string
	Operator  string // set on resets
	CreatedAt time.Time
}
