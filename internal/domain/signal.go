package domain

import (
	"fmt"
	"math"
	"time"
)

// Direction is the side of a position or signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short, used in PnL arithmetic.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Valid reports whether the direction is long or short.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// TakeProfitLevel is one rung of a signal's take-profit ladder.
// Allocation is the fraction of position size to close at this level.
type TakeProfitLevel struct {
	Price      float64
	Allocation float64
}

// Signal is an immutable trade candidate produced by a generator.
// It is consumed exactly once by the confirmation gate and never mutated.
type Signal struct {
	ID          string // UUID for dedup and client order IDs
	Symbol      string
	Direction   Direction
	Strategy    string
	Entry       float64
	StopLoss    float64
	TakeProfits []TakeProfitLevel
	SizeHint    float64 // suggested size in base units, 0 lets sizing decide
	Confidence  float64 // [0,1]
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the signal is past its expiry at the given time.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// RiskPerUnit returns the absolute distance between entry and stop.
func (s Signal) RiskPerUnit() float64 {
	return math.Abs(s.Entry - s.StopLoss)
}

// RiskReward returns the allocation-weighted reward vs. risk ratio.
// Returns 0 when the signal has no stop distance or no targets.
func (s Signal) RiskReward() float64 {
	risk := s.RiskPerUnit()
	if risk == 0 || len(s.TakeProfits) == 0 {
		return 0
	}
	var reward, alloc float64
	for _, tp := range s.TakeProfits {
		reward += math.Abs(tp.Price-s.Entry) * tp.Allocation
		alloc += tp.Allocation
	}
	if alloc == 0 {
		return 0
	}
	return reward / alloc / risk
}

// Validate checks structural consistency of a candidate signal.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal missing symbol")
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("signal %s: invalid direction %q", s.Symbol, s.Direction)
	}
	if s.Entry <= 0 {
		return fmt.Errorf("signal %s: entry must be positive, got %f", s.Symbol, s.Entry)
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("signal %s: stop must be positive, got %f", s.Symbol, s.StopLoss)
	}
	if s.Direction == DirectionLong && s.StopLoss >= s.Entry {
		return fmt.Errorf("signal %s: long stop %f must be below entry %f", s.Symbol, s.StopLoss, s.Entry)
	}
	if s.Direction == DirectionShort && s.StopLoss <= s.Entry {
		return fmt.Errorf("signal %s: short stop %f must be above entry %f", s.Symbol, s.StopLoss, s.Entry)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %f outside [0,1]", s.Symbol, s.Confidence)
	}
	var alloc float64
	for i, tp := range s.TakeProfits {
		if tp.Price <= 0 {
			return fmt.Errorf("signal %s: take-profit %d has non-positive price", s.Symbol, i)
		}
		if s.Direction == DirectionLong && tp.Price <= s.Entry {
			return fmt.Errorf("signal %s: long take-profit %d at %f not above entry %f", s.Symbol, i, tp.Price, s.Entry)
		}
		if s.Direction == DirectionShort && tp.Price >= s.Entry {
			return fmt.Errorf("signal %s: short take-profit %d at %f not below entry %f", s.Symbol, i, tp.Price, s.Entry)
		}
		if tp.Allocation <= 0 || tp.Allocation > 1 {
			return fmt.Errorf("signal %s: take-profit %d allocation %f outside (0,1]", s.Symbol, i, tp.Allocation)
		}
		alloc += tp.Allocation
	}
	if alloc > 1+1e-9 {
		return fmt.Errorf("signal %s: take-profit allocations sum to %f > 1", s.Symbol, alloc)
	}
	return nil
}
