// Package strategy contains the built-in signal generators. Every generator
// is a deterministic pure function of its candle window: the same window
// always produces the same signal (or the same absence of one).
package strategy

import (
	"fmt"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
)

// Requirements declares what a generator needs before it can be evaluated.
type Requirements struct {
	// Interval is the candle interval the generator was built for.
	Interval domain.Interval
	// MinCandles is the warm-up length. Generate returns
	// domain.ErrInsufficientData for shorter windows.
	MinCandles int
	// NeedsOrderbook marks generators whose confirmation context must include
	// an orderbook snapshot.
	NeedsOrderbook bool
}

// Generator produces trade signals from a rolling candle window.
//
// Implementations must be pure: no clocks, no randomness, no I/O. A nil
// signal with a nil error means "no signal on this bar" and is the common
// case.
type Generator interface {
	Name() string
	Requirements() Requirements
	Generate(symbol string, window []domain.Candle) (*domain.Signal, error)
}

// checkWarmup returns ErrInsufficientData when the window is shorter than the
// generator's declared minimum.
func checkWarmup(name string, window []domain.Candle, min int) error {
	if len(window) < min {
		return fmt.Errorf("%s: %w: have %d candles, need %d", name, domain.ErrInsufficientData, len(window), min)
	}
	return nil
}

// closeTime returns the close timestamp of the window's last candle.
func closeTime(window []domain.Candle, interval domain.Interval) time.Time {
	return window[len(window)-1].OpenTime.Add(interval.Duration())
}

// newSignal assembles and validates a signal for the window's closing bar.
// Identity and timestamps derive from the bar itself so that re-running the
// same window yields an identical signal.
func newSignal(
	name, symbol string,
	dir domain.Direction,
	interval domain.Interval,
	window []domain.Candle,
	entry, stop float64,
	takeProfits []domain.TakeProfitLevel,
	confidence float64,
	reason string,
) (*domain.Signal, error) {
	closedAt := closeTime(window, interval)
	sig := &domain.Signal{
		ID:          fmt.Sprintf("%s-%s-%s-%d", name, dir, symbol, closedAt.Unix()),
		Symbol:      symbol,
		Direction:   dir,
		Strategy:    name,
		Entry:       entry,
		StopLoss:    stop,
		TakeProfits: takeProfits,
		Confidence:  confidence,
		Reason:      reason,
		CreatedAt:   closedAt,
		ExpiresAt:   closedAt.Add(interval.Duration()),
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return sig, nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
