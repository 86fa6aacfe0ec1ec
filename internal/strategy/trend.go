package strategy

import (
	"fmt"
	"math"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultTrendFast   = 9
	defaultTrendSlow   = 21
	defaultTrendStop   = 3.0
	defaultTrendTarget = 6.0
)

// Trend trades EMA crossovers filtered by the slope of the slow EMA, so a
// cross inside a flat chop is ignored.
type Trend struct {
	interval    domain.Interval
	fast        int
	slow        int
	stopPct     float64
	targetPct   float64
	minSlopePct float64
}

// NewTrend builds a trend generator, filling zero params with defaults.
func NewTrend(interval domain.Interval, p config.TrendParams) (*Trend, error) {
	if p.FastPeriod == 0 {
		p.FastPeriod = defaultTrendFast
	}
	if p.SlowPeriod == 0 {
		p.SlowPeriod = defaultTrendSlow
	}
	if p.StopPercent == 0 {
		p.StopPercent = defaultTrendStop
	}
	if p.TargetPercent == 0 {
		p.TargetPercent = defaultTrendTarget
	}

	if p.FastPeriod < 2 || p.SlowPeriod <= p.FastPeriod {
		return nil, fmt.Errorf("trend: need 2 <= fast_period < slow_period, got %d/%d", p.FastPeriod, p.SlowPeriod)
	}
	if p.StopPercent <= 0 || p.TargetPercent <= 0 {
		return nil, fmt.Errorf("trend: stop_percent and target_percent must be > 0")
	}
	if p.MinSlopePercent < 0 {
		return nil, fmt.Errorf("trend: min_slope_percent must not be negative")
	}

	return &Trend{
		interval:    interval,
		fast:        p.FastPeriod,
		slow:        p.SlowPeriod,
		stopPct:     p.StopPercent,
		targetPct:   p.TargetPercent,
		minSlopePct: p.MinSlopePercent,
	}, nil
}

func (t *Trend) Name() string { return "trend" }

func (t *Trend) Requirements() Requirements {
	return Requirements{Interval: t.interval, MinCandles: t.slow + 2}
}

func (t *Trend) Generate(symbol string, window []domain.Candle) (*domain.Signal, error) {
	if err := checkWarmup(t.Name(), window, t.Requirements().MinCandles); err != nil {
		return nil, err
	}

	closes := Closes(window)
	fast := EMA(closes, t.fast)
	slow := EMA(closes, t.slow)

	n := len(closes)
	slopePct := (slow[n-1] - slow[n-2]) / slow[n-2] * 100
	entry := closes[n-1]
	confidence := clamp(0.55+math.Abs(slopePct)*0.1, 0.55, 0.9)

	if CrossOver(fast, slow) && slopePct >= t.minSlopePct {
		stop := entry * (1 - t.stopPct/100)
		tps := []domain.TakeProfitLevel{
			{Price: entry * (1 + t.targetPct/200), Allocation: 0.5},
			{Price: entry * (1 + t.targetPct/100), Allocation: 0.5},
		}
		reason := fmt.Sprintf("ema %d/%d bullish cross, slow slope %.3f%%", t.fast, t.slow, slopePct)
		return newSignal(t.Name(), symbol, domain.DirectionLong, t.interval, window, entry, stop, tps, confidence, reason)
	}

	if CrossUnder(fast, slow) && slopePct <= -t.minSlopePct {
		stop := entry * (1 + t.stopPct/100)
		tps := []domain.TakeProfitLevel{
			{Price: entry * (1 - t.targetPct/200), Allocation: 0.5},
			{Price: entry * (1 - t.targetPct/100), Allocation: 0.5},
		}
		reason := fmt.Sprintf("ema %d/%d bearish cross, slow slope %.3f%%", t.fast, t.slow, slopePct)
		return newSignal(t.Name(), symbol, domain.DirectionShort, t.interval, window, entry, stop, tps, confidence, reason)
	}

	return nil, nil
}
