package strategy

import (
	"fmt"
	"math"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultVWAPPeriod    = 20
	defaultVWAPDeviation = 1.0
	defaultVWAPStop      = 2.0
)

// VWAPRev fades closes that stretch a configured percentage away from the
// rolling VWAP, targeting a return to it.
type VWAPRev struct {
	interval     domain.Interval
	period       int
	deviationPct float64
	stopPct      float64
}

// NewVWAPRev builds a VWAP-reversion generator, filling zero params with
// defaults.
func NewVWAPRev(interval domain.Interval, p config.VWAPParams) (*VWAPRev, error) {
	if p.Period == 0 {
		p.Period = defaultVWAPPeriod
	}
	if p.DeviationPercent == 0 {
		p.DeviationPercent = defaultVWAPDeviation
	}
	if p.StopPercent == 0 {
		p.StopPercent = defaultVWAPStop
	}

	if p.Period < 2 {
		return nil, fmt.Errorf("vwap: period must be >= 2, got %d", p.Period)
	}
	if p.DeviationPercent <= 0 {
		return nil, fmt.Errorf("vwap: deviation_percent must be > 0")
	}
	if p.StopPercent <= 0 {
		return nil, fmt.Errorf("vwap: stop_percent must be > 0")
	}

	return &VWAPRev{
		interval:     interval,
		period:       p.Period,
		deviationPct: p.DeviationPercent,
		stopPct:      p.StopPercent,
	}, nil
}

func (v *VWAPRev) Name() string { return "vwap" }

func (v *VWAPRev) Requirements() Requirements {
	return Requirements{Interval: v.interval, MinCandles: v.period + 1}
}

func (v *VWAPRev) Generate(symbol string, window []domain.Candle) (*domain.Signal, error) {
	if err := checkWarmup(v.Name(), window, v.Requirements().MinCandles); err != nil {
		return nil, err
	}

	vwap := RollingVWAP(window, v.period)
	n := len(window)
	anchor := vwap[n-1]
	if math.IsNaN(anchor) || anchor <= 0 {
		return nil, nil
	}

	last := window[n-1].Close
	devPct := (last - anchor) / anchor * 100
	confidence := clamp(0.5+(math.Abs(devPct)-v.deviationPct)/v.deviationPct*0.2, 0.5, 0.9)
	tps := []domain.TakeProfitLevel{{Price: anchor, Allocation: 1.0}}

	if devPct <= -v.deviationPct {
		stop := last * (1 - v.stopPct/100)
		reason := fmt.Sprintf("close %.4f is %.2f%% under vwap %.4f", last, -devPct, anchor)
		return newSignal(v.Name(), symbol, domain.DirectionLong, v.interval, window, last, stop, tps, confidence, reason)
	}

	if devPct >= v.deviationPct {
		stop := last * (1 + v.stopPct/100)
		reason := fmt.Sprintf("close %.4f is %.2f%% over vwap %.4f", last, devPct, anchor)
		return newSignal(v.Name(), symbol, domain.DirectionShort, v.interval, window, last, stop, tps, confidence, reason)
	}

	return nil, nil
}
