package strategy

import (
	"fmt"
	"math"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultBreakoutRange   = 20
	defaultBreakoutVolume  = 20
	defaultBreakoutVolMult = 2.0
	defaultBreakoutStop    = 2.0
	defaultBreakoutTarget  = 4.0
)

// Breakout trades closes through the prior range when volume confirms the
// move. The range and volume baselines deliberately exclude the breakout bar
// itself.
type Breakout struct {
	interval  domain.Interval
	rangeN    int
	volumeN   int
	volMult   float64
	stopPct   float64
	targetPct float64
}

// NewBreakout builds a volume-breakout generator, filling zero params with
// defaults.
func NewBreakout(interval domain.Interval, p config.BreakoutParams) (*Breakout, error) {
	if p.RangePeriod == 0 {
		p.RangePeriod = defaultBreakoutRange
	}
	if p.VolumePeriod == 0 {
		p.VolumePeriod = defaultBreakoutVolume
	}
	if p.VolumeMultiplier == 0 {
		p.VolumeMultiplier = defaultBreakoutVolMult
	}
	if p.StopPercent == 0 {
		p.StopPercent = defaultBreakoutStop
	}
	if p.TargetPercent == 0 {
		p.TargetPercent = defaultBreakoutTarget
	}

	if p.RangePeriod < 2 || p.VolumePeriod < 2 {
		return nil, fmt.Errorf("breakout: range_period and volume_period must be >= 2, got %d/%d", p.RangePeriod, p.VolumePeriod)
	}
	if p.VolumeMultiplier < 1 {
		return nil, fmt.Errorf("breakout: volume_multiplier must be >= 1, got %f", p.VolumeMultiplier)
	}
	if p.StopPercent <= 0 || p.TargetPercent <= 0 {
		return nil, fmt.Errorf("breakout: stop_percent and target_percent must be > 0")
	}

	return &Breakout{
		interval:  interval,
		rangeN:    p.RangePeriod,
		volumeN:   p.VolumePeriod,
		volMult:   p.VolumeMultiplier,
		stopPct:   p.StopPercent,
		targetPct: p.TargetPercent,
	}, nil
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) Requirements() Requirements {
	min := b.rangeN
	if b.volumeN > min {
		min = b.volumeN
	}
	return Requirements{Interval: b.interval, MinCandles: min + 1}
}

func (b *Breakout) Generate(symbol string, window []domain.Candle) (*domain.Signal, error) {
	if err := checkWarmup(b.Name(), window, b.Requirements().MinCandles); err != nil {
		return nil, err
	}

	n := len(window)
	prior := window[:n-1]
	last := window[n-1]

	var rangeHigh, rangeLow float64 = math.Inf(-1), math.Inf(1)
	for _, c := range prior[len(prior)-b.rangeN:] {
		rangeHigh = math.Max(rangeHigh, c.High)
		rangeLow = math.Min(rangeLow, c.Low)
	}

	var volSum float64
	for _, c := range prior[len(prior)-b.volumeN:] {
		volSum += c.Volume
	}
	avgVol := volSum / float64(b.volumeN)
	if avgVol <= 0 {
		return nil, nil
	}

	volRatio := last.Volume / avgVol
	if volRatio < b.volMult {
		return nil, nil
	}

	entry := last.Close
	confidence := clamp(0.5+(volRatio/b.volMult-1)*0.2, 0.5, 0.95)

	if entry > rangeHigh {
		stop := entry * (1 - b.stopPct/100)
		tps := []domain.TakeProfitLevel{
			{Price: entry * (1 + b.targetPct/200), Allocation: 0.5},
			{Price: entry * (1 + b.targetPct/100), Allocation: 0.5},
		}
		reason := fmt.Sprintf("close %.4f over %d-bar high %.4f on %.1fx volume", entry, b.rangeN, rangeHigh, volRatio)
		return newSignal(b.Name(), symbol, domain.DirectionLong, b.interval, window, entry, stop, tps, confidence, reason)
	}

	if entry < rangeLow {
		stop := entry * (1 + b.stopPct/100)
		tps := []domain.TakeProfitLevel{
			{Price: entry * (1 - b.targetPct/200), Allocation: 0.5},
			{Price: entry * (1 - b.targetPct/100), Allocation: 0.5},
		}
		reason := fmt.Sprintf("close %.4f under %d-bar low %.4f on %.1fx volume", entry, b.rangeN, rangeLow, volRatio)
		return newSignal(b.Name(), symbol, domain.DirectionShort, b.interval, window, entry, stop, tps, confidence, reason)
	}

	return nil, nil
}
