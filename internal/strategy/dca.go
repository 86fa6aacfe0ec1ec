package strategy

import (
	"fmt"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultDCAInterval  = 24 * time.Hour
	defaultDCARSIPeriod = 14
	defaultDCARSIMax    = 45.0
	defaultDCAStop      = 20.0
	dcaTargetPercent    = 20.0
)

// DCA accumulates long on a fixed schedule, skipping bars where RSI says the
// market is already running hot. Schedule bars are chosen by epoch-aligned
// bar index, so the same bar produces the same decision regardless of how the
// window slid to reach it.
type DCA struct {
	interval  domain.Interval
	everyBars int
	rsiPeriod int
	rsiMax    float64
	stopPct   float64
}

// NewDCA builds a DCA generator, filling zero params with defaults.
func NewDCA(interval domain.Interval, p config.DCAParams) (*DCA, error) {
	if p.Interval.Duration == 0 {
		p.Interval.Duration = defaultDCAInterval
	}
	if p.RSIPeriod == 0 {
		p.RSIPeriod = defaultDCARSIPeriod
	}
	if p.RSIMax == 0 {
		p.RSIMax = defaultDCARSIMax
	}
	if p.StopPercent == 0 {
		p.StopPercent = defaultDCAStop
	}

	barDur := interval.Duration()
	if barDur <= 0 {
		return nil, fmt.Errorf("dca: unknown candle interval %q", interval)
	}
	if p.Interval.Duration < barDur {
		return nil, fmt.Errorf("dca: interval %s is shorter than one %s candle", p.Interval.Duration, interval)
	}
	if p.RSIPeriod < 2 {
		return nil, fmt.Errorf("dca: rsi_period must be >= 2, got %d", p.RSIPeriod)
	}
	if p.RSIMax <= 0 || p.RSIMax >= 100 {
		return nil, fmt.Errorf("dca: rsi_max must be in (0,100), got %f", p.RSIMax)
	}
	if p.StopPercent <= 0 || p.StopPercent >= 100 {
		return nil, fmt.Errorf("dca: stop_percent must be in (0,100), got %f", p.StopPercent)
	}

	return &DCA{
		interval:  interval,
		everyBars: int(p.Interval.Duration / barDur),
		rsiPeriod: p.RSIPeriod,
		rsiMax:    p.RSIMax,
		stopPct:   p.StopPercent,
	}, nil
}

func (d *DCA) Name() string { return "dca" }

func (d *DCA) Requirements() Requirements {
	return Requirements{Interval: d.interval, MinCandles: d.rsiPeriod + 1}
}

func (d *DCA) Generate(symbol string, window []domain.Candle) (*domain.Signal, error) {
	if err := checkWarmup(d.Name(), window, d.Requirements().MinCandles); err != nil {
		return nil, err
	}

	last := window[len(window)-1]
	barDur := d.interval.Duration()
	barIndex := last.OpenTime.Unix() / int64(barDur/time.Second)
	if barIndex%int64(d.everyBars) != 0 {
		return nil, nil
	}

	rsi := RSI(Closes(window), d.rsiPeriod)
	lastRSI := rsi[len(rsi)-1]
	if lastRSI >= d.rsiMax {
		return nil, nil
	}

	entry := last.Close
	stop := entry * (1 - d.stopPct/100)
	tps := []domain.TakeProfitLevel{{Price: entry * (1 + dcaTargetPercent/100), Allocation: 1.0}}
	confidence := clamp(0.5+(d.rsiMax-lastRSI)/100, 0.5, 0.85)
	reason := fmt.Sprintf("scheduled accumulation, rsi %.1f under %.1f", lastRSI, d.rsiMax)

	return newSignal(d.Name(), symbol, domain.DirectionLong, d.interval, window, entry, stop, tps, confidence, reason)
}
