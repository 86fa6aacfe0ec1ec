package strategy

import (
	"fmt"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultMeanRevPeriod     = 20
	defaultMeanRevStdDevs    = 2.0
	defaultMeanRevRSIPeriod  = 14
	defaultMeanRevOversold   = 30.0
	defaultMeanRevOverbought = 70.0
	defaultMeanRevStop       = 3.0
)

// MeanRev fades moves that close outside the Bollinger bands while RSI
// confirms the stretch. Targets ladder back to the middle and far bands.
type MeanRev struct {
	interval   domain.Interval
	period     int
	stdDevs    float64
	rsiPeriod  int
	oversold   float64
	overbought float64
	stopPct    float64
}

// NewMeanRev builds a mean-reversion generator, filling zero params with
// defaults.
func NewMeanRev(interval domain.Interval, p config.MeanRevParams) (*MeanRev, error) {
	if p.Period == 0 {
		p.Period = defaultMeanRevPeriod
	}
	if p.StdDevs == 0 {
		p.StdDevs = defaultMeanRevStdDevs
	}
	if p.RSIPeriod == 0 {
		p.RSIPeriod = defaultMeanRevRSIPeriod
	}
	if p.RSIOversold == 0 {
		p.RSIOversold = defaultMeanRevOversold
	}
	if p.RSIOverbought == 0 {
		p.RSIOverbought = defaultMeanRevOverbought
	}
	if p.StopPercent == 0 {
		p.StopPercent = defaultMeanRevStop
	}

	if p.Period < 2 {
		return nil, fmt.Errorf("meanrev: period must be >= 2, got %d", p.Period)
	}
	if p.StdDevs <= 0 {
		return nil, fmt.Errorf("meanrev: std_devs must be > 0")
	}
	if p.RSIPeriod < 2 {
		return nil, fmt.Errorf("meanrev: rsi_period must be >= 2, got %d", p.RSIPeriod)
	}
	if p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought {
		return nil, fmt.Errorf("meanrev: need 0 < rsi_oversold < rsi_overbought < 100, got %.1f/%.1f", p.RSIOversold, p.RSIOverbought)
	}
	if p.StopPercent <= 0 {
		return nil, fmt.Errorf("meanrev: stop_percent must be > 0")
	}

	return &MeanRev{
		interval:   interval,
		period:     p.Period,
		stdDevs:    p.StdDevs,
		rsiPeriod:  p.RSIPeriod,
		oversold:   p.RSIOversold,
		overbought: p.RSIOverbought,
		stopPct:    p.StopPercent,
	}, nil
}

func (m *MeanRev) Name() string { return "meanrev" }

func (m *MeanRev) Requirements() Requirements {
	min := m.period
	if m.rsiPeriod+1 > min {
		min = m.rsiPeriod + 1
	}
	return Requirements{Interval: m.interval, MinCandles: min + 1}
}

func (m *MeanRev) Generate(symbol string, window []domain.Candle) (*domain.Signal, error) {
	if err := checkWarmup(m.Name(), window, m.Requirements().MinCandles); err != nil {
		return nil, err
	}

	closes := Closes(window)
	upper, middle, lower := Bollinger(closes, m.period, m.stdDevs)
	rsi := RSI(closes, m.rsiPeriod)

	n := len(closes)
	last := closes[n-1]
	bandWidth := upper[n-1] - lower[n-1]
	if bandWidth <= 0 {
		return nil, nil
	}

	// Oversold close below the lower band: fade long back toward the mean.
	if last < lower[n-1] && rsi[n-1] < m.oversold {
		penetration := (lower[n-1] - last) / bandWidth
		confidence := clamp(0.55+penetration+(m.oversold-rsi[n-1])/200, 0.55, 0.95)
		stop := last * (1 - m.stopPct/100)
		tps := []domain.TakeProfitLevel{
			{Price: middle[n-1], Allocation: 0.6},
			{Price: upper[n-1], Allocation: 0.4},
		}
		reason := fmt.Sprintf("close %.4f under lower band %.4f, rsi %.1f < %.1f", last, lower[n-1], rsi[n-1], m.oversold)
		return newSignal(m.Name(), symbol, domain.DirectionLong, m.interval, window, last, stop, tps, confidence, reason)
	}

	// Overbought close above the upper band: fade short.
	if last > upper[n-1] && rsi[n-1] > m.overbought {
		penetration := (last - upper[n-1]) / bandWidth
		confidence := clamp(0.55+penetration+(rsi[n-1]-m.overbought)/200, 0.55, 0.95)
		stop := last * (1 + m.stopPct/100)
		tps := []domain.TakeProfitLevel{
			{Price: middle[n-1], Allocation: 0.6},
			{Price: lower[n-1], Allocation: 0.4},
		}
		reason := fmt.Sprintf("close %.4f over upper band %.4f, rsi %.1f > %.1f", last, upper[n-1], rsi[n-1], m.overbought)
		return newSignal(m.Name(), symbol, domain.DirectionShort, m.interval, window, last, stop, tps, confidence, reason)
	}

	return nil, nil
}
