package strategy

import (
	"math"

	"github.com/dkwok94/stratcore/internal/domain"
)

// Indicator helpers. Every function returns a series aligned with its input;
// positions without enough history hold NaN.

// Closes extracts the close series from a candle window.
func Closes(window []domain.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from a candle window.
func Volumes(window []domain.Candle) []float64 {
	out := make([]float64, len(window))
	for i, c := range window {
		out[i] = c.Volume
	}
	return out
}

// SMA computes the simple moving average over period samples.
func SMA(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period {
		return out
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= period {
			sum -= vals[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average with alpha = 2/(period+1),
// seeded from the first sample.
func EMA(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing
// (alpha = 1/period). The first period positions are NaN. A window with no
// losses reads 100, one with no gains reads 0.
func RSI(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period+1 {
		return out
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(vals); i++ {
		delta := vals[i] - vals[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}
		if i < period {
			continue
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// Bollinger computes Bollinger bands: an SMA middle band with upper and lower
// bands stdDevs sample standard deviations away.
func Bollinger(vals []float64, period int, stdDevs float64) (upper, middle, lower []float64) {
	middle = SMA(vals, period)
	std := StdDev(vals, period)
	upper = nanSeries(len(vals))
	lower = nanSeries(len(vals))
	for i := range vals {
		if math.IsNaN(middle[i]) || math.IsNaN(std[i]) {
			continue
		}
		upper[i] = middle[i] + stdDevs*std[i]
		lower[i] = middle[i] - stdDevs*std[i]
	}
	return upper, middle, lower
}

// StdDev computes the rolling sample standard deviation over period samples.
func StdDev(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 1 || len(vals) < period {
		return out
	}
	for i := period - 1; i < len(vals); i++ {
		win := vals[i-period+1 : i+1]
		var sum float64
		for _, v := range win {
			sum += v
		}
		mean := sum / float64(period)
		var varSum float64
		for _, v := range win {
			d := v - mean
			varSum += d * d
		}
		out[i] = math.Sqrt(varSum / float64(period-1))
	}
	return out
}

// ATR computes the average true range as an SMA of the true range series.
func ATR(window []domain.Candle, period int) []float64 {
	if len(window) == 0 {
		return nil
	}
	tr := make([]float64, len(window))
	tr[0] = window[0].High - window[0].Low
	for i := 1; i < len(window); i++ {
		c := window[i]
		prevClose := window[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return SMA(tr, period)
}

// RollingVWAP computes the volume-weighted average price of the trailing
// period candles, using (high+low+close)/3 as the typical price.
func RollingVWAP(window []domain.Candle, period int) []float64 {
	out := nanSeries(len(window))
	if period <= 0 || len(window) < period {
		return out
	}
	pv := make([]float64, len(window))
	vol := make([]float64, len(window))
	for i, c := range window {
		typical := (c.High + c.Low + c.Close) / 3
		pv[i] = typical * c.Volume
		vol[i] = c.Volume
	}
	var pvSum, volSum float64
	for i := range window {
		pvSum += pv[i]
		volSum += vol[i]
		if i >= period {
			pvSum -= pv[i-period]
			volSum -= vol[i-period]
		}
		if i >= period-1 && volSum > 0 {
			out[i] = pvSum / volSum
		}
	}
	return out
}

// Highest returns the rolling maximum of vals over period samples.
func Highest(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period {
		return out
	}
	for i := period - 1; i < len(vals); i++ {
		max := vals[i-period+1]
		for _, v := range vals[i-period+2 : i+1] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

// Lowest returns the rolling minimum of vals over period samples.
func Lowest(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period {
		return out
	}
	for i := period - 1; i < len(vals); i++ {
		min := vals[i-period+1]
		for _, v := range vals[i-period+2 : i+1] {
			if v < min {
				min = v
			}
		}
		out[i] = min
	}
	return out
}

// CrossOver reports whether series a crossed above series b on the last bar:
// a was at or below b on the previous bar and is above it now.
func CrossOver(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	if anyNaN(a[n-2], a[n-1], b[n-2], b[n-1]) {
		return false
	}
	return a[n-2] <= b[n-2] && a[n-1] > b[n-1]
}

// CrossUnder reports whether series a crossed below series b on the last bar.
func CrossUnder(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	if anyNaN(a[n-2], a[n-1], b[n-2], b[n-1]) {
		return false
	}
	return a[n-2] >= b[n-2] && a[n-1] < b[n-1]
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
