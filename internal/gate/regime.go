package gate

import (
	"math"

	"github.com/dkwok94/stratcore/internal/domain"
)

// Regime classifies the recent character of a market.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)

const (
	// regimeLookback is how many closes feed the classifier.
	regimeLookback = 20
	// regimeTrendER is the Kaufman efficiency ratio above which price action
	// counts as trending.
	regimeTrendER = 0.35
	// regimeVolatileStd is the per-bar return standard deviation above which
	// the market counts as volatile regardless of direction.
	regimeVolatileStd = 0.03
)

// ClassifyRegime buckets the window into trending, ranging or volatile using
// the Kaufman efficiency ratio and realized per-bar volatility. Returns
// RegimeUnknown when the window is too short to judge.
func ClassifyRegime(window []domain.Candle) Regime {
	if len(window) < regimeLookback+1 {
		return RegimeUnknown
	}
	tail := window[len(window)-regimeLookback-1:]

	var pathLen float64
	returns := make([]float64, 0, regimeLookback)
	for i := 1; i < len(tail); i++ {
		prev, cur := tail[i-1].Close, tail[i].Close
		if prev <= 0 {
			return RegimeUnknown
		}
		pathLen += math.Abs(cur - prev)
		returns = append(returns, (cur-prev)/prev)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var varSum float64
	for _, r := range returns {
		d := r - mean
		varSum += d * d
	}
	retStd := math.Sqrt(varSum / float64(len(returns)-1))

	if retStd >= regimeVolatileStd {
		return RegimeVolatile
	}

	if pathLen == 0 {
		return RegimeRanging
	}
	net := math.Abs(tail[len(tail)-1].Close - tail[0].Close)
	if net/pathLen >= regimeTrendER {
		return RegimeTrending
	}
	return RegimeRanging
}
