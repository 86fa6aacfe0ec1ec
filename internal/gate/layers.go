package gate

import (
	"fmt"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
)

// gateVolumeLookback is the baseline length for the volume layer.
const gateVolumeLookback = 20

// Context is the microstructure snapshot a layer evaluates a signal against.
// Fields a caller could not populate stay nil; layers treat missing inputs as
// failed confirmation, never as a pass.
type Context struct {
	Window []domain.Candle
	Ticker *domain.Ticker
	Book   *domain.OrderbookSnapshot
	Flags  []domain.ManipulationFlag
	// Now anchors flag-expiry checks and the result timestamp, injected so
	// evaluation is replayable.
	Now time.Time
}

// Layer is one independent confirmation check. Implementations are pure:
// identical signal and context always yield the identical result.
type Layer interface {
	Name() string
	Weight() float64
	Evaluate(sig domain.Signal, ctx Context) domain.LayerResult
}

// inconclusive builds the fail-closed result for a layer that is missing the
// inputs it needs.
func inconclusive(name string, weight float64, what string) domain.LayerResult {
	return domain.LayerResult{
		Layer:     name,
		Passed:    false,
		Weight:    weight,
		Score:     0,
		Rationale: fmt.Sprintf("%v: %s", domain.ErrLayerInconclusive, what),
	}
}

// ---------------------------------------------------------------------------
// risk/reward
// ---------------------------------------------------------------------------

type riskRewardLayer struct {
	weight float64
	minRR  float64
}

// NewRiskRewardLayer requires the signal's ladder to pay at least minRR times
// its stop distance.
func NewRiskRewardLayer(weight, minRR float64) Layer {
	return &riskRewardLayer{weight: weight, minRR: minRR}
}

func (l *riskRewardLayer) Name() string    { return "risk_reward" }
func (l *riskRewardLayer) Weight() float64 { return l.weight }

func (l *riskRewardLayer) Evaluate(sig domain.Signal, _ Context) domain.LayerResult {
	rr := sig.RiskReward()
	if rr == 0 {
		return inconclusive(l.Name(), l.weight, "signal has no stop distance or no targets")
	}
	score := clampScore(50 + (rr-l.minRR)/l.minRR*50)
	return domain.LayerResult{
		Layer:     l.Name(),
		Passed:    rr >= l.minRR,
		Weight:    l.weight,
		Score:     score,
		Rationale: fmt.Sprintf("reward/risk %.2f vs %.2f required", rr, l.minRR),
	}
}

// ---------------------------------------------------------------------------
// spread
// ---------------------------------------------------------------------------

type spreadLayer struct {
	weight float64
	maxBps float64
}

// NewSpreadLayer rejects entries into a book wider than maxBps.
func NewSpreadLayer(weight, maxBps float64) Layer {
	return &spreadLayer{weight: weight, maxBps: maxBps}
}

func (l *spreadLayer) Name() string    { return "spread" }
func (l *spreadLayer) Weight() float64 { return l.weight }

func (l *spreadLayer) Evaluate(_ domain.Signal, ctx Context) domain.LayerResult {
	if ctx.Ticker == nil || ctx.Ticker.Bid <= 0 || ctx.Ticker.Ask <= 0 {
		return inconclusive(l.Name(), l.weight, "no two-sided quote")
	}
	mid := ctx.Ticker.Mid()
	spreadBps := ctx.Ticker.Spread() / mid * 10_000
	score := clampScore(100 - spreadBps/l.maxBps*50)
	return domain.LayerResult{
		Layer:     l.Name(),
		Passed:    spreadBps <= l.maxBps,
		Weight:    l.weight,
		Score:     score,
		Rationale: fmt.Sprintf("spread %.2f bps vs %.2f allowed", spreadBps, l.maxBps),
	}
}

// ---------------------------------------------------------------------------
// orderflow imbalance
// ---------------------------------------------------------------------------

// imbalanceDepth is how many book levels per side feed the imbalance layer.
const imbalanceDepth = 5

type imbalanceLayer struct {
	weight float64
	minImb float64
}

// NewImbalanceLayer requires top-of-book volume to lean toward the signal's
// direction by at least minImb.
func NewImbalanceLayer(weight, minImb float64) Layer {
	return &imbalanceLayer{weight: weight, minImb: minImb}
}

func (l *imbalanceLayer) Name() string    { return "imbalance" }
func (l *imbalanceLayer) Weight() float64 { return l.weight }

func (l *imbalanceLayer) Evaluate(sig domain.Signal, ctx Context) domain.LayerResult {
	if ctx.Book == nil || (len(ctx.Book.Bids) == 0 && len(ctx.Book.Asks) == 0) {
		return inconclusive(l.Name(), l.weight, "no orderbook snapshot")
	}
	aligned := ctx.Book.Imbalance(imbalanceDepth) * sig.Direction.Sign()
	score := clampScore(50 + aligned/l.minImb*25)
	return domain.LayerResult{
		Layer:     l.Name(),
		Passed:    aligned >= l.minImb,
		Weight:    l.weight,
		Score:     score,
		Rationale: fmt.Sprintf("book leans %.3f with the trade vs %.3f required", aligned, l.minImb),
	}
}

// ---------------------------------------------------------------------------
// regime fit
// ---------------------------------------------------------------------------

// strategyRegimes maps strategy tags to the regime they are built for.
// Strategies not listed are regime-neutral.
var strategyRegimes = map[string]Regime{
	"trend":    RegimeTrending,
	"breakout": RegimeTrending,
	"meanrev":  RegimeRanging,
	"vwap":     RegimeRanging,
	"grid":     RegimeRanging,
}

type regimeLayer struct {
	weight float64
}

// NewRegimeLayer passes signals whose strategy matches the classified market
// regime. A volatile market fails every regime-bound strategy.
func NewRegimeLayer(weight float64) Layer {
	return &regimeLayer{weight: weight}
}

func (l *regimeLayer) Name() string    { return "regime" }
func (l *regimeLayer) Weight() float64 { return l.weight }

func (l *regimeLayer) Evaluate(sig domain.Signal, ctx Context) domain.LayerResult {
	regime := ClassifyRegime(ctx.Window)
	if regime == RegimeUnknown {
		return inconclusive(l.Name(), l.weight, "window too short to classify regime")
	}

	want, bound := strategyRegimes[sig.Strategy]
	if !bound {
		return domain.LayerResult{
			Layer:     l.Name(),
			Passed:    true,
			Weight:    l.weight,
			Score:     60,
			Rationale: fmt.Sprintf("strategy %s is regime-neutral (market %s)", sig.Strategy, regime),
		}
	}

	passed := regime == want
	score := 20.0
	if passed {
		score = 80
	}
	return domain.LayerResult{
		Layer:     l.Name(),
		Passed:    passed,
		Weight:    l.weight,
		Score:     score,
		Rationale: fmt.Sprintf("market %s, strategy %s wants %s", regime, sig.Strategy, want),
	}
}

// ---------------------------------------------------------------------------
// volume confirmation
// ---------------------------------------------------------------------------

type volumeLayer struct {
	weight  float64
	minMult float64
}

// NewVolumeLayer requires the signal bar's volume to run at least minMult
// times its trailing average.
func NewVolumeLayer(weight, minMult float64) Layer {
	return &volumeLayer{weight: weight, minMult: minMult}
}

func (l *volumeLayer) Name() string    { return "volume" }
func (l *volumeLayer) Weight() float64 { return l.weight }

func (l *volumeLayer) Evaluate(_ domain.Signal, ctx Context) domain.LayerResult {
	if len(ctx.Window) < gateVolumeLookback+1 {
		return inconclusive(l.Name(), l.weight, "window too short for a volume baseline")
	}
	n := len(ctx.Window)
	var sum float64
	for _, c := range ctx.Window[n-gateVolumeLookback-1 : n-1] {
		sum += c.Volume
	}
	avg := sum / gateVolumeLookback
	if avg <= 0 {
		return inconclusive(l.Name(), l.weight, "no baseline volume")
	}
	ratio := ctx.Window[n-1].Volume / avg
	score := clampScore(ratio / l.minMult * 50)
	return domain.LayerResult{
		Layer:     l.Name(),
		Passed:    ratio >= l.minMult,
		Weight:    l.weight,
		Score:     score,
		Rationale: fmt.Sprintf("volume %.2fx baseline vs %.2fx required", ratio, l.minMult),
	}
}

// ---------------------------------------------------------------------------
// manipulation veto
// ---------------------------------------------------------------------------

type manipulationLayer struct {
	weight float64
}

// NewManipulationLayer fails any signal on a symbol carrying an active
// pump/dump flag.
func NewManipulationLayer(weight float64) Layer {
	return &manipulationLayer{weight: weight}
}

func (l *manipulationLayer) Name() string    { return "manipulation" }
func (l *manipulationLayer) Weight() float64 { return l.weight }

func (l *manipulationLayer) Evaluate(sig domain.Signal, ctx Context) domain.LayerResult {
	for _, flag := range ctx.Flags {
		if flag.Symbol != sig.Symbol || !flag.Active(ctx.Now) {
			continue
		}
		return domain.LayerResult{
			Layer:     l.Name(),
			Passed:    false,
			Weight:    l.weight,
			Score:     0,
			Rationale: fmt.Sprintf("active %s flag (severity %.1f): %s", flag.Kind, flag.Severity, flag.Rationale),
		}
	}
	return domain.LayerResult{
		Layer:     l.Name(),
		Passed:    true,
		Weight:    l.weight,
		Score:     100,
		Rationale: "no active manipulation flags",
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
