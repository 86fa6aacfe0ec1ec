// Package argus watches minute candles for pump/dump behavior. A symbol is
// flagged when its short-window cumulative return sits far outside the
// baseline distribution AND volume runs a multiple of its baseline average.
// Flags carry a TTL; while one is active the confirmation gate and the risk
// guardian both veto new entries on that symbol.
package argus

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// argusMaxZ caps the z-score when the baseline has zero variance, so a jump
// out of a perfectly flat tape still produces a finite, loggable score.
const argusMaxZ = 100.0

// Detector keeps a rolling window per symbol and flags anomalous moves.
// Detection is deterministic on the observed candles; the only state is the
// windows themselves and the latest flag per symbol.
type Detector struct {
	cfg    config.ArgusConfig
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string][]domain.Candle
	flags   map[string]domain.ManipulationFlag
}

// New creates a detector with the given thresholds.
func New(cfg config.ArgusConfig, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "argus")),
		windows: make(map[string][]domain.Candle),
		flags:   make(map[string]domain.ManipulationFlag),
	}
}

// Observe feeds one closed candle into the symbol's window and returns the
// flag it raised, or nil. Candles must arrive in OpenTime order per symbol;
// stale or duplicate candles are ignored.
func (d *Detector) Observe(c domain.Candle) *domain.ManipulationFlag {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.windows[c.Symbol]
	if n := len(w); n > 0 && !c.OpenTime.After(w[n-1].OpenTime) {
		return nil
	}
	w = append(w, c)
	if limit := d.cfg.BaselineWindow + d.cfg.ReturnWindow; len(w) > limit {
		w = w[len(w)-limit:]
	}
	d.windows[c.Symbol] = w

	if len(w) < d.cfg.BaselineWindow+d.cfg.ReturnWindow {
		return nil
	}

	z, volRatio := d.score(w)
	if math.Abs(z) < d.cfg.ZScoreThreshold || volRatio < d.cfg.VolumeRatioThreshold {
		return nil
	}

	kind := domain.FlagPump
	if z < 0 {
		kind = domain.FlagDump
	}
	closedAt := c.OpenTime.Add(c.Interval.Duration())
	movePct := moveReturn(w, d.cfg.ReturnWindow) * 100
	flag := domain.ManipulationFlag{
		Symbol:     c.Symbol,
		Kind:       kind,
		Severity:   severity(z/d.cfg.ZScoreThreshold, volRatio/d.cfg.VolumeRatioThreshold),
		Rationale:  fmt.Sprintf("%+.2f%% move in %d bars (z %.1f) on %.1fx volume", movePct, d.cfg.ReturnWindow, z, volRatio),
		DetectedAt: closedAt,
		ExpiresAt:  closedAt.Add(d.cfg.FlagTTL.Duration),
	}

	prev, had := d.flags[c.Symbol]
	d.flags[c.Symbol] = flag
	if !had || !prev.Active(closedAt) {
		d.logger.Warn("manipulation flag raised",
			slog.String("symbol", flag.Symbol),
			slog.String("kind", string(flag.Kind)),
			slog.Float64("severity", flag.Severity),
			slog.String("rationale", flag.Rationale),
			slog.Time("expires_at", flag.ExpiresAt),
		)
	}
	return &flag
}

// ActiveFlags returns the symbol's flags still in force at now. Expired
// flags are pruned as a side effect.
func (d *Detector) ActiveFlags(symbol string, now time.Time) []domain.ManipulationFlag {
	d.mu.Lock()
	defer d.mu.Unlock()

	flag, ok := d.flags[symbol]
	if !ok {
		return nil
	}
	if !flag.Active(now) {
		delete(d.flags, symbol)
		return nil
	}
	return []domain.ManipulationFlag{flag}
}

// AllActive returns every flag in force at now, for the status surface.
func (d *Detector) AllActive(now time.Time) []domain.ManipulationFlag {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []domain.ManipulationFlag
	for sym, flag := range d.flags {
		if !flag.Active(now) {
			delete(d.flags, sym)
			continue
		}
		out = append(out, flag)
	}
	return out
}

// score computes the move z-score against the baseline return distribution
// and the move-window volume ratio against the baseline average.
func (d *Detector) score(w []domain.Candle) (z, volRatio float64) {
	k := d.cfg.ReturnWindow
	split := len(w) - k

	// Per-bar returns over the baseline segment.
	returns := make([]float64, 0, split-1)
	for i := 1; i < split; i++ {
		prev := w[i-1].Close
		if prev <= 0 {
			return 0, 0
		}
		returns = append(returns, (w[i].Close-prev)/prev)
	}
	mean, std := meanStd(returns)

	move := moveReturn(w, k)
	expected := mean * float64(k)
	spread := std * math.Sqrt(float64(k))
	switch {
	case spread > 0:
		z = (move - expected) / spread
		z = math.Max(-argusMaxZ, math.Min(argusMaxZ, z))
	case move > expected:
		z = argusMaxZ
	case move < expected:
		z = -argusMaxZ
	}

	var baseVol, moveVol float64
	for i, c := range w {
		if i < split {
			baseVol += c.Volume
		} else {
			moveVol += c.Volume
		}
	}
	baseAvg := baseVol / float64(split)
	if baseAvg <= 0 {
		return z, 0
	}
	volRatio = (moveVol / float64(k)) / baseAvg
	return z, volRatio
}

// moveReturn is the cumulative return over the last k bars.
func moveReturn(w []domain.Candle, k int) float64 {
	start := w[len(w)-k-1].Close
	if start <= 0 {
		return 0
	}
	return (w[len(w)-1].Close - start) / start
}

func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var varSum float64
	for _, v := range vals {
		d := v - mean
		varSum += d * d
	}
	return mean, math.Sqrt(varSum / float64(len(vals)-1))
}

// severity maps how far past both thresholds the move ran onto [0,1].
// Exactly at threshold scores 0.5; double both thresholds saturates at 1.
func severity(zRatio, volRatio float64) float64 {
	s := (math.Abs(zRatio) + volRatio) / 4
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
