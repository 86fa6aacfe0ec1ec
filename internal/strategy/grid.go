package strategy

import (
	"fmt"
	"math"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultGridLevels    = 10
	defaultGridSpacing   = 1.0
	defaultGridTolerance = 0.1
	defaultGridAnchor    = 50
)

// Grid lays a ladder of rungs around a moving anchor and trades touches:
// rungs below the anchor buy, rungs above sell, each targeting the next rung
// back toward the anchor. The ladder is recomputed from the window every bar
// rather than pinned at start-up, so the grid drifts with the anchor.
type Grid struct {
	interval   domain.Interval
	levels     int
	spacingPct float64
	tolPct     float64
	anchorN    int
}

// NewGrid builds a grid generator, filling zero params with defaults.
func NewGrid(interval domain.Interval, p config.GridParams) (*Grid, error) {
	if p.Levels == 0 {
		p.Levels = defaultGridLevels
	}
	if p.SpacingPercent == 0 {
		p.SpacingPercent = defaultGridSpacing
	}
	if p.TolerancePercent == 0 {
		p.TolerancePercent = defaultGridTolerance
	}
	if p.AnchorPeriod == 0 {
		p.AnchorPeriod = defaultGridAnchor
	}

	if p.Levels < 2 {
		return nil, fmt.Errorf("grid: levels must be >= 2, got %d", p.Levels)
	}
	if p.SpacingPercent <= 0 {
		return nil, fmt.Errorf("grid: spacing_percent must be > 0")
	}
	if p.TolerancePercent <= 0 || p.TolerancePercent >= p.SpacingPercent/2 {
		return nil, fmt.Errorf("grid: need 0 < tolerance_percent < spacing_percent/2, got %f/%f", p.TolerancePercent, p.SpacingPercent)
	}
	if p.AnchorPeriod < 2 {
		return nil, fmt.Errorf("grid: anchor_period must be >= 2, got %d", p.AnchorPeriod)
	}
	if float64(p.Levels/2+1)*p.SpacingPercent >= 100 {
		return nil, fmt.Errorf("grid: ladder spans the whole price range, reduce levels or spacing")
	}

	return &Grid{
		interval:   interval,
		levels:     p.Levels,
		spacingPct: p.SpacingPercent,
		tolPct:     p.TolerancePercent,
		anchorN:    p.AnchorPeriod,
	}, nil
}

func (g *Grid) Name() string { return "grid" }

func (g *Grid) Requirements() Requirements {
	return Requirements{Interval: g.interval, MinCandles: g.anchorN + 1}
}

func (g *Grid) Generate(symbol string, window []domain.Candle) (*domain.Signal, error) {
	if err := checkWarmup(g.Name(), window, g.Requirements().MinCandles); err != nil {
		return nil, err
	}

	closes := Closes(window)
	sma := SMA(closes, g.anchorN)
	n := len(closes)
	anchor := sma[n-1]
	if math.IsNaN(anchor) || anchor <= 0 {
		return nil, nil
	}

	last := closes[n-1]
	spacing := anchor * g.spacingPct / 100
	half := g.levels / 2

	// Find the nearest rung whose tolerance band contains the close.
	bestRung := 0
	bestDist := math.Inf(1)
	for i := -half; i <= half; i++ {
		if i == 0 {
			continue
		}
		level := anchor + float64(i)*spacing
		dist := math.Abs(last - level)
		if dist <= level*g.tolPct/100 && dist < bestDist {
			bestRung, bestDist = i, dist
		}
	}
	if bestRung == 0 {
		return nil, nil
	}

	level := anchor + float64(bestRung)*spacing
	confidence := clamp(0.5+0.05*math.Abs(float64(bestRung)), 0.5, 0.9)

	if bestRung < 0 {
		stop := level - spacing
		tps := []domain.TakeProfitLevel{{Price: level + spacing, Allocation: 1.0}}
		reason := fmt.Sprintf("close %.4f at rung %d (level %.4f, anchor %.4f)", last, bestRung, level, anchor)
		return newSignal(g.Name(), symbol, domain.DirectionLong, g.interval, window, last, stop, tps, confidence, reason)
	}

	stop := level + spacing
	tps := []domain.TakeProfitLevel{{Price: level - spacing, Allocation: 1.0}}
	reason := fmt.Sprintf("close %.4f at rung %d (level %.4f, anchor %.4f)", last, bestRung, level, anchor)
	return newSignal(g.Name(), symbol, domain.DirectionShort, g.interval, window, last, stop, tps, confidence, reason)
}
