// Package orion implements the cash-and-carry subsystem: a scanner that
// ranks spot/futures basis edges across configured pairs, a trader that
// opens and manages 1:1 hedged positions against them, and a runner that
// drives both on a scan cadence.
package orion

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// Scanner ranks basis edges across the configured pairs. It remembers the
// previous scan's basis per pair to judge stability, so one Scanner owns a
// pair set rather than being shared.
type Scanner struct {
	cfg       config.OrionConfig
	logger    *slog.Logger
	now       func() time.Time
	lastBasis map[string]float64
}

// NewScanner creates a scanner for the configured pairs.
func NewScanner(cfg config.OrionConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "orion_scanner")),
		now:       func() time.Time { return time.Now().UTC() },
		lastBasis: make(map[string]float64),
	}
}

// SetClock overrides the scanner's clock, for replay and tests.
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// Scan computes the basis for every configured pair and returns the
// harvestable edges sorted descending by annualized return. Prices are
// keyed by symbol; pairs with a missing or zero mark are skipped, and
// edges thinner than MinBasisPercent are dropped entirely rather than
// returned with a near-zero badge.
func (s *Scanner) Scan(spot, futures map[string]float64, funding map[string]domain.FundingRate) []domain.BasisOpportunity {
	now := s.now()
	opps := make([]domain.BasisOpportunity, 0, len(s.cfg.Pairs))
	for _, pair := range s.cfg.Pairs {
		spotPx, futPx := spot[pair.Spot], futures[pair.Futures]
		if spotPx <= 0 || futPx <= 0 {
			continue
		}
		basis := futPx - spotPx
		basisPct := basis / spotPx * 100

		key := pair.Spot + "/" + pair.Futures
		prev, seen := s.lastBasis[key]
		s.lastBasis[key] = basisPct

		if math.Abs(basisPct) < s.cfg.MinBasisPercent {
			continue
		}
		typ := domain.BasisCashAndCarry
		if basisPct < 0 {
			typ = domain.BasisReverse
		}
		rate := funding[pair.Futures].Rate
		opp := domain.BasisOpportunity{
			SpotSymbol:       pair.Spot,
			FuturesSymbol:    pair.Futures,
			SpotPrice:        spotPx,
			FuturesPrice:     futPx,
			Basis:            basis,
			BasisPercent:     basisPct,
			FundingRate:      rate,
			AnnualizedReturn: domain.AnnualizedFromBasisPercent(math.Abs(basisPct)),
			Type:             typ,
			Confidence:       s.confidence(basisPct, prev, seen, rate),
			ScannedAt:        now,
		}
		opps = append(opps, opp)
		s.logger.Debug("basis edge",
			slog.String("pair", key),
			slog.Float64("basis_pct", basisPct),
			slog.Float64("annualized", opp.AnnualizedReturn),
			slog.Float64("confidence", opp.Confidence),
		)
	}
	sort.Slice(opps, func(i, j int) bool {
		if opps[i].AnnualizedReturn != opps[j].AnnualizedReturn {
			return opps[i].AnnualizedReturn > opps[j].AnnualizedReturn
		}
		return opps[i].SpotSymbol < opps[j].SpotSymbol
	})
	return opps
}

// confidence blends how far the edge clears the threshold, how stable the
// basis is against the previous scan, and whether funding pays the hedge.
// Funding aligns when its sign matches the basis: a positive basis means
// the short futures leg collects positive funding, and mirrored for the
// reverse structure.
func (s *Scanner) confidence(basisPct, prev float64, seen bool, fundingRate float64) float64 {
	depth := 0.0
	if s.cfg.MinBasisPercent > 0 {
		depth = math.Min(math.Abs(basisPct)/s.cfg.MinBasisPercent/2, 1)
	}
	stability := 0.5
	if seen {
		denom := math.Max(math.Abs(prev), 1e-9)
		stability = 1 - math.Min(math.Abs(basisPct-prev)/denom, 1)
	}
	align := 0.5
	switch {
	case fundingRate*basisPct > 0:
		align = 1
	case fundingRate*basisPct < 0:
		align = 0
	}
	c := 0.4*stability + 0.35*depth + 0.25*align
	return math.Max(0, math.Min(1, c))
}
