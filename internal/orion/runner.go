package orion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// MarketSource supplies the latest marks for scan cycles.
type MarketSource interface {
	LatestTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	LatestFunding(ctx context.Context, symbol string) (domain.FundingRate, error)
}

// ScanSink receives each cycle's ranked opportunities.
type ScanSink func(ctx context.Context, opps []domain.BasisOpportunity)

// PositionSink receives basis position snapshots after every change.
type PositionSink func(ctx context.Context, pos domain.BasisPosition)

// RunnerConfig wires a runner's collaborators.
type RunnerConfig struct {
	Config    config.OrionConfig
	Scanner   *Scanner
	Trader    *Trader
	Market    MarketSource
	Scans     ScanSink
	Positions PositionSink
	Logger    *slog.Logger
}

// Runner drives the scan/manage/execute cycle on the configured cadence.
// One goroutine owns the cycle; the accessors are safe to call from the
// status server.
type Runner struct {
	cfg     config.OrionConfig
	scanner *Scanner
	trader  *Trader
	market  MarketSource
	scans   ScanSink
	posSink PositionSink
	logger  *slog.Logger

	mu          sync.Mutex
	positions   map[string]*domain.BasisPosition
	lastFunding map[string]time.Time
}

// NewRunner creates a runner from its wiring.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		cfg:         cfg.Config,
		scanner:     cfg.Scanner,
		trader:      cfg.Trader,
		market:      cfg.Market,
		scans:       cfg.Scans,
		posSink:     cfg.Positions,
		logger:      cfg.Logger.With(slog.String("component", "orion_runner")),
		positions:   make(map[string]*domain.BasisPosition),
		lastFunding: make(map[string]time.Time),
	}
}

// Adopt restores a persisted basis position into the runner, typically at
// startup. Terminal positions are rejected.
func (r *Runner) Adopt(pos domain.BasisPosition) error {
	if pos.Status == domain.BasisPositionClosed {
		return fmt.Errorf("orion: position %s is closed", pos.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pos.SpotSymbol + "/" + pos.FuturesSymbol
	if _, live := r.positions[key]; live {
		return fmt.Errorf("orion: pair %s already has a live position", key)
	}
	r.positions[key] = &pos
	r.logger.Info("basis position adopted",
		slog.String("position_id", pos.ID),
		slog.String("pair", key),
		slog.String("status", string(pos.Status)),
	)
	return nil
}

// ActivePositions returns copies of the live basis positions, ordered by
// pair for stable output.
func (r *Runner) ActivePositions() []domain.BasisPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.positions))
	for k := range r.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.BasisPosition, 0, len(keys))
	for _, k := range keys {
		out = append(out, *r.positions[k])
	}
	return out
}

// Run scans immediately, then on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.cfg.ScanInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	r.logger.Info("orion runner started",
		slog.Int("pairs", len(r.cfg.Pairs)),
		slog.Duration("interval", interval),
		slog.Bool("auto_execute", r.cfg.AutoExecute),
	)
	defer r.logger.Info("orion runner stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	spot := make(map[string]float64, len(r.cfg.Pairs))
	futures := make(map[string]float64, len(r.cfg.Pairs))
	funding := make(map[string]domain.FundingRate, len(r.cfg.Pairs))
	for _, pair := range r.cfg.Pairs {
		if tkr, err := r.market.LatestTicker(ctx, pair.Spot); err == nil && tkr.Mid() > 0 {
			spot[pair.Spot] = tkr.Mid()
		} else {
			r.logger.Debug("no spot mark", slog.String("symbol", pair.Spot))
		}
		if tkr, err := r.market.LatestTicker(ctx, pair.Futures); err == nil && tkr.Mid() > 0 {
			futures[pair.Futures] = tkr.Mid()
		} else {
			r.logger.Debug("no futures mark", slog.String("symbol", pair.Futures))
		}
		if fr, err := r.market.LatestFunding(ctx, pair.Futures); err == nil {
			funding[pair.Futures] = fr
		}
	}

	opps := r.scanner.Scan(spot, futures, funding)
	if len(opps) > 0 && r.scans != nil {
		r.scans(ctx, opps)
	}

	r.managePositions(ctx, spot, futures, funding)
	if r.cfg.AutoExecute {
		r.maybeExecute(ctx, opps)
	}
}

// managePositions updates every live position at the cycle's marks,
// accrues funding once per funding timestamp, and drives EXITING
// positions through their unwind.
func (r *Runner) managePositions(ctx context.Context, spot, futures map[string]float64, funding map[string]domain.FundingRate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, pos := range r.positions {
		spotPx, okSpot := spot[pos.SpotSymbol]
		futPx, okFut := futures[pos.FuturesSymbol]
		if !okSpot || !okFut {
			continue
		}
		var fr *domain.FundingRate
		if f, ok := funding[pos.FuturesSymbol]; ok && f.Timestamp.After(r.lastFunding[pos.FuturesSymbol]) {
			fr = &f
			r.lastFunding[pos.FuturesSymbol] = f.Timestamp
		}
		r.trader.Update(ctx, pos, spotPx, futPx, fr)
		if pos.Status == domain.BasisPositionExiting {
			if err := r.trader.Close(ctx, pos, spotPx, futPx); err != nil {
				r.logger.Error("basis unwind failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if r.posSink != nil {
			r.posSink(ctx, *pos)
		}
		if pos.Status == domain.BasisPositionClosed {
			delete(r.positions, key)
		}
	}
}

// maybeExecute opens at most one new pair per cycle, taking the
// best-ranked opportunity without a live position.
func (r *Runner) maybeExecute(ctx context.Context, opps []domain.BasisOpportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opp := range opps {
		key := opp.SpotSymbol + "/" + opp.FuturesSymbol
		if _, live := r.positions[key]; live {
			continue
		}
		pos, err := r.trader.ExecuteCashAndCarry(ctx, opp, r.cfg.CapitalPerTrade)
		if err != nil {
			r.logger.Warn("auto-execute skipped",
				slog.String("pair", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.positions[key] = &pos
		if r.posSink != nil {
			r.posSink(ctx, pos)
		}
		return
	}
}
