package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/metrics"
)

// RiskSource reports the guardian's current state.
type RiskSource interface {
	State() domain.RiskState
}

// FlagSource lists the manipulation flags in force at now.
type FlagSource interface {
	AllActive(now time.Time) []domain.ManipulationFlag
}

// SnapshotTarget is the projection the status API reads.
type SnapshotTarget interface {
	SetRiskState(ctx context.Context, state domain.RiskState) error
	SetFlags(ctx context.Context, symbol string, flags []domain.ManipulationFlag) error
	ListPositions(ctx context.Context) ([]domain.Position, error)
}

// MarketSource drains the feed's latest tickers.
type MarketSource interface {
	Tickers() []domain.Ticker
}

// MarketTarget persists projected tickers for processes without a live
// stream, such as a scan-mode run pricing its pairs.
type MarketTarget interface {
	SetTicker(ctx context.Context, t domain.Ticker) error
}

// Snapshotter periodically projects slow-moving core state into the snapshot
// cache: the risk state, so a restart restores equity and trade counts, and
// the active manipulation flags. With ProjectMarket wired it also drains the
// feed's latest tickers into the market cache. Positions ride their own
// change events; this job only re-derives the open-positions gauge from the
// projection so the gauge survives restarts too.
type Snapshotter struct {
	risk    RiskSource
	flags   FlagSource
	target  SnapshotTarget
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	markets      MarketSource
	marketTarget MarketTarget

	flagged map[string]bool // symbols projected with flags last cycle
}

// NewSnapshotter creates a Snapshotter. flags and metrics may be nil.
func NewSnapshotter(risk RiskSource, flags FlagSource, target SnapshotTarget, m *metrics.Metrics, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		risk:    risk,
		flags:   flags,
		target:  target,
		metrics: m,
		logger:  logger.With(slog.String("component", "snapshot_job")),
		now:     time.Now,
		flagged: make(map[string]bool),
	}
}

// SetClock overrides the time source in tests.
func (s *Snapshotter) SetClock(now func() time.Time) { s.now = now }

// ProjectMarket adds a ticker projection to each cycle, draining src into
// target. Tickers churn too fast for the feed to write inline.
func (s *Snapshotter) ProjectMarket(src MarketSource, target MarketTarget) {
	s.markets = src
	s.marketTarget = target
}

// Run executes a single projection cycle.
func (s *Snapshotter) Run(ctx context.Context) error {
	now := s.now().UTC()

	if err := s.target.SetRiskState(ctx, s.risk.State()); err != nil {
		return fmt.Errorf("projecting risk state: %w", err)
	}

	if s.flags != nil {
		active := make(map[string][]domain.ManipulationFlag)
		for _, f := range s.flags.AllActive(now) {
			active[f.Symbol] = append(active[f.Symbol], f)
		}
		for symbol, fs := range active {
			if err := s.target.SetFlags(ctx, symbol, fs); err != nil {
				return fmt.Errorf("projecting flags for %s: %w", symbol, err)
			}
		}
		// Symbols flagged last cycle but clean now get their key cleared.
		for symbol := range s.flagged {
			if _, still := active[symbol]; still {
				continue
			}
			if err := s.target.SetFlags(ctx, symbol, nil); err != nil {
				return fmt.Errorf("clearing flags for %s: %w", symbol, err)
			}
		}
		s.flagged = make(map[string]bool, len(active))
		for symbol := range active {
			s.flagged[symbol] = true
		}
	}

	if s.markets != nil && s.marketTarget != nil {
		for _, t := range s.markets.Tickers() {
			if err := s.marketTarget.SetTicker(ctx, t); err != nil {
				return fmt.Errorf("projecting ticker %s: %w", t.Symbol, err)
			}
		}
	}

	if s.metrics != nil {
		positions, err := s.target.ListPositions(ctx)
		if err != nil {
			return fmt.Errorf("counting open positions: %w", err)
		}
		open := 0
		for _, p := range positions {
			if p.Status != domain.PositionClosed {
				open++
			}
		}
		s.metrics.SetOpenPositions(open)
	}

	return nil
}

// RunLoop runs a cycle immediately, then on every tick until ctx is
// cancelled. Failed cycles are logged; the next tick retries.
func (s *Snapshotter) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := s.Run(ctx); err != nil {
		s.logger.Error("snapshot cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshot loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("snapshot cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}
