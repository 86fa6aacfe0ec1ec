// Package gate implements the multi-layer confirmation gate that sits between
// signal generation and order placement. Each layer scores a signal against
// one aspect of current market microstructure; the gate aggregates the
// weighted scores and accepts only when enough layers pass and the aggregate
// clears the configured floor. Layers that cannot produce a verdict count as
// failed, so thin data never waves a trade through.
package gate

import (
	"log/slog"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// Gate evaluates signals against its configured confirmation layers.
type Gate struct {
	layers   []Layer
	required int
	minScore float64
	logger   *slog.Logger
}

// New builds a gate with the standard layer set from config. Layers with a
// zero weight are left out entirely.
func New(cfg config.GateConfig, logger *slog.Logger) *Gate {
	all := []Layer{
		NewRiskRewardLayer(cfg.Weights.RiskReward, cfg.MinRiskReward),
		NewSpreadLayer(cfg.Weights.Spread, cfg.MaxSpreadBps),
		NewImbalanceLayer(cfg.Weights.Imbalance, cfg.MinImbalance),
		NewRegimeLayer(cfg.Weights.Regime),
		NewVolumeLayer(cfg.Weights.Volume, cfg.VolumeMultiplier),
		NewManipulationLayer(cfg.Weights.Manipulation),
	}
	layers := make([]Layer, 0, len(all))
	for _, l := range all {
		if l.Weight() > 0 {
			layers = append(layers, l)
		}
	}
	return &Gate{
		layers:   layers,
		required: cfg.RequiredConfirmations,
		minScore: cfg.MinScore,
		logger:   logger.With(slog.String("component", "gate")),
	}
}

// NewWithLayers builds a gate over an explicit layer set, used by tests and
// by callers that need a reduced or extended stack.
func NewWithLayers(required int, minScore float64, logger *slog.Logger, layers ...Layer) *Gate {
	return &Gate{
		layers:   layers,
		required: required,
		minScore: minScore,
		logger:   logger.With(slog.String("component", "gate")),
	}
}

// Evaluate runs every layer against the signal and returns the full verdict.
// The result always carries one LayerResult per configured layer, pass or
// fail, so a rejection can be explained after the fact.
func (g *Gate) Evaluate(sig domain.Signal, ctx Context) domain.ConfirmationResult {
	res := domain.ConfirmationResult{
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		Strategy:    sig.Strategy,
		Layers:      make([]domain.LayerResult, 0, len(g.layers)),
		Required:    g.required,
		MinScore:    g.minScore,
		EvaluatedAt: ctx.Now,
	}

	var weighted, totalWeight float64
	for _, layer := range g.layers {
		lr := layer.Evaluate(sig, ctx)
		res.Layers = append(res.Layers, lr)
		weighted += lr.Score * lr.Weight
		totalWeight += lr.Weight
		if lr.Passed {
			res.PassedCount++
		}
	}
	if totalWeight > 0 {
		res.Score = weighted / totalWeight
	}
	res.Accepted = res.PassedCount >= g.required && res.Score >= g.minScore

	if res.Accepted {
		g.logger.Info("signal confirmed",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("strategy", sig.Strategy),
			slog.Float64("score", res.Score),
			slog.Int("passed", res.PassedCount),
			slog.Int("required", g.required),
		)
	} else {
		g.logger.Info("signal rejected",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("strategy", sig.Strategy),
			slog.Float64("score", res.Score),
			slog.Float64("min_score", g.minScore),
			slog.Int("passed", res.PassedCount),
			slog.Int("required", g.required),
			slog.Any("failures", res.FailureReasons()),
		)
	}
	return res
}
