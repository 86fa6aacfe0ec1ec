package orion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// Trader opens and manages 1:1 hedged basis positions. Both legs run at
// 1x, fully collateralized, so deployed capital splits across spot and
// futures notional.
type Trader struct {
	cfg     config.OrionConfig
	adapter domain.ExecutionAdapter
	logger  *slog.Logger
	now     func() time.Time
}

// NewTrader creates a trader placing legs through the given adapter.
func NewTrader(cfg config.OrionConfig, adapter domain.ExecutionAdapter, logger *slog.Logger) *Trader {
	return &Trader{
		cfg:     cfg,
		adapter: adapter,
		logger:  logger.With(slog.String("component", "orion_trader")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the trader's clock, for replay and tests.
func (t *Trader) SetClock(now func() time.Time) {
	t.now = now
}

// ExecuteCashAndCarry opens a hedged pair against the opportunity: spot
// buy + futures short for a positive basis, mirrored for the reverse
// structure. The hedge leg is sized from the spot leg's actual fill, and
// a partially filled hedge trims the spot excess so both legs stay 1:1.
func (t *Trader) ExecuteCashAndCarry(ctx context.Context, opp domain.BasisOpportunity, capital float64) (domain.BasisPosition, error) {
	if capital < t.cfg.MinCapital || capital > t.cfg.MaxCapital {
		return domain.BasisPosition{}, fmt.Errorf("orion: capital %.2f outside [%.2f, %.2f]",
			capital, t.cfg.MinCapital, t.cfg.MaxCapital)
	}
	if opp.SpotPrice <= 0 || opp.FuturesPrice <= 0 {
		return domain.BasisPosition{}, fmt.Errorf("orion: opportunity %s/%s has no marks",
			opp.SpotSymbol, opp.FuturesSymbol)
	}

	qty := capital / (opp.SpotPrice + opp.FuturesPrice)
	spotSide, futSide := domain.OrderSideBuy, domain.OrderSideSell
	spotSign := 1.0
	if opp.Type == domain.BasisReverse {
		spotSide, futSide = domain.OrderSideSell, domain.OrderSideBuy
		spotSign = -1
	}
	posID := uuid.New().String()
	logger := t.logger.With(
		slog.String("position_id", posID),
		slog.String("pair", opp.SpotSymbol+"/"+opp.FuturesSymbol),
	)

	// 1. Spot leg first: it is the easier side to unwind if the hedge fails.
	spotRes, err := t.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: posID + "-spot",
		Symbol:        opp.SpotSymbol,
		Side:          spotSide,
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
	})
	if err != nil {
		return domain.BasisPosition{}, fmt.Errorf("orion: spot leg: %w", err)
	}
	if !spotRes.Success || spotRes.FilledQty <= 0 {
		return domain.BasisPosition{}, fmt.Errorf("orion: spot leg: %w", spotRes.Err(qty))
	}

	// 2. Hedge sized from the actual spot fill, never the request.
	hedgeQty := spotRes.FilledQty
	futRes, err := t.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: posID + "-hedge",
		Symbol:        opp.FuturesSymbol,
		Side:          futSide,
		Type:          domain.OrderTypeMarket,
		Quantity:      hedgeQty,
	})
	if err != nil || !futRes.Success || futRes.FilledQty <= 0 {
		t.unwindSpot(ctx, logger, posID, opp.SpotSymbol, spotSide, hedgeQty)
		if err != nil {
			return domain.BasisPosition{}, fmt.Errorf("orion: hedge leg: %w", err)
		}
		return domain.BasisPosition{}, fmt.Errorf("orion: hedge leg: %w", futRes.Err(hedgeQty))
	}

	// 3. A partial hedge leaves naked spot; trim it back to the match.
	fees := spotRes.Fee + futRes.Fee
	trimPnL := 0.0
	matched := spotRes.FilledQty
	if futRes.FilledQty < spotRes.FilledQty-1e-9 {
		matched = futRes.FilledQty
		excess := spotRes.FilledQty - futRes.FilledQty
		trimRes, trimErr := t.adapter.PlaceOrder(ctx, domain.OrderRequest{
			ClientOrderID: posID + "-trim",
			Symbol:        opp.SpotSymbol,
			Side:          oppositeSide(spotSide),
			Type:          domain.OrderTypeMarket,
			Quantity:      excess,
			ReduceOnly:    true,
		})
		if trimErr != nil || !trimRes.Success {
			logger.Error("spot trim failed, excess exposure needs reconciliation",
				slog.Float64("excess_qty", excess),
			)
		} else {
			trimPnL = (trimRes.AvgPrice-spotRes.AvgPrice)*trimRes.FilledQty*spotSign - trimRes.Fee
		}
	}

	now := t.now()
	pos := domain.BasisPosition{
		ID:            posID,
		Type:          opp.Type,
		SpotSymbol:    opp.SpotSymbol,
		FuturesSymbol: opp.FuturesSymbol,
		Quantity:      matched,
		SpotEntry:     spotRes.AvgPrice,
		FuturesEntry:  futRes.AvgPrice,
		EntryBasisPct: (futRes.AvgPrice - spotRes.AvgPrice) / spotRes.AvgPrice * 100,
		Capital:       matched * (spotRes.AvgPrice + futRes.AvgPrice),
		RealizedPnL:   trimPnL - fees,
		Status:        domain.BasisPositionActive,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	logger.Info("basis position opened",
		slog.String("type", string(pos.Type)),
		slog.Float64("quantity", pos.Quantity),
		slog.Float64("entry_basis_pct", pos.EntryBasisPct),
		slog.Float64("capital", pos.Capital),
	)
	return pos, nil
}

// Update accrues a funding payment when one is supplied, recomputes the
// unrealized PnL at the given marks, and flags the position EXITING when
// the basis has compressed inside ExitBasisPercent or has reversed sign
// past ReversalStopPercent (configured negative: the carry now bleeds
// funding instead of collecting it).
func (t *Trader) Update(ctx context.Context, pos *domain.BasisPosition, spotMark, futMark float64, funding *domain.FundingRate) {
	if pos == nil || pos.Status == domain.BasisPositionClosed || spotMark <= 0 || futMark <= 0 {
		return
	}
	typeSign := 1.0
	if pos.Type == domain.BasisReverse {
		typeSign = -1
	}
	if funding != nil {
		// The futures leg is short for cash-and-carry, so a positive rate
		// pays the position; mirrored for the reverse structure.
		payment := typeSign * funding.Rate * pos.Quantity * futMark
		pos.FundingCaptured += payment
	}
	pos.UnrealizedPnL = pos.LegPnL(spotMark, futMark)
	pos.UpdatedAt = t.now()
	if pos.Status != domain.BasisPositionActive {
		return
	}

	basisNow := pos.CurrentBasisPercent(spotMark, futMark)
	edge := basisNow * typeSign
	switch {
	case math.Abs(basisNow) < t.cfg.ExitBasisPercent:
		pos.Status = domain.BasisPositionExiting
		t.logger.InfoContext(ctx, "basis converged, exiting",
			slog.String("position_id", pos.ID),
			slog.Float64("basis_pct", basisNow),
			slog.Float64("unrealized_pnl", pos.UnrealizedPnL),
		)
	case t.cfg.ReversalStopPercent != 0 && edge <= t.cfg.ReversalStopPercent:
		pos.Status = domain.BasisPositionExiting
		t.logger.WarnContext(ctx, "basis reversal stop, exiting",
			slog.String("position_id", pos.ID),
			slog.Float64("basis_pct", basisNow),
			slog.Float64("entry_basis_pct", pos.EntryBasisPct),
		)
	}
}

// Close unwinds both legs at market. Nothing is booked unless both legs
// confirm, so a failed attempt can be retried with the same client order
// IDs; the IDs embed the remaining quantity, so a retry after a partial
// unwind becomes a fresh order.
func (t *Trader) Close(ctx context.Context, pos *domain.BasisPosition, spotMark, futMark float64) error {
	if pos == nil || pos.Status == domain.BasisPositionClosed {
		return nil
	}
	pos.Status = domain.BasisPositionExiting

	spotSign := 1.0
	spotSide, futSide := domain.OrderSideSell, domain.OrderSideBuy
	if pos.Type == domain.BasisReverse {
		spotSign = -1
		spotSide, futSide = domain.OrderSideBuy, domain.OrderSideSell
	}
	qty := pos.Quantity

	spotRes, err := t.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: unwindID(pos, "spot"),
		Symbol:        pos.SpotSymbol,
		Side:          spotSide,
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ReduceOnly:    true,
	})
	if err != nil {
		return fmt.Errorf("orion: unwind spot leg: %w", err)
	}
	if !spotRes.Success {
		return fmt.Errorf("orion: unwind spot leg: %w", spotRes.Err(qty))
	}
	futRes, err := t.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: unwindID(pos, "hedge"),
		Symbol:        pos.FuturesSymbol,
		Side:          futSide,
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ReduceOnly:    true,
	})
	if err != nil {
		return fmt.Errorf("orion: unwind hedge leg: %w", err)
	}
	if !futRes.Success {
		return fmt.Errorf("orion: unwind hedge leg: %w", futRes.Err(qty))
	}

	if math.Abs(spotRes.FilledQty-futRes.FilledQty) > 1e-9 {
		t.logger.Warn("unwind legs imbalanced",
			slog.String("position_id", pos.ID),
			slog.Float64("spot_filled", spotRes.FilledQty),
			slog.Float64("hedge_filled", futRes.FilledQty),
		)
	}
	spotRealized := (spotRes.AvgPrice - pos.SpotEntry) * spotRes.FilledQty * spotSign
	futRealized := (futRes.AvgPrice - pos.FuturesEntry) * futRes.FilledQty * -spotSign
	pos.RealizedPnL += spotRealized + futRealized - spotRes.Fee - futRes.Fee
	pos.Quantity -= math.Min(spotRes.FilledQty, futRes.FilledQty)
	pos.UpdatedAt = t.now()

	if pos.Quantity <= 1e-9 {
		pos.Quantity = 0
		pos.RealizedPnL += pos.FundingCaptured
		pos.UnrealizedPnL = 0
		now := t.now()
		pos.Status = domain.BasisPositionClosed
		pos.ClosedAt = &now
		t.logger.Info("basis position closed",
			slog.String("position_id", pos.ID),
			slog.Float64("realized_pnl", pos.RealizedPnL),
			slog.Float64("funding_captured", pos.FundingCaptured),
		)
		return nil
	}
	pos.UnrealizedPnL = pos.LegPnL(spotMark, futMark)
	t.logger.Warn("basis unwind partial, retrying remainder",
		slog.String("position_id", pos.ID),
		slog.Float64("remaining_qty", pos.Quantity),
	)
	return nil
}

// unwindSpot reverses a just-opened spot leg after the hedge failed.
func (t *Trader) unwindSpot(ctx context.Context, logger *slog.Logger, posID, symbol string, openSide domain.OrderSide, qty float64) {
	res, err := t.adapter.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: posID + "-unwind",
		Symbol:        symbol,
		Side:          oppositeSide(openSide),
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ReduceOnly:    true,
	})
	if err != nil || !res.Success {
		logger.Error("spot unwind failed, naked exposure needs reconciliation",
			slog.Float64("quantity", qty),
		)
		return
	}
	logger.Warn("hedge leg failed, spot leg unwound", slog.Float64("quantity", qty))
}

func oppositeSide(s domain.OrderSide) domain.OrderSide {
	if s == domain.OrderSideBuy {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func unwindID(pos *domain.BasisPosition, leg string) string {
	return fmt.Sprintf("%s-unwind-%s-%.8f", pos.ID, leg, pos.Quantity)
}
