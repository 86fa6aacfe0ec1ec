// Package exec provides execution adapters behind the domain contract: the
// built-in paper venue for dry runs and a circuit-breaker wrapper for flaky
// transports. The core never retries placement; idempotency lives here, keyed
// by client order ID.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// replayTTL bounds how long a filled client order ID is remembered for
// duplicate replay.
const replayTTL = time.Hour

// MarkSource supplies the reference price paper fills execute against.
// The market feed satisfies it.
type MarkSource interface {
	Ticker(ctx context.Context, symbol string) (domain.Ticker, error)
}

// Paper is the built-in dry-run adapter. Orders fill instantly at the latest
// mark shifted by the configured slippage, minus a taker fee, optionally cut
// to a partial fill ratio. Successful fills are recorded per client order ID
// and replayed on resubmission instead of executing twice; a rejected ID may
// be reused.
type Paper struct {
	cfg     config.PaperConfig
	marks   MarkSource
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	fills       map[string]paperFill
	lastSweep   time.Time
	failN       int
	failMessage string
}

type paperFill struct {
	result domain.OrderResult
	at     time.Time
}

// NewPaper creates a paper adapter paced at cfg.OrdersPerSec (unlimited when
// zero).
func NewPaper(cfg config.PaperConfig, marks MarkSource, logger *slog.Logger) *Paper {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.OrdersPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OrdersPerSec), 1)
	}
	return &Paper{
		cfg:     cfg,
		marks:   marks,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "paper_exec")),
		now:     time.Now,
		fills:   make(map[string]paperFill),
	}
}

// SetClock overrides the replay sweep clock in tests.
func (p *Paper) SetClock(now func() time.Time) {
	p.now = now
}

// FailNext makes the next n orders come back rejected with the given
// message. Hook for exercising rejection paths.
func (p *Paper) FailNext(n int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failN = n
	p.failMessage = message
}

// PlaceOrder simulates one fill against the current mark.
func (p *Paper) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return domain.OrderResult{}, fmt.Errorf("exec: paper order %s: quantity %.8f", req.Symbol, req.Quantity)
	}

	if req.ClientOrderID != "" {
		p.mu.Lock()
		fill, seen := p.fills[req.ClientOrderID]
		if seen && p.now().Sub(fill.at) >= replayTTL {
			delete(p.fills, req.ClientOrderID)
			seen = false
		}
		p.mu.Unlock()
		if seen {
			p.logger.Debug("duplicate client order replayed",
				slog.String("client_order_id", req.ClientOrderID),
				slog.String("order_id", fill.result.OrderID),
			)
			return fill.result, nil
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exec: paper pacing: %w", err)
	}

	if msg, injected := p.takeInjectedFailure(); injected {
		p.logger.Warn("paper order rejected",
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("symbol", req.Symbol),
			slog.String("message", msg),
		)
		return domain.OrderResult{Message: msg}, nil
	}

	ticker, err := p.marks.Ticker(ctx, req.Symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exec: paper mark %s: %w", req.Symbol, err)
	}
	mark := ticker.Mid()
	if mark <= 0 {
		return domain.OrderResult{}, fmt.Errorf("exec: paper mark %s: no price", req.Symbol)
	}

	if req.Type == domain.OrderTypeLimit && !marketable(req, mark) {
		msg := fmt.Sprintf("limit %.8f not marketable against mark %.8f", req.Price, mark)
		p.logger.Warn("paper order rejected",
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("symbol", req.Symbol),
			slog.String("message", msg),
		)
		return domain.OrderResult{Message: msg}, nil
	}

	result := domain.OrderResult{
		OrderID:   uuid.New().String(),
		Success:   true,
		FilledQty: req.Quantity,
		AvgPrice:  p.fillPrice(req, mark),
	}
	if p.cfg.FillRatio > 0 && p.cfg.FillRatio < 1 {
		result.FilledQty = req.Quantity * p.cfg.FillRatio
		result.Message = "partial fill"
	}
	result.Fee = result.FilledQty * result.AvgPrice * p.cfg.TakerFeeRate

	if req.ClientOrderID != "" {
		p.mu.Lock()
		now := p.now()
		p.sweepLocked(now)
		p.fills[req.ClientOrderID] = paperFill{result: result, at: now}
		p.mu.Unlock()
	}

	p.logger.Info("paper order filled",
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("order_id", result.OrderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("quantity", result.FilledQty),
		slog.Float64("price", result.AvgPrice),
		slog.Float64("fee", result.Fee),
	)
	return result, nil
}

// CancelOrder is a no-op: paper orders fill or reject instantly, so there is
// never a resting order to cancel.
func (p *Paper) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	p.logger.Debug("paper cancel",
		slog.String("symbol", symbol),
		slog.String("client_order_id", clientOrderID),
	)
	return nil
}

// marketable reports whether a limit order crosses the current mark.
func marketable(req domain.OrderRequest, mark float64) bool {
	if req.Price <= 0 {
		return false
	}
	if req.Side == domain.OrderSideBuy {
		return mark <= req.Price
	}
	return mark >= req.Price
}

// fillPrice shifts the mark by slippage against the taker; a limit price
// caps the damage.
func (p *Paper) fillPrice(req domain.OrderRequest, mark float64) float64 {
	slip := mark * p.cfg.SlippageBps / 10000
	price := mark + slip
	if req.Side == domain.OrderSideSell {
		price = mark - slip
	}
	if req.Type == domain.OrderTypeLimit {
		if req.Side == domain.OrderSideBuy && price > req.Price {
			price = req.Price
		}
		if req.Side == domain.OrderSideSell && price < req.Price {
			price = req.Price
		}
	}
	return price
}

func (p *Paper) takeInjectedFailure() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN <= 0 {
		return "", false
	}
	p.failN--
	return p.failMessage, true
}

// sweepLocked expires old replay records at most once per TTL.
func (p *Paper) sweepLocked(now time.Time) {
	if now.Sub(p.lastSweep) < replayTTL {
		return
	}
	p.lastSweep = now
	for id, fill := range p.fills {
		if now.Sub(fill.at) >= replayTTL {
			delete(p.fills, id)
		}
	}
}
