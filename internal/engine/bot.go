// Package engine runs the bot pipelines. A Bot is one symbol+strategy
// pipeline fed by the market stream: closed candles drive signal generation
// through the confirmation gate and risk check into the position manager,
// ticks drive position management, funding events accrue into open
// positions. The Registry owns the fleet, keyed by bot ID, and supervises
// every pipeline under one errgroup.
//
// Cadence profiles (hft, mft, lft) only parameterize the candle interval
// and warm-up window; there is a single pipeline implementation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/feed"
	"github.com/dkwok94/stratcore/internal/gate"
	"github.com/dkwok94/stratcore/internal/metrics"
	"github.com/dkwok94/stratcore/internal/position"
	"github.com/dkwok94/stratcore/internal/risk"
	"github.com/dkwok94/stratcore/internal/strategy"
)

// eventBacklog bounds each bot's inbound event queue. Delivery past a full
// queue drops the event to keep the feed from stalling.
const eventBacklog = 256

// FlagSource reports active manipulation flags for the gate context.
type FlagSource interface {
	ActiveFlags(symbol string, now time.Time) []domain.ManipulationFlag
}

// SignalSink receives every generated signal together with its confirmation
// verdict, accepted or not. Implementers persist and publish.
type SignalSink func(ctx context.Context, sig domain.Signal, res domain.ConfirmationResult)

// Deps aggregates the services shared by every bot pipeline. Feed, Adapter,
// Gate and Logger are required; the rest may be nil and the corresponding
// step is skipped.
type Deps struct {
	Feed      feed.MarketFeed
	Adapter   domain.ExecutionAdapter
	Gate      *gate.Gate
	Risk      *risk.Guardian
	Flags     FlagSource
	Signals   SignalSink
	Positions position.Sink
	Metrics   *metrics.Metrics
	Locks     domain.LockManager
	LockTTL   time.Duration
	Logger    *slog.Logger
}

// Bot is one running symbol+strategy pipeline. All event handling happens on
// the Run goroutine; only Stop, Status and Deliver are safe to call from
// outside.
type Bot struct {
	cfg       config.BotConfig
	cadence   config.CadenceConfig
	interval  domain.Interval
	windowLen int
	gen       strategy.Generator
	manager   *position.Manager
	deps      Deps
	logger    *slog.Logger

	events  chan feed.Event
	stopped atomic.Bool
	live    atomic.Bool
	dropped atomic.Uint64
}

// BotStatus is a read-only snapshot for the status API.
type BotStatus struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Strategy      string `json:"strategy"`
	Cadence       string `json:"cadence"`
	Interval      string `json:"interval"`
	Window        int    `json:"window"`
	Generating    bool   `json:"generating"`
	Live          bool   `json:"live"`
	DroppedEvents uint64 `json:"dropped_events"`
}

// NewBot builds the pipeline for one bot config. The cadence profile decides
// the candle interval and window length; the window must cover the
// generator's declared warm-up.
func NewBot(cfg config.BotConfig, cadence config.CadenceConfig, deps Deps) (*Bot, error) {
	iv := domain.Interval(cadence.Interval)
	if !iv.Valid() {
		return nil, fmt.Errorf("engine: bot %s: unknown interval %q", cfg.ID, cadence.Interval)
	}
	gen, err := strategy.New(cfg.Strategy, iv, cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: bot %s: %w", cfg.ID, err)
	}
	if req := gen.Requirements(); req.MinCandles > cadence.Window {
		return nil, fmt.Errorf("engine: bot %s: cadence window %d is shorter than %s warm-up %d",
			cfg.ID, cadence.Window, gen.Name(), req.MinCandles)
	}

	// The manager's scale-in checker must stay a nil interface when no
	// guardian is wired.
	var scaler position.RiskChecker
	if deps.Risk != nil {
		scaler = deps.Risk
	}

	return &Bot{
		cfg:       cfg,
		cadence:   cadence,
		interval:  iv,
		windowLen: cadence.Window,
		gen:       gen,
		manager:   position.NewManager(cfg, deps.Adapter, scaler, deps.Positions, deps.Logger),
		deps:      deps,
		logger: deps.Logger.With(
			slog.String("component", "bot"),
			slog.String("bot_id", cfg.ID),
		),
		events: make(chan feed.Event, eventBacklog),
	}, nil
}

// ID returns the bot's configured identifier.
func (b *Bot) ID() string { return b.cfg.ID }

// Symbol returns the symbol this bot trades.
func (b *Bot) Symbol() string { return b.cfg.Symbol }

// Status returns a snapshot safe to serve from any goroutine.
func (b *Bot) Status() BotStatus {
	return BotStatus{
		ID:            b.cfg.ID,
		Symbol:        b.cfg.Symbol,
		Strategy:      b.cfg.Strategy,
		Cadence:       b.cfg.Cadence,
		Interval:      string(b.interval),
		Window:        b.windowLen,
		Generating:    !b.stopped.Load(),
		Live:          b.live.Load(),
		DroppedEvents: b.dropped.Load(),
	}
}

// Live reports whether the bot currently manages a non-terminal position.
func (b *Bot) Live() bool { return b.live.Load() }

// Generating reports whether the bot still produces new signals.
func (b *Bot) Generating() bool { return !b.stopped.Load() }

// Stop halts new signal generation immediately. An open position keeps
// being managed until it closes; the Run goroutine exits once the bot is
// both stopped and flat.
func (b *Bot) Stop() {
	if b.stopped.CompareAndSwap(false, true) {
		b.logger.Info("bot generation stopped", slog.Bool("live", b.live.Load()))
	}
}

// AdoptPosition resumes a persisted position. Must be called before Run
// starts consuming events.
func (b *Bot) AdoptPosition(pos domain.Position) error {
	if err := b.manager.Adopt(pos); err != nil {
		return fmt.Errorf("engine: bot %s: %w", b.cfg.ID, err)
	}
	b.live.Store(b.manager.Live())
	return nil
}

// Deliver queues one feed event for the pipeline without blocking. Events
// delivered past a full queue are dropped and counted.
func (b *Bot) Deliver(ev feed.Event) {
	select {
	case b.events <- ev:
	default:
		dropped := b.dropped.Add(1)
		b.logger.Debug("bot event dropped",
			slog.String("kind", string(ev.Kind)),
			slog.Uint64("dropped_total", dropped),
		)
	}
}

// Run consumes feed events until ctx is cancelled. A stopped bot keeps
// managing its open position and returns once flat.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started",
		slog.String("symbol", b.cfg.Symbol),
		slog.String("strategy", b.cfg.Strategy),
		slog.String("cadence", b.cfg.Cadence),
		slog.String("interval", string(b.interval)),
	)
	defer b.logger.Info("bot exited")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.events:
			b.handle(ctx, ev)
			b.live.Store(b.manager.Live())
			if b.stopped.Load() && !b.manager.Live() {
				return nil
			}
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev feed.Event) {
	switch ev.Kind {
	case feed.EventTick:
		if ev.Tick == nil || !b.manager.Live() {
			return
		}
		tk, err := b.deps.Feed.Ticker(ctx, ev.Symbol)
		if err != nil {
			tk = domain.Ticker{Symbol: ev.Symbol, Last: ev.Tick.Price, Timestamp: ev.Timestamp}
		}
		b.manager.OnTick(ctx, tk)

	case feed.EventCandle:
		if ev.Candle == nil || !ev.CandleClosed || ev.Candle.Interval != b.interval {
			return
		}
		b.cycle(ctx, *ev.Candle)

	case feed.EventFunding:
		if ev.Funding == nil || !b.manager.Live() {
			return
		}
		b.manager.OnFunding(ctx, *ev.Funding)
	}
}

// cycle runs the full signal pipeline for one closed candle.
func (b *Bot) cycle(ctx context.Context, c domain.Candle) {
	closedAt := c.OpenTime.Add(b.interval.Duration())

	// 1. Assemble the rolling window; skip the bar until warm-up completes.
	window, err := b.deps.Feed.Window(ctx, b.cfg.Symbol, b.interval, b.windowLen)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			b.logger.Debug("window still warming", slog.String("error", err.Error()))
		} else {
			b.logger.Warn("window unavailable", slog.String("error", err.Error()))
		}
		return
	}

	// 2. Generate. No signal on this bar is the common case.
	if b.stopped.Load() {
		return
	}
	sig, err := b.gen.Generate(b.cfg.Symbol, window)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			b.logger.Debug("generator awaiting data", slog.String("error", err.Error()))
		} else {
			b.logger.Warn("generator failed", slog.String("error", err.Error()))
		}
		return
	}
	if sig == nil {
		return
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.SignalGenerated(sig.Strategy)
	}

	// 3. Confirm. The verdict is emitted either way so rejections stay
	// explainable.
	res := b.deps.Gate.Evaluate(*sig, b.gateContext(ctx, window, closedAt))
	if b.deps.Signals != nil {
		b.deps.Signals(ctx, *sig, res)
	}
	if !res.Accepted {
		if b.deps.Metrics != nil {
			b.deps.Metrics.SignalRejected(sig.Strategy)
		}
		return
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.SignalAccepted(sig.Strategy)
	}

	// 4. One live position per bot; pyramiding happens on ticks, not here.
	if b.manager.Live() {
		b.logger.Debug("signal not traded, position already open",
			slog.String("signal_id", sig.ID),
		)
		return
	}

	// 5. Account-level risk check before any order is placed.
	if b.deps.Risk != nil {
		err := b.deps.Risk.Check(ctx, risk.Proposal{
			BotID:    b.cfg.ID,
			Symbol:   b.cfg.Symbol,
			Notional: b.cfg.SizeQuote * b.cfg.Leverage,
		})
		if err != nil {
			b.logger.Debug("entry vetoed", slog.String("error", err.Error()))
			return
		}
	}

	// 6. Size and open.
	qty := b.entryQty(sig.Entry)
	if qty <= 0 {
		b.logger.Warn("entry size computes to zero",
			slog.String("signal_id", sig.ID),
			slog.Float64("entry", sig.Entry),
		)
		return
	}
	if _, err := b.manager.OpenFromSignal(ctx, *sig, qty); err != nil {
		b.logger.Warn("entry not attempted", slog.String("error", err.Error()))
	}
}

// gateContext assembles the microstructure snapshot for confirmation.
// Missing pieces stay nil; the layers fail closed on them.
func (b *Bot) gateContext(ctx context.Context, window []domain.Candle, now time.Time) gate.Context {
	gctx := gate.Context{Window: window, Now: now}
	if tk, err := b.deps.Feed.Ticker(ctx, b.cfg.Symbol); err == nil {
		gctx.Ticker = &tk
	}
	if book, err := b.deps.Feed.Orderbook(ctx, b.cfg.Symbol); err == nil {
		gctx.Book = &book
	}
	if b.deps.Flags != nil {
		gctx.Flags = b.deps.Flags.ActiveFlags(b.cfg.Symbol, now)
	}
	return gctx
}

// entryQty converts the configured quote commitment into base quantity at
// the signal's entry price.
func (b *Bot) entryQty(entry float64) float64 {
	if entry <= 0 {
		return 0
	}
	return b.cfg.SizeQuote * b.cfg.Leverage / entry
}
