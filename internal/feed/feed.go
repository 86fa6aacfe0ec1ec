// Package feed ingests the exchange market stream and serves it to the
// trading core as rolling candle windows, latest tickers, funding rates and
// orderbook snapshots. Events flow stream -> reorder buffer -> Feed, so
// consumers observe per-symbol timestamps in non-decreasing order.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// EventKind discriminates market stream events.
type EventKind string

const (
	EventTick    EventKind = "tick"
	EventCandle  EventKind = "candle"
	EventFunding EventKind = "funding"
	EventBook    EventKind = "book"
)

// Event is one timestamped market update for a single symbol. Exactly one
// payload pointer is set, matching Kind.
type Event struct {
	Kind      EventKind
	Symbol    string
	Timestamp time.Time

	Tick         *domain.Tick
	Candle       *domain.Candle
	CandleClosed bool
	Funding      *domain.FundingRate
	Book         *domain.OrderbookSnapshot
}

// MarketFeed is the only market data surface the core depends on. Strategy
// and position code never touch an exchange protocol directly.
type MarketFeed interface {
	Window(ctx context.Context, symbol string, interval domain.Interval, length int) ([]domain.Candle, error)
	Ticker(ctx context.Context, symbol string) (domain.Ticker, error)
	FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error)
	Orderbook(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error)
}

// Feed implements MarketFeed on top of in-memory state updated by Apply.
// Closed candles and funding rates are written through to the market cache;
// tickers churn too fast for inline writes and are persisted by the
// periodic snapshot job instead.
type Feed struct {
	cfg     config.FeedConfig
	cache   domain.MarketCache
	windows *WindowStore
	logger  *slog.Logger

	mu       sync.RWMutex
	tickers  map[string]domain.Ticker
	fundings map[string]domain.FundingRate
	books    map[string]domain.OrderbookSnapshot
}

// NewFeed creates a Feed. cache may be nil, disabling warm-up and
// write-through.
func NewFeed(cfg config.FeedConfig, cache domain.MarketCache, logger *slog.Logger) *Feed {
	return &Feed{
		cfg:      cfg,
		cache:    cache,
		windows:  NewWindowStore(cfg.MaxWindowSize),
		logger:   logger.With(slog.String("component", "feed")),
		tickers:  make(map[string]domain.Ticker),
		fundings: make(map[string]domain.FundingRate),
		books:    make(map[string]domain.OrderbookSnapshot),
	}
}

// WarmUp preloads candle windows from the market cache so strategies do not
// sit through a full warm-up period after every restart.
func (f *Feed) WarmUp(ctx context.Context, symbols []string, intervals []domain.Interval) {
	if f.cache == nil || !f.cfg.WarmupFromCache {
		return
	}
	for _, sym := range symbols {
		for _, iv := range intervals {
			candles, err := f.cache.GetCandles(ctx, sym, iv)
			if err != nil || len(candles) == 0 {
				continue
			}
			f.windows.Warm(sym, iv, candles)
			f.logger.Info("window warmed from cache",
				slog.String("symbol", sym),
				slog.String("interval", string(iv)),
				slog.Int("candles", len(candles)),
			)
		}
	}
}

// Apply folds one market event into the feed state. Callers must deliver
// events for a symbol in non-decreasing timestamp order; the reorder buffer
// guarantees that upstream.
func (f *Feed) Apply(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventTick:
		f.applyTick(ev)
	case EventCandle:
		f.applyCandle(ctx, ev)
	case EventFunding:
		f.applyFunding(ctx, ev)
	case EventBook:
		f.applyBook(ev)
	}
}

func (f *Feed) applyTick(ev Event) {
	if ev.Tick == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tickers[ev.Symbol]
	t.Symbol = ev.Symbol
	t.Last = ev.Tick.Price
	t.Timestamp = ev.Timestamp
	f.tickers[ev.Symbol] = t
}

func (f *Feed) applyCandle(ctx context.Context, ev Event) {
	if ev.Candle == nil {
		return
	}
	f.windows.Upsert(*ev.Candle)
	if !ev.CandleClosed || f.cache == nil {
		return
	}
	c := *ev.Candle
	snapshot := f.windows.Snapshot(c.Symbol, c.Interval)
	if err := f.cache.SetCandles(ctx, c.Symbol, c.Interval, snapshot); err != nil {
		f.logger.Warn("candle cache write failed",
			slog.String("symbol", c.Symbol),
			slog.String("interval", string(c.Interval)),
			slog.String("error", err.Error()),
		)
	}
}

func (f *Feed) applyFunding(ctx context.Context, ev Event) {
	if ev.Funding == nil {
		return
	}
	f.mu.Lock()
	f.fundings[ev.Symbol] = *ev.Funding
	f.mu.Unlock()
	if f.cache == nil {
		return
	}
	if err := f.cache.SetFunding(ctx, *ev.Funding); err != nil {
		f.logger.Warn("funding cache write failed",
			slog.String("symbol", ev.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (f *Feed) applyBook(ev Event) {
	if ev.Book == nil {
		return
	}
	snap := *ev.Book
	if snap.BestBid == 0 && len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if snap.BestAsk == 0 && len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	if snap.MidPrice == 0 && snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[ev.Symbol] = snap

	t := f.tickers[ev.Symbol]
	t.Symbol = ev.Symbol
	t.Bid = snap.BestBid
	t.Ask = snap.BestAsk
	if snap.MidPrice > 0 {
		t.MarkPrice = snap.MidPrice
	}
	t.Timestamp = ev.Timestamp
	f.tickers[ev.Symbol] = t
}

// Window returns a copy of the most recent length candles, oldest first.
func (f *Feed) Window(ctx context.Context, symbol string, interval domain.Interval, length int) ([]domain.Candle, error) {
	return f.windows.Window(symbol, interval, length)
}

// Ticker returns the latest top-of-book and last trade for a symbol.
func (f *Feed) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tickers[symbol]
	if !ok {
		return domain.Ticker{}, fmt.Errorf("feed: ticker %s: %w", symbol, domain.ErrNotFound)
	}
	return t, nil
}

// Tickers returns a copy of the latest ticker for every symbol seen on the
// stream. The snapshot job writes these through to the market cache.
func (f *Feed) Tickers() []domain.Ticker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.Ticker, 0, len(f.tickers))
	for _, t := range f.tickers {
		out = append(out, t)
	}
	return out
}

// FundingRate returns the latest funding rate for a symbol.
func (f *Feed) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fr, ok := f.fundings[symbol]
	if !ok {
		return domain.FundingRate{}, fmt.Errorf("feed: funding %s: %w", symbol, domain.ErrNotFound)
	}
	return fr, nil
}

// Orderbook returns the latest orderbook snapshot for a symbol.
func (f *Feed) Orderbook(ctx context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.books[symbol]
	if !ok {
		return domain.OrderbookSnapshot{}, fmt.Errorf("feed: orderbook %s: %w", symbol, domain.ErrNotFound)
	}
	return snap, nil
}
