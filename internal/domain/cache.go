package domain

import (
	"context"
	"time"
)

// MarketCache holds the latest market data per symbol for fast reads and
// restart warm-up.
type MarketCache interface {
	SetCandles(ctx context.Context, symbol string, interval Interval, candles []Candle) error
	GetCandles(ctx context.Context, symbol string, interval Interval) ([]Candle, error)
	SetTicker(ctx context.Context, ticker Ticker) error
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	SetFunding(ctx context.Context, funding FundingRate) error
	GetFunding(ctx context.Context, symbol string) (FundingRate, error)
}

// SnapshotCache exposes live core state to outer layers as read-only
// projections.
type SnapshotCache interface {
	SetPosition(ctx context.Context, pos Position) error
	DeletePosition(ctx context.Context, id string) error
	ListPositions(ctx context.Context) ([]Position, error)
	SetRiskState(ctx context.Context, state RiskState) error
	GetRiskState(ctx context.Context, scope string) (RiskState, error)
	SetFlags(ctx context.Context, symbol string, flags []ManipulationFlag) error
	GetFlags(ctx context.Context, symbol string) ([]ManipulationFlag, error)
}

// EventBus provides pub/sub fan-out of core events to projections such as
// the websocket hub.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event bus channels published by the core.
const (
	ChannelSignals       = "signals"
	ChannelConfirmations = "confirmations"
	ChannelPositions     = "positions"
	ChannelRisk          = "risk"
	ChannelOpportunities = "opportunities"
	ChannelFlags         = "flags"
	ChannelTicks         = "ticks"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to guarantee a single
// running pipeline per bot across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
