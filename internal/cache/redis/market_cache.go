package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	defaultMarketTTL = 5 * time.Minute

	// maxCachedCandles bounds the persisted window so restart warm-up never
	// pulls more than the largest cadence window needs.
	maxCachedCandles = 500
)

// MarketCache implements domain.MarketCache using JSON snapshots per symbol.
//
// Key schema:
//
//	md:candles:{symbol}:{interval} - hash with field "data" containing a JSON
//	                                 array of closed candles, oldest first
//	md:ticker:{symbol}             - JSON ticker snapshot
//	md:funding:{symbol}            - JSON funding rate snapshot
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A
// non-positive ttl falls back to the 5-minute default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func candlesKey(symbol string, interval domain.Interval) string {
	return "md:candles:" + symbol + ":" + string(interval)
}
func tickerKey(symbol string) string  { return "md:ticker:" + symbol }
func fundingKey(symbol string) string { return "md:funding:" + symbol }

// SetCandles replaces the cached candle window for a symbol and interval.
// Only the newest maxCachedCandles bars are kept.
func (mc *MarketCache) SetCandles(ctx context.Context, symbol string, interval domain.Interval, candles []domain.Candle) error {
	if len(candles) > maxCachedCandles {
		candles = candles[len(candles)-maxCachedCandles:]
	}

	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("redis: marshal candles %s/%s: %w", symbol, interval, err)
	}

	key := candlesKey(symbol, interval)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set candles %s/%s: %w", symbol, interval, err)
	}
	return nil
}

// GetCandles retrieves the cached candle window for a symbol and interval.
// It returns domain.ErrNotFound when no window has been cached.
func (mc *MarketCache) GetCandles(ctx context.Context, symbol string, interval domain.Interval) ([]domain.Candle, error) {
	data, err := mc.rdb.HGet(ctx, candlesKey(symbol, interval), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get candles %s/%s: %w", symbol, interval, err)
	}

	var candles []domain.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("redis: unmarshal candles %s/%s: %w", symbol, interval, err)
	}
	return candles, nil
}

// SetTicker stores the latest ticker snapshot for the ticker's symbol.
func (mc *MarketCache) SetTicker(ctx context.Context, ticker domain.Ticker) error {
	data, err := json.Marshal(ticker)
	if err != nil {
		return fmt.Errorf("redis: marshal ticker %s: %w", ticker.Symbol, err)
	}
	if err := mc.rdb.Set(ctx, tickerKey(ticker.Symbol), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set ticker %s: %w", ticker.Symbol, err)
	}
	return nil
}

// GetTicker retrieves the latest ticker snapshot for a symbol.
// It returns domain.ErrNotFound when no ticker has been cached.
func (mc *MarketCache) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	data, err := mc.rdb.Get(ctx, tickerKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Ticker{}, domain.ErrNotFound
		}
		return domain.Ticker{}, fmt.Errorf("redis: get ticker %s: %w", symbol, err)
	}

	var ticker domain.Ticker
	if err := json.Unmarshal(data, &ticker); err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: unmarshal ticker %s: %w", symbol, err)
	}
	return ticker, nil
}

// SetFunding stores the latest funding rate for the rate's symbol.
func (mc *MarketCache) SetFunding(ctx context.Context, funding domain.FundingRate) error {
	data, err := json.Marshal(funding)
	if err != nil {
		return fmt.Errorf("redis: marshal funding %s: %w", funding.Symbol, err)
	}
	if err := mc.rdb.Set(ctx, fundingKey(funding.Symbol), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set funding %s: %w", funding.Symbol, err)
	}
	return nil
}

// GetFunding retrieves the latest funding rate for a symbol.
// It returns domain.ErrNotFound when no rate has been cached.
func (mc *MarketCache) GetFunding(ctx context.Context, symbol string) (domain.FundingRate, error) {
	data, err := mc.rdb.Get(ctx, fundingKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FundingRate{}, domain.ErrNotFound
		}
		return domain.FundingRate{}, fmt.Errorf("redis: get funding %s: %w", symbol, err)
	}

	var funding domain.FundingRate
	if err := json.Unmarshal(data, &funding); err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: unmarshal funding %s: %w", symbol, err)
	}
	return funding, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
