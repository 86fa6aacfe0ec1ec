package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/domain"
)

func newMockedCache(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return NewFromClient(db), mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketCacheCandlesRoundTrip(t *testing.T) {
	client, mock := newMockedCache(t)
	mc := NewMarketCache(client, time.Minute)
	ctx := context.Background()

	candles := []domain.Candle{
		{
			Symbol:   "BTCUSDT",
			Interval: domain.Interval1m,
			OpenTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Open:     100, High: 101, Low: 99, Close: 100.5, Volume: 12,
		},
	}
	data, err := json.Marshal(candles)
	require.NoError(t, err)

	key := "md:candles:BTCUSDT:1m"
	mock.ExpectTxPipeline()
	mock.ExpectHSet(key, "data", data).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, mc.SetCandles(ctx, "BTCUSDT", domain.Interval1m, candles))

	mock.ExpectHGet(key, "data").SetVal(string(data))

	got, err := mc.GetCandles(ctx, "BTCUSDT", domain.Interval1m)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, candles[0].Close, got[0].Close)
	assert.True(t, candles[0].OpenTime.Equal(got[0].OpenTime))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketCacheMissReturnsNotFound(t *testing.T) {
	client, mock := newMockedCache(t)
	mc := NewMarketCache(client, 0)
	ctx := context.Background()

	mock.ExpectHGet("md:candles:BTCUSDT:1m", "data").RedisNil()
	_, err := mc.GetCandles(ctx, "BTCUSDT", domain.Interval1m)
	require.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectGet("md:ticker:BTCUSDT").RedisNil()
	_, err = mc.GetTicker(ctx, "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectGet("md:funding:BTCUSDT").RedisNil()
	_, err = mc.GetFunding(ctx, "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketCacheTickerRoundTrip(t *testing.T) {
	client, mock := newMockedCache(t)
	mc := NewMarketCache(client, time.Minute)
	ctx := context.Background()

	ticker := domain.Ticker{
		Symbol: "ETHUSDT",
		Bid:    2000, Ask: 2001, Last: 2000.5, MarkPrice: 2000.4,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ticker)
	require.NoError(t, err)

	mock.ExpectSet("md:ticker:ETHUSDT", data, time.Minute).SetVal("OK")
	require.NoError(t, mc.SetTicker(ctx, ticker))

	mock.ExpectGet("md:ticker:ETHUSDT").SetVal(string(data))
	got, err := mc.GetTicker(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, ticker.Bid, got.Bid)
	assert.Equal(t, ticker.MarkPrice, got.MarkPrice)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCachePositionLifecycle(t *testing.T) {
	client, mock := newMockedCache(t)
	sc := NewSnapshotCache(client)
	ctx := context.Background()

	pos := domain.Position{ID: "pos-1", BotID: "bot-1", Symbol: "BTCUSDT"}
	data, err := json.Marshal(pos)
	require.NoError(t, err)

	mock.ExpectHSet("snap:positions", "pos-1", data).SetVal(1)
	require.NoError(t, sc.SetPosition(ctx, pos))

	mock.ExpectHGetAll("snap:positions").SetVal(map[string]string{
		"pos-1": string(data),
		"bad":   "{not json",
	})
	got, err := sc.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pos-1", got[0].ID)
	assert.Equal(t, "bot-1", got[0].BotID)

	mock.ExpectHDel("snap:positions", "pos-1").SetVal(1)
	require.NoError(t, sc.DeletePosition(ctx, "pos-1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheRiskState(t *testing.T) {
	client, mock := newMockedCache(t)
	sc := NewSnapshotCache(client)
	ctx := context.Background()

	state := domain.RiskState{
		Scope:       "account",
		DailyTrades: 7,
		Equity:      9500,
		PeakEquity:  10000,
		Tripped:     true,
		TripReason:  "max_daily_drawdown",
	}
	data, err := json.Marshal(state)
	require.NoError(t, err)

	mock.ExpectSet("snap:risk:account", data, time.Duration(0)).SetVal("OK")
	require.NoError(t, sc.SetRiskState(ctx, state))

	mock.ExpectGet("snap:risk:account").SetVal(string(data))
	got, err := sc.GetRiskState(ctx, "account")
	require.NoError(t, err)
	assert.True(t, got.Tripped)
	assert.Equal(t, "max_daily_drawdown", got.TripReason)

	mock.ExpectGet("snap:risk:missing").RedisNil()
	_, err = sc.GetRiskState(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheFlagsEmptySetDeletes(t *testing.T) {
	client, mock := newMockedCache(t)
	sc := NewSnapshotCache(client)
	ctx := context.Background()

	mock.ExpectDel("snap:flags:BTCUSDT").SetVal(1)
	require.NoError(t, sc.SetFlags(ctx, "BTCUSDT", nil))

	// A missing key is "no flags", not an error.
	mock.ExpectGet("snap:flags:BTCUSDT").RedisNil()
	flags, err := sc.GetFlags(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, flags)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBusPublish(t *testing.T) {
	client, mock := newMockedCache(t)
	bus := NewBus(client)

	mock.ExpectPublish(domain.ChannelPositions, []byte(`{"id":"pos-1"}`)).SetVal(1)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelPositions, []byte(`{"id":"pos-1"}`)))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("positions"))
	assert.True(t, hasPattern("bot:*"))
	assert.True(t, hasPattern("sig?nals"))
}

func TestLockHeldByAnotherParty(t *testing.T) {
	client, mock := newMockedCache(t)
	lm := NewLockManager(client, discardLogger())

	mock.Regexp().ExpectSetNX("lock:bot:BTCUSDT", `.+`, time.Minute).SetVal(false)

	_, err := lm.Acquire(context.Background(), "bot:BTCUSDT", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAcquireAndRelease(t *testing.T) {
	client, mock := newMockedCache(t)
	lm := NewLockManager(client, discardLogger())

	mock.Regexp().ExpectSetNX("lock:bot:BTCUSDT", `.+`, time.Minute).SetVal(true)
	mock.Regexp().ExpectEvalSha(`.*`, []string{"lock:bot:BTCUSDT"}, `.+`).SetVal(int64(1))

	unlock, err := lm.Acquire(context.Background(), "bot:BTCUSDT", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, unlock)

	unlock()
	// Releasing twice is a no-op.
	unlock()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshIntervalIsThirdOfTTLWithFloor(t *testing.T) {
	assert.Equal(t, 10*time.Second, refreshEvery(30*time.Second))
	assert.Equal(t, time.Second, refreshEvery(2*time.Second))
	assert.Equal(t, time.Second, refreshEvery(0))
}

func TestRateLimiterAllow(t *testing.T) {
	client, mock := newMockedCache(t)
	rl := NewRateLimiter(client)
	ctx := context.Background()

	mock.Regexp().ExpectEvalSha(`.*`, []string{"ratelimit:orders"}, `.+`, `.+`, `.+`).
		SetVal([]interface{}{int64(1), int64(3)})
	allowed, err := rl.Allow(ctx, "orders", 10, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)

	mock.Regexp().ExpectEvalSha(`.*`, []string{"ratelimit:orders"}, `.+`, `.+`, `.+`).
		SetVal([]interface{}{int64(0), int64(10)})
	allowed, err = rl.Allow(ctx, "orders", 10, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, mock.ExpectationsWereMet())
}
