package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/domain"
)

func barAt(openTime time.Time, close float64) domain.Candle {
	return domain.Candle{
		Symbol:   "BTCUSDT",
		Interval: domain.Interval1m,
		OpenTime: openTime,
		Open:     close - 0.5,
		High:     close + 1,
		Low:      close - 1,
		Close:    close,
		Volume:   10,
	}
}

func TestUpsertReplacesLiveBar(t *testing.T) {
	ws := NewWindowStore(100)

	ws.Upsert(barAt(feedStart, 100))
	ws.Upsert(barAt(feedStart, 100.7))

	require.Equal(t, 1, ws.Len("BTCUSDT", domain.Interval1m))
	window, err := ws.Window("BTCUSDT", domain.Interval1m, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.7, window[0].Close)
}

func TestWindowServesLastNOldestFirst(t *testing.T) {
	ws := NewWindowStore(100)
	for i := 0; i < 5; i++ {
		ws.Upsert(barAt(feedStart.Add(time.Duration(i)*time.Minute), 100+float64(i)))
	}

	window, err := ws.Window("BTCUSDT", domain.Interval1m, 3)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, 102.0, window[0].Close)
	assert.Equal(t, 104.0, window[2].Close)
}

func TestWindowInsufficientDataUntilWarm(t *testing.T) {
	ws := NewWindowStore(100)
	ws.Upsert(barAt(feedStart, 100))
	ws.Upsert(barAt(feedStart.Add(time.Minute), 101))

	_, err := ws.Window("BTCUSDT", domain.Interval1m, 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	// Another interval has its own series and its own warm-up.
	_, err = ws.Window("BTCUSDT", domain.Interval5m, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestWindowReturnsIsolatedCopy(t *testing.T) {
	ws := NewWindowStore(100)
	ws.Upsert(barAt(feedStart, 100))

	window, err := ws.Window("BTCUSDT", domain.Interval1m, 1)
	require.NoError(t, err)
	window[0].Close = -1

	again, err := ws.Window("BTCUSDT", domain.Interval1m, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, again[0].Close)
}

func TestBoundedSeriesEvictsOldest(t *testing.T) {
	ws := NewWindowStore(3)
	for i := 0; i < 5; i++ {
		ws.Upsert(barAt(feedStart.Add(time.Duration(i)*time.Minute), 100+float64(i)))
	}

	require.Equal(t, 3, ws.Len("BTCUSDT", domain.Interval1m))
	window, err := ws.Window("BTCUSDT", domain.Interval1m, 3)
	require.NoError(t, err)
	assert.Equal(t, 102.0, window[0].Close)
	assert.Equal(t, 104.0, window[2].Close)
}

func TestOutOfOrderBarInsertedInPlace(t *testing.T) {
	ws := NewWindowStore(100)
	ws.Upsert(barAt(feedStart, 100))
	ws.Upsert(barAt(feedStart.Add(2*time.Minute), 102))
	ws.Upsert(barAt(feedStart.Add(time.Minute), 101))

	window, err := ws.Window("BTCUSDT", domain.Interval1m, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.0, window[0].Close)
	assert.Equal(t, 101.0, window[1].Close)
	assert.Equal(t, 102.0, window[2].Close)
}

func TestWarmSortsAndDeduplicates(t *testing.T) {
	ws := NewWindowStore(100)
	ws.Warm("BTCUSDT", domain.Interval1m, []domain.Candle{
		barAt(feedStart.Add(2*time.Minute), 102),
		barAt(feedStart, 100),
		barAt(feedStart.Add(time.Minute), 101),
		barAt(feedStart, 100.5),
	})

	require.Equal(t, 3, ws.Len("BTCUSDT", domain.Interval1m))
	window, err := ws.Window("BTCUSDT", domain.Interval1m, 3)
	require.NoError(t, err)
	assert.Equal(t, 100.5, window[0].Close, "duplicate open time keeps the last occurrence")
	assert.Equal(t, 102.0, window[2].Close)
}

func TestSnapshotCopiesFullSeries(t *testing.T) {
	ws := NewWindowStore(100)
	assert.Nil(t, ws.Snapshot("BTCUSDT", domain.Interval1m))

	ws.Upsert(barAt(feedStart, 100))
	ws.Upsert(barAt(feedStart.Add(time.Minute), 101))

	snap := ws.Snapshot("BTCUSDT", domain.Interval1m)
	require.Len(t, snap, 2)
	snap[0].Close = -1

	window, err := ws.Window("BTCUSDT", domain.Interval1m, 2)
	require.NoError(t, err)
	assert.Equal(t, 100.0, window[0].Close)
}
