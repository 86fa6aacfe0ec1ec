package feed

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dkwok94/stratcore/internal/domain"
)

// defaultMaxWindow bounds a series when no limit is configured.
const defaultMaxWindow = 500

// WindowStore keeps a bounded rolling candle series per symbol and interval.
// Candles are upserted by open time, so a live bar can be streamed repeatedly
// before it closes.
type WindowStore struct {
	maxLen int

	mu     sync.RWMutex
	series map[windowKey][]domain.Candle
}

type windowKey struct {
	symbol   string
	interval domain.Interval
}

// NewWindowStore creates a store that keeps at most maxLen candles per
// symbol and interval.
func NewWindowStore(maxLen int) *WindowStore {
	if maxLen <= 0 {
		maxLen = defaultMaxWindow
	}
	return &WindowStore{
		maxLen: maxLen,
		series: make(map[windowKey][]domain.Candle),
	}
}

// Upsert folds one candle into its series, replacing an existing bar with
// the same open time and evicting the oldest bars past the length bound.
func (w *WindowStore) Upsert(c domain.Candle) {
	key := windowKey{c.Symbol, c.Interval}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := insertCandle(w.series[key], c)
	if len(s) > w.maxLen {
		trimmed := make([]domain.Candle, w.maxLen)
		copy(trimmed, s[len(s)-w.maxLen:])
		s = trimmed
	}
	w.series[key] = s
}

// Warm bulk-loads candles recovered from the cache. Input order does not
// matter; duplicate open times keep the last occurrence.
func (w *WindowStore) Warm(symbol string, interval domain.Interval, candles []domain.Candle) {
	for _, c := range candles {
		c.Symbol = symbol
		c.Interval = interval
		w.Upsert(c)
	}
}

// Window returns a copy of the most recent length candles, oldest first. It
// fails with ErrInsufficientData until the series has warmed up.
func (w *WindowStore) Window(symbol string, interval domain.Interval, length int) ([]domain.Candle, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := w.series[windowKey{symbol, interval}]
	if length <= 0 || len(s) < length {
		return nil, fmt.Errorf("feed: %s %s window has %d of %d candles: %w",
			symbol, interval, len(s), length, domain.ErrInsufficientData)
	}
	out := make([]domain.Candle, length)
	copy(out, s[len(s)-length:])
	return out, nil
}

// Snapshot returns a copy of the full series, oldest first.
func (w *WindowStore) Snapshot(symbol string, interval domain.Interval) []domain.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := w.series[windowKey{symbol, interval}]
	if len(s) == 0 {
		return nil
	}
	out := make([]domain.Candle, len(s))
	copy(out, s)
	return out
}

// Len reports how many candles the series currently holds.
func (w *WindowStore) Len(symbol string, interval domain.Interval) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.series[windowKey{symbol, interval}])
}

// insertCandle places c into the open-time-sorted series, replacing an
// existing bar with the same open time.
func insertCandle(s []domain.Candle, c domain.Candle) []domain.Candle {
	if n := len(s); n == 0 || s[n-1].OpenTime.Before(c.OpenTime) {
		return append(s, c)
	}
	i := sort.Search(len(s), func(i int) bool {
		return !s[i].OpenTime.Before(c.OpenTime)
	})
	if i < len(s) && s[i].OpenTime.Equal(c.OpenTime) {
		s[i] = c
		return s
	}
	s = append(s, domain.Candle{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}
