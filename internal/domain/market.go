package domain

import "time"

// Interval identifies a candle timeframe.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Duration returns the wall-clock length of one candle.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether the interval is one of the supported timeframes.
func (i Interval) Valid() bool {
	return i.Duration() > 0
}

// Candle is a single OHLCV bar for a symbol.
type Candle struct {
	Symbol   string
	Interval Interval
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Ticker is the latest top-of-book and mark price for a symbol.
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	MarkPrice float64
	Timestamp time.Time
}

// Mid returns the bid/ask midpoint, falling back to the last trade when
// one side of the book is empty.
func (t Ticker) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Spread returns the absolute bid/ask spread.
func (t Ticker) Spread() float64 {
	if t.Bid <= 0 || t.Ask <= 0 {
		return 0
	}
	return t.Ask - t.Bid
}

// FundingRate is the current perpetual funding rate for a symbol.
// Rate is the per-interval fraction (e.g. 0.0001 = 1 bps per period).
type FundingRate struct {
	Symbol    string
	Rate      float64
	NextTime  time.Time
	Timestamp time.Time
}

// Tick is a single trade print.
type Tick struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a snapshot of bids and asks for a symbol.
type OrderbookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// Imbalance returns (bidVolume - askVolume) / (bidVolume + askVolume) over
// the top depth levels per side. Range [-1, 1]; zero when the book is empty.
func (s OrderbookSnapshot) Imbalance(depth int) float64 {
	var bid, ask float64
	for i, lvl := range s.Bids {
		if depth > 0 && i >= depth {
			break
		}
		bid += lvl.Size
	}
	for i, lvl := range s.Asks {
		if depth > 0 && i >= depth {
			break
		}
		ask += lvl.Size
	}
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}
