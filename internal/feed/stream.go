package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkwok94/stratcore/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// reconnectWait is the base delay before reconnecting; backoff doubles
	// it up to maxReconnectWait.
	reconnectWait    = 2 * time.Second
	maxReconnectWait = 60 * time.Second
)

// Handler receives decoded stream events in arrival order.
type Handler func(Event)

// Stream is a websocket market data client. Run dials the stream, subscribes
// the configured symbols and delivers every decoded event to the handler,
// reconnecting with exponential backoff and resubscribing on disconnect.
type Stream struct {
	url     string
	symbols []string
	handler Handler
	logger  *slog.Logger

	reconnectWait    time.Duration
	maxReconnectWait time.Duration
}

// NewStream creates a market stream client for the given endpoint.
func NewStream(url string, symbols []string, handler Handler, logger *slog.Logger) *Stream {
	return &Stream{
		url:              url,
		symbols:          symbols,
		handler:          handler,
		logger:           logger.With(slog.String("component", "stream")),
		reconnectWait:    reconnectWait,
		maxReconnectWait: maxReconnectWait,
	}
}

// Run connects and reads until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		s.logger.Info("no symbols to stream, exiting")
		return nil
	}
	s.logger.Info("market stream started",
		slog.String("url", s.url),
		slog.Int("symbols", len(s.symbols)),
	)
	defer s.logger.Info("market stream stopped")

	delay := s.reconnectWait
	for {
		start := time.Now()
		err := s.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that held for a while resets the backoff.
		if time.Since(start) > s.maxReconnectWait {
			delay = s.reconnectWait
		}
		s.logger.Warn("market stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.maxReconnectWait {
			delay = s.maxReconnectWait
		}
	}
}

// runConnection owns a single websocket session: dial, subscribe, ping loop
// and read loop. It returns when the connection drops or ctx is cancelled.
func (s *Stream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", s.url, err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx is cancelled; gorilla reads do not
	// take a context.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.logger.Info("market stream subscribed", slog.Int("symbols", len(s.symbols)))

	go s.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		s.handleMessage(raw)
	}
}

// subscribe must complete before the ping loop starts so the connection has
// a single writer at any time.
func (s *Stream) subscribe(conn *websocket.Conn) error {
	cmd := streamCommand{Op: "subscribe", Symbols: s.symbols}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleMessage(raw []byte) {
	ev, err := parseEvent(raw)
	if err != nil {
		s.logger.Debug("stream message dropped",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(raw)),
		)
		return
	}
	s.handler(ev)
}

// streamCommand is the frame sent to subscribe or unsubscribe symbols.
type streamCommand struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Wire frames are flat JSON tagged with a "type" field; timestamps are unix
// milliseconds.
type wireEnvelope struct {
	Type string `json:"type"`
}

type wireTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	TS     int64   `json:"ts"`
}

type wireCandle struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Closed   bool    `json:"closed"`
	TS       int64   `json:"ts"`
}

type wireFunding struct {
	Symbol   string  `json:"symbol"`
	Rate     float64 `json:"rate"`
	NextTime int64   `json:"next_time"`
	TS       int64   `json:"ts"`
}

type wireBook struct {
	Symbol string       `json:"symbol"`
	Bids   [][2]float64 `json:"bids"`
	Asks   [][2]float64 `json:"asks"`
	TS     int64        `json:"ts"`
}

func parseEvent(raw []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("feed: decode envelope: %w", err)
	}

	switch env.Type {
	case "tick":
		var msg wireTick
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Event{}, fmt.Errorf("feed: decode tick: %w", err)
		}
		if msg.Symbol == "" {
			return Event{}, fmt.Errorf("feed: tick without symbol")
		}
		ts := time.UnixMilli(msg.TS).UTC()
		return Event{
			Kind:      EventTick,
			Symbol:    msg.Symbol,
			Timestamp: ts,
			Tick: &domain.Tick{
				Symbol:    msg.Symbol,
				Price:     msg.Price,
				Size:      msg.Size,
				Timestamp: ts,
			},
		}, nil

	case "candle":
		var msg wireCandle
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Event{}, fmt.Errorf("feed: decode candle: %w", err)
		}
		if msg.Symbol == "" {
			return Event{}, fmt.Errorf("feed: candle without symbol")
		}
		iv := domain.Interval(msg.Interval)
		if !iv.Valid() {
			return Event{}, fmt.Errorf("feed: candle with unknown interval %q", msg.Interval)
		}
		ts := time.UnixMilli(msg.TS).UTC()
		openTime := time.UnixMilli(msg.OpenTime).UTC()
		if msg.OpenTime == 0 {
			openTime = ts.Truncate(iv.Duration())
		}
		return Event{
			Kind:      EventCandle,
			Symbol:    msg.Symbol,
			Timestamp: ts,
			Candle: &domain.Candle{
				Symbol:   msg.Symbol,
				Interval: iv,
				OpenTime: openTime,
				Open:     msg.Open,
				High:     msg.High,
				Low:      msg.Low,
				Close:    msg.Close,
				Volume:   msg.Volume,
			},
			CandleClosed: msg.Closed,
		}, nil

	case "funding":
		var msg wireFunding
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Event{}, fmt.Errorf("feed: decode funding: %w", err)
		}
		if msg.Symbol == "" {
			return Event{}, fmt.Errorf("feed: funding without symbol")
		}
		ts := time.UnixMilli(msg.TS).UTC()
		return Event{
			Kind:      EventFunding,
			Symbol:    msg.Symbol,
			Timestamp: ts,
			Funding: &domain.FundingRate{
				Symbol:    msg.Symbol,
				Rate:      msg.Rate,
				NextTime:  time.UnixMilli(msg.NextTime).UTC(),
				Timestamp: ts,
			},
		}, nil

	case "book":
		var msg wireBook
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Event{}, fmt.Errorf("feed: decode book: %w", err)
		}
		if msg.Symbol == "" {
			return Event{}, fmt.Errorf("feed: book without symbol")
		}
		ts := time.UnixMilli(msg.TS).UTC()
		return Event{
			Kind:      EventBook,
			Symbol:    msg.Symbol,
			Timestamp: ts,
			Book: &domain.OrderbookSnapshot{
				Symbol:    msg.Symbol,
				Bids:      toLevels(msg.Bids),
				Asks:      toLevels(msg.Asks),
				Timestamp: ts,
			},
		}, nil

	default:
		return Event{}, fmt.Errorf("feed: unknown event type %q", env.Type)
	}
}

func toLevels(raw [][2]float64) []domain.PriceLevel {
	if len(raw) == 0 {
		return nil
	}
	levels := make([]domain.PriceLevel, len(raw))
	for i, pair := range raw {
		levels[i] = domain.PriceLevel{Price: pair[0], Size: pair[1]}
	}
	return levels
}
