package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/domain"
)

// fakeBus is an in-process EventBus for hub tests.
type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan []byte)}
}

// Publish waits briefly for the hub's pump to subscribe so tests cannot race
// hub startup.
func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		ch, ok := b.subs[channel]
		b.mu.Unlock()
		if ok {
			ch <- payload
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no subscriber for %s", channel)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestHubSendsHelloOnConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	hub := NewHub(bus, discardLogger(), Config{
		Mode:      "run",
		StartedAt: time.Now().Add(-time.Minute),
		LiveBots:  func() int { return 3 },
	})
	go hub.Run(ctx)

	conn, done := dialHub(t, hub)
	defer done()

	env := readEnvelope(t, conn)
	assert.Equal(t, "status", env.Channel)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "run", payload["mode"])
	assert.Equal(t, float64(3), payload["live_bots"])
	assert.GreaterOrEqual(t, payload["uptime_seconds"].(float64), float64(60))
}

func TestHubBroadcastsBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	hub := NewHub(bus, discardLogger(), Config{Mode: "run"})
	go hub.Run(ctx)

	conn, done := dialHub(t, hub)
	defer done()

	// Discard the hello frame.
	readEnvelope(t, conn)

	payload := []byte(`{"id":"pos-1","symbol":"BTCUSDT"}`)
	require.NoError(t, bus.Publish(ctx, domain.ChannelPositions, payload))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelPositions, env.Channel)
	assert.JSONEq(t, string(payload), string(env.Data))
}

func TestHubUnsubscribeStopsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	hub := NewHub(bus, discardLogger(), Config{Mode: "run"})
	go hub.Run(ctx)

	conn, done := dialHub(t, hub)
	defer done()

	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{
		Action:   "unsubscribe",
		Channels: []string{domain.ChannelTicks},
	}))

	// Give the read pump a moment to apply the change, then publish on the
	// dropped channel and on one still subscribed.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, bus.Publish(ctx, domain.ChannelTicks, []byte(`{"n":1}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelRisk, []byte(`{"n":2}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelRisk, env.Channel)
}
