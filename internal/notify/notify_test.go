package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/crypto"
	"github.com/dkwok94/stratcore/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	events []Event
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, event Event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"position_closed"}, 0, discardLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventPositionOpened, "Opened", "ignored"))
	require.NoError(t, n.Notify(ctx, EventPositionClosed, "Closed", "delivered"))

	require.Equal(t, 1, s.count())
	assert.Equal(t, EventPositionClosed, s.events[0])
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, 0, discardLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventBreakerTripped, "a", "b"))
	require.NoError(t, n.Notify(ctx, EventOpportunity, "c", "d"))
	assert.Equal(t, 2, s.count())
}

func TestNotifierRateCapsPerChannel(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, 1, discardLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventBreakerTripped, "first", ""))
	// Second delivery inside the same minute is dropped, not errored.
	require.NoError(t, n.Notify(ctx, EventBreakerReset, "second", ""))

	require.Equal(t, 1, s.count())
	assert.Equal(t, "first", s.titles[0])
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("refused")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, discardLogger())

	err := n.Notify(context.Background(), EventRiskTripped, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: refused")

	// The failing channel did not block the healthy one.
	assert.Equal(t, 1, good.count())
}

func TestFromConfigWithoutChannelsIsInert(t *testing.T) {
	n := FromConfig(config.NotifyConfig{}, discardLogger())
	assert.False(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), EventBreakerTripped, "t", "m"))
}

func TestTelegramSenderPostsSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), EventPositionClosed, "Closed long BTCUSDT", "details")
	require.NoError(t, err)
	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody["chat_id"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
	assert.Equal(t, "*Closed long BTCUSDT*\ndetails", gotBody["text"])
}

func TestDiscordSenderPostsContent(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), EventBreakerTripped, "Tripped", "halted"))
	assert.Equal(t, "**Tripped**\nhalted", gotBody["content"])
}

func TestDiscordSenderSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), EventBreakerTripped, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestWebhookSenderSignsPayload(t *testing.T) {
	var gotBody []byte
	var gotTS, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = b
		gotTS = r.Header.Get("X-Stratcore-Timestamp")
		gotSig = r.Header.Get("X-Stratcore-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "sekrit")
	require.NoError(t, s.Send(context.Background(), EventRiskTripped, "Risk tripped", "scope halted"))

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "risk_tripped", payload.Event)
	assert.Equal(t, "Risk tripped", payload.Title)
	assert.False(t, payload.SentAt.IsZero())

	signer := &crypto.WebhookSigner{Secret: "sekrit"}
	assert.True(t, signer.Verify(gotBody, gotTS, gotSig, time.Minute, time.Now()))
}

func TestWebhookSenderUnsignedWithoutSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Stratcore-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	require.NoError(t, s.Send(context.Background(), EventBreakerReset, "t", "m"))
	assert.Empty(t, gotSig)
}

func TestPositionClosedMessage(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, 0, discardLogger())

	opened := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	closed := opened.Add(95 * time.Minute)
	p := domain.Position{
		ID:          "pos-1",
		BotID:       "bot-1",
		Symbol:      "BTCUSDT",
		Direction:   domain.DirectionLong,
		Strategy:    "swing",
		RealizedPnL: 123.456,
		FeesPaid:    1.2,
		FundingPnL:  -0.3,
		Status:      domain.PositionClosed,
		OpenedAt:    opened,
		ClosedAt:    &closed,
	}

	require.NoError(t, n.PositionClosed(context.Background(), p))
	require.Equal(t, 1, s.count())
	assert.Equal(t, "Closed long BTCUSDT", s.titles[0])
	assert.Contains(t, s.bodies[0], "realized +123.46")
	assert.Contains(t, s.bodies[0], "1h35m0s")
}

func TestOpportunitiesTopThree(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, 0, discardLogger())

	var ops []domain.BasisOpportunity
	for i := 0; i < 5; i++ {
		ops = append(ops, domain.BasisOpportunity{
			SpotSymbol:       "BTCUSDT",
			FuturesSymbol:    "BTCUSDT-PERP",
			BasisPercent:     0.5 - float64(i)*0.1,
			AnnualizedReturn: 0.12,
			Type:             domain.BasisCashAndCarry,
		})
	}

	require.NoError(t, n.Opportunities(context.Background(), ops))
	require.Equal(t, 1, s.count())
	lines := strings.Split(s.bodies[0], "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "1. BTCUSDT/BTCUSDT-PERP 0.500% basis, 12.0% annualized")

	// No event at all for an empty scan.
	require.NoError(t, n.Opportunities(context.Background(), nil))
	assert.Equal(t, 1, s.count())
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	clipped := clip(strings.Repeat("a", 50), 10)
	assert.Equal(t, 10, len(clipped))
	assert.True(t, strings.HasSuffix(clipped, "…"))
}
