package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/metrics"
	"github.com/dkwok94/stratcore/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][]string)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], string(payload))
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) published(channel string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages[channel]...)
}

// memSender records delivered notifications in order.
type memSender struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *memSender) Send(_ context.Context, event notify.Event, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memSender) Name() string { return "mem" }

func (s *memSender) delivered() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.events...)
}

func notifierWith(s *memSender) *notify.Notifier {
	return notify.NewNotifier([]notify.Sender{s}, nil, 0, discardLogger())
}

type memPositionStore struct {
	mu      sync.Mutex
	upserts []domain.Position
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, pos)
	return nil
}

func (s *memPositionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

type memSnapshots struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	risk      []domain.RiskState
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{positions: make(map[string]domain.Position)}
}

func (s *memSnapshots) SetPosition(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *memSnapshots) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
	return nil
}

func (s *memSnapshots) SetRiskState(_ context.Context, state domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = append(s.risk, state)
	return nil
}

func (s *memSnapshots) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[id]
	return ok
}

type memRiskStore struct {
	mu     sync.Mutex
	states []domain.RiskState
	events []domain.RiskEvent
}

func (s *memRiskStore) SaveState(_ context.Context, state domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *memRiskStore) InsertEvent(_ context.Context, ev domain.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type memBasisStore struct {
	mu    sync.Mutex
	scans [][]domain.BasisOpportunity
}

func (s *memBasisStore) InsertScan(_ context.Context, opps []domain.BasisOpportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, opps)
	return nil
}

func TestPositionFanoutLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &memPositionStore{}
	snaps := newMemSnapshots()
	bus := newMemBus()
	sender := &memSender{}
	m := metrics.New()

	fanout := newPositionFanout(store, snaps, bus, m, notifierWith(sender), discardLogger())

	pos := domain.Position{ID: "p1", BotID: "bot-1", Symbol: "BTCUSDT", Status: domain.PositionPendingEntry}
	fanout.Publish(ctx, pos)

	require.Equal(t, 1, store.count())
	assert.True(t, snaps.has("p1"))
	assert.Empty(t, sender.delivered(), "pending entry is not an open notification")

	pos.Status = domain.PositionOpen
	fanout.Publish(ctx, pos)
	require.Equal(t, []notify.Event{notify.EventPositionOpened}, sender.delivered())

	// Mark-to-market refresh with unchanged status stays quiet.
	fanout.Publish(ctx, pos)
	require.Len(t, sender.delivered(), 1)

	pos.Status = domain.PositionClosed
	pos.RealizedPnL = 12.5
	fanout.Publish(ctx, pos)

	assert.False(t, snaps.has("p1"), "terminal position leaves the snapshot cache")
	assert.Equal(t, []notify.Event{notify.EventPositionOpened, notify.EventPositionClosed}, sender.delivered())
	assert.InDelta(t, 12.5, testutil.ToFloat64(m.RealizedPnL), 1e-9)
	assert.Len(t, bus.published(domain.ChannelPositions), 4)
}

func TestPositionFanoutAdoptedPositionNotReannounced(t *testing.T) {
	ctx := context.Background()
	sender := &memSender{}
	fanout := newPositionFanout(&memPositionStore{}, newMemSnapshots(), newMemBus(), metrics.New(), notifierWith(sender), discardLogger())

	adopted := domain.Position{ID: "p2", BotID: "bot-2", Symbol: "ETHUSDT", Status: domain.PositionOpen}
	fanout.Adopt(adopted)

	fanout.Publish(ctx, adopted)
	assert.Empty(t, sender.delivered(), "an adopted open position was announced in a previous life")

	adopted.Status = domain.PositionErrored
	fanout.Publish(ctx, adopted)
	assert.Equal(t, []notify.Event{notify.EventPositionError}, sender.delivered())
}

func TestRiskFanoutPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := &memRiskStore{}
	snaps := newMemSnapshots()
	sender := &memSender{}

	fanout := &riskFanout{
		store:     store,
		snapshots: snaps,
		bus:       newMemBus(),
		notifier:  notifierWith(sender),
		logger:    discardLogger(),
	}

	state := domain.RiskState{Scope: "account", Equity: 900, PeakEquity: 1000, Tripped: true, TripReason: "max_drawdown"}
	fanout.Publish(ctx, state, &domain.RiskEvent{Scope: "account", Kind: domain.RiskEventTrip, Trigger: "max_drawdown"})

	require.Len(t, store.states, 1)
	require.Len(t, store.events, 1)
	require.Len(t, snaps.risk, 1)
	assert.Equal(t, []notify.Event{notify.EventRiskTripped}, sender.delivered())

	// Rejections land in the audit trail without paging anyone.
	fanout.Publish(ctx, state, &domain.RiskEvent{Scope: "account", Kind: domain.RiskEventRejection, Trigger: "max_notional"})
	require.Len(t, store.events, 2)
	assert.Len(t, sender.delivered(), 1)

	fanout.Publish(ctx, domain.RiskState{Scope: "account", Equity: 900, PeakEquity: 1000},
		&domain.RiskEvent{Scope: "account", Kind: domain.RiskEventReset, Operator: "ops"})
	assert.Equal(t, []notify.Event{notify.EventRiskTripped, notify.EventRiskReset}, sender.delivered())
}

func TestScanFanoutPublishesEmptyScans(t *testing.T) {
	ctx := context.Background()
	store := &memBasisStore{}
	bus := newMemBus()
	sender := &memSender{}

	fanout := &scanFanout{store: store, bus: bus, notifier: notifierWith(sender), logger: discardLogger()}

	fanout.Publish(ctx, nil)

	// Consumers see an explicit empty scan so stale listings clear.
	require.Equal(t, []string{"[]"}, bus.published(domain.ChannelOpportunities))
	assert.Empty(t, sender.delivered())

	opps := []domain.BasisOpportunity{{
		SpotSymbol:    "BTCUSDT",
		FuturesSymbol: "BTCUSDT-PERP",
		BasisPercent:  0.4,
		ScannedAt:     time.Now().UTC(),
	}}
	fanout.Publish(ctx, opps)

	require.Len(t, store.scans, 2)
	assert.Len(t, bus.published(domain.ChannelOpportunities), 2)
	assert.Equal(t, []notify.Event{notify.EventOpportunity}, sender.delivered())
}

func TestBreakerStatsNotifiesOnTransitions(t *testing.T) {
	m := metrics.New()
	sender := &memSender{}
	stats := &breakerStats{metrics: m, notifier: notifierWith(sender), logger: discardLogger()}

	stats.SetBreakerState("open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
	assert.Equal(t, []notify.Event{notify.EventBreakerTripped}, sender.delivered())

	stats.SetBreakerState("half-open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState))
	assert.Len(t, sender.delivered(), 1, "probing is not an operator event")

	stats.SetBreakerState("closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState))
	assert.Equal(t, []notify.Event{notify.EventBreakerTripped, notify.EventBreakerReset}, sender.delivered())
}
