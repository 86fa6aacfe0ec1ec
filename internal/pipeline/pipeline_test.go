package pipeline

import (
	"context"
	"errors"
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
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeColdStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	counts  map[string]int64
	failOn  string
}

func (f *fakeColdStore) archive(kind string, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == kind {
		return 0, errors.New("s3 unavailable")
	}
	f.cutoffs = append(f.cutoffs, before)
	return f.counts[kind], nil
}

func (f *fakeColdStore) ArchivePositions(_ context.Context, before time.Time) (int64, error) {
	return f.archive("positions", before)
}

func (f *fakeColdStore) ArchiveSignals(_ context.Context, before time.Time) (int64, error) {
	return f.archive("signals", before)
}

func (f *fakeColdStore) ArchiveScans(_ context.Context, before time.Time) (int64, error) {
	return f.archive("scans", before)
}

func (f *fakeColdStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeRecorder struct {
	mu      sync.Mutex
	flushes int
	err     error
}

func (f *fakeRecorder) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.err
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

type fakeRisk struct{ state domain.RiskState }

func (f *fakeRisk) State() domain.RiskState { return f.state }

type fakeFlags struct {
	mu    sync.Mutex
	flags []domain.ManipulationFlag
}

func (f *fakeFlags) AllActive(time.Time) []domain.ManipulationFlag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

func (f *fakeFlags) set(flags ...domain.ManipulationFlag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = flags
}

type fakeSnapTarget struct {
	mu        sync.Mutex
	risk      []domain.RiskState
	flags     map[string][]domain.ManipulationFlag
	positions []domain.Position
}

func newFakeSnapTarget() *fakeSnapTarget {
	return &fakeSnapTarget{flags: make(map[string][]domain.ManipulationFlag)}
}

func (f *fakeSnapTarget) SetRiskState(_ context.Context, st domain.RiskState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.risk = append(f.risk, st)
	return nil
}

func (f *fakeSnapTarget) SetFlags(_ context.Context, symbol string, flags []domain.ManipulationFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(flags) == 0 {
		delete(f.flags, symbol)
		return nil
	}
	f.flags[symbol] = flags
	return nil
}

func (f *fakeSnapTarget) ListPositions(context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, nil
}

func (f *fakeSnapTarget) riskRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.risk)
}

type fakeMarketSource struct{ tickers []domain.Ticker }

func (f *fakeMarketSource) Tickers() []domain.Ticker { return f.tickers }

type fakeMarketTarget struct {
	mu      sync.Mutex
	tickers map[string]domain.Ticker
	failOn  string
}

func newFakeMarketTarget() *fakeMarketTarget {
	return &fakeMarketTarget{tickers: make(map[string]domain.Ticker)}
}

func (f *fakeMarketTarget) SetTicker(_ context.Context, t domain.Ticker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == t.Symbol {
		return errors.New("redis gone")
	}
	f.tickers[t.Symbol] = t
	return nil
}

func TestArchiveRunUsesRetentionCutoff(t *testing.T) {
	store := &fakeColdStore{counts: map[string]int64{"positions": 4, "signals": 9}}
	rec := &fakeRecorder{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NewArchiver(store, rec, 30, discardLogger())
	a.SetClock(func() time.Time { return now })

	require.NoError(t, a.Run(context.Background()))

	want := now.Add(-30 * 24 * time.Hour)
	require.Len(t, store.cutoffs, 3)
	for _, c := range store.cutoffs {
		assert.True(t, c.Equal(want), "cutoff %v, want %v", c, want)
	}
	assert.Equal(t, 1, rec.count())
}

func TestArchiveRunStopsOnDrainError(t *testing.T) {
	store := &fakeColdStore{failOn: "signals"}
	a := NewArchiver(store, nil, 7, discardLogger())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving signals")
	// Positions drained before the failure; scans never ran.
	assert.Equal(t, 1, store.calls())
}

func TestArchiveRunFlushFailureSkipsDrain(t *testing.T) {
	store := &fakeColdStore{}
	rec := &fakeRecorder{err: errors.New("put refused")}
	a := NewArchiver(store, rec, 7, discardLogger())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flushing candle recorder")
	assert.Equal(t, 0, store.calls())
}

func TestSnapshotterProjectsRiskAndFlags(t *testing.T) {
	st := domain.RiskState{Scope: "account", Equity: 10_500, PeakEquity: 11_000, DailyTrades: 3}
	flags := &fakeFlags{}
	flags.set(
		domain.ManipulationFlag{Symbol: "BTCUSDT", Kind: domain.FlagPump, Severity: 0.8},
		domain.ManipulationFlag{Symbol: "DOGEUSDT", Kind: domain.FlagDump, Severity: 0.6},
	)
	target := newFakeSnapTarget()
	target.positions = []domain.Position{
		{ID: "p1", Status: domain.PositionOpen},
		{ID: "p2", Status: domain.PositionPendingEntry},
		{ID: "p3", Status: domain.PositionClosed},
	}
	m := metrics.New()

	s := NewSnapshotter(&fakeRisk{state: st}, flags, target, m, discardLogger())
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, target.risk, 1)
	assert.Equal(t, st, target.risk[0])
	assert.Len(t, target.flags["BTCUSDT"], 1)
	assert.Len(t, target.flags["DOGEUSDT"], 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPositions))
}

func TestSnapshotterClearsStaleFlags(t *testing.T) {
	flags := &fakeFlags{}
	flags.set(domain.ManipulationFlag{Symbol: "BTCUSDT", Kind: domain.FlagPump})
	target := newFakeSnapTarget()

	s := NewSnapshotter(&fakeRisk{}, flags, target, nil, discardLogger())
	require.NoError(t, s.Run(context.Background()))
	require.Contains(t, target.flags, "BTCUSDT")

	flags.set() // flag expired
	require.NoError(t, s.Run(context.Background()))
	assert.NotContains(t, target.flags, "BTCUSDT")
}

func TestSnapshotterProjectsTickers(t *testing.T) {
	src := &fakeMarketSource{tickers: []domain.Ticker{
		{Symbol: "BTCUSDT", Bid: 50_000, Ask: 50_010, Last: 50_005},
		{Symbol: "ETHUSDT", Bid: 3_000, Ask: 3_001, Last: 3_000.5},
	}}
	mkt := newFakeMarketTarget()

	s := NewSnapshotter(&fakeRisk{}, nil, newFakeSnapTarget(), nil, discardLogger())
	s.ProjectMarket(src, mkt)

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, mkt.tickers, 2)
	assert.Equal(t, 50_000.0, mkt.tickers["BTCUSDT"].Bid)
	assert.Equal(t, 3_000.5, mkt.tickers["ETHUSDT"].Last)
}

func TestSnapshotterTickerWriteFailureFailsCycle(t *testing.T) {
	src := &fakeMarketSource{tickers: []domain.Ticker{{Symbol: "BTCUSDT", Last: 50_000}}}
	mkt := newFakeMarketTarget()
	mkt.failOn = "BTCUSDT"

	s := NewSnapshotter(&fakeRisk{}, nil, newFakeSnapTarget(), nil, discardLogger())
	s.ProjectMarket(src, mkt)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projecting ticker BTCUSDT")
}

func TestOrchestratorRunsJobsUntilCancelled(t *testing.T) {
	store := &fakeColdStore{}
	target := newFakeSnapTarget()
	a := NewArchiver(store, nil, 7, discardLogger())
	s := NewSnapshotter(&fakeRisk{}, nil, target, nil, discardLogger())

	o := NewOrchestrator(a, s, 10*time.Millisecond, 10*time.Millisecond, discardLogger())
	o.Attach("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	assert.GreaterOrEqual(t, store.calls(), 3, "expected at least one full archive cycle")
	assert.GreaterOrEqual(t, target.riskRuns(), 1)
}

func TestOrchestratorRunnerFailureStopsEverything(t *testing.T) {
	a := NewArchiver(&fakeColdStore{}, nil, 7, discardLogger())
	o := NewOrchestrator(a, nil, time.Hour, time.Hour, discardLogger())
	o.Attach("orion", func(context.Context) error {
		return errors.New("adapter gone")
	})

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orion: adapter gone")
}
