package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

var posStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type orderResponse func(domain.OrderRequest) (domain.OrderResult, error)

// scriptedAdapter replays queued responses and records every request.
type scriptedAdapter struct {
	requests  []domain.OrderRequest
	cancels   []string
	script    []orderResponse
	cancelErr error
}

func (a *scriptedAdapter) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	a.requests = append(a.requests, req)
	if len(a.script) == 0 {
		return domain.OrderResult{}, errors.New("adapter script exhausted")
	}
	fn := a.script[0]
	a.script = a.script[1:]
	return fn(req)
}

func (a *scriptedAdapter) CancelOrder(_ context.Context, _, clientOrderID string) error {
	a.cancels = append(a.cancels, clientOrderID)
	return a.cancelErr
}

func fullFill(price, fee float64) orderResponse {
	return func(req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{
			OrderID:   req.ClientOrderID,
			Success:   true,
			FilledQty: req.Quantity,
			AvgPrice:  price,
			Fee:       fee,
		}, nil
	}
}

func partialFill(price, qty, fee float64) orderResponse {
	return func(req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{
			OrderID:   req.ClientOrderID,
			Success:   true,
			FilledQty: qty,
			AvgPrice:  price,
			Fee:       fee,
			Message:   "partial fill",
		}, nil
	}
}

func rejected(msg string) orderResponse {
	return func(req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{OrderID: req.ClientOrderID, Success: false, Message: msg}, nil
	}
}

func failWith(err error) orderResponse {
	return func(domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{}, err
	}
}

type vetoChecker struct {
	err   error
	calls int
}

func (v *vetoChecker) CheckScaleIn(context.Context, string, string, float64) error {
	v.calls++
	return v.err
}

func testBot() config.BotConfig {
	return config.BotConfig{
		ID:        "trend-btc",
		Symbol:    "BTCUSDT",
		Strategy:  "trend",
		SizeQuote: 1000,
		Leverage:  1,
	}
}

func newTestManager(t *testing.T, bot config.BotConfig, adapter *scriptedAdapter, risk RiskChecker, sink Sink) *Manager {
	t.Helper()
	m := NewManager(bot, adapter, risk, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetClock(func() time.Time { return posStart })
	return m
}

func entrySignal() domain.Signal {
	return domain.Signal{
		ID:        "trend-long-BTCUSDT-1709251200",
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionLong,
		Strategy:  "trend",
		Entry:     50_000,
		StopLoss:  49_000,
		TakeProfits: []domain.TakeProfitLevel{
			{Price: 51_000, Allocation: 0.5},
			{Price: 52_000, Allocation: 0.5},
		},
		Confidence: 0.7,
		CreatedAt:  posStart,
		ExpiresAt:  posStart.Add(time.Hour),
	}
}

func tick(price float64) domain.Ticker {
	return domain.Ticker{Symbol: "BTCUSDT", MarkPrice: price, Last: price, Timestamp: posStart.Add(time.Minute)}
}

func TestOpenFromSignalFullFill(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{fullFill(50_000, 10)}}
	m := newTestManager(t, testBot(), adapter, nil, nil)

	pos, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 1, pos.Size(), 1e-9)
	assert.InDelta(t, 50_000, pos.AvgEntry(), 1e-9)
	assert.InDelta(t, 49_000, pos.StopLoss, 1e-9)
	assert.InDelta(t, 49_000, pos.InitialStop, 1e-9)
	assert.InDelta(t, -10, pos.RealizedPnL, 1e-9) // entry fee deducted up front
	assert.Equal(t, posStart, pos.OpenedAt)
	assert.True(t, m.Live())

	require.Len(t, adapter.requests, 1)
	req := adapter.requests[0]
	assert.Equal(t, pos.ID+"-entry", req.ClientOrderID)
	assert.Equal(t, domain.OrderSideBuy, req.Side)
	assert.Equal(t, domain.OrderTypeMarket, req.Type)
	assert.False(t, req.ReduceOnly)
}

func TestOpenFromSignalPartialFillSizesToActual(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{partialFill(50_000, 0.4, 4)}}
	m := newTestManager(t, testBot(), adapter, nil, nil)

	pos, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 0.4, pos.Size(), 1e-9)
}

func TestOpenFromSignalRejectedFreezes(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{rejected("insufficient margin")}}
	m := newTestManager(t, testBot(), adapter, nil, nil)

	pos, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionErrored, pos.Status)
	assert.Contains(t, pos.StatusNote, "insufficient margin")
	assert.False(t, m.Live())
}

func TestOpenFromSignalTimeoutCancelsAndCloses(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{failWith(context.DeadlineExceeded)}}
	bot := testBot()
	bot.EntryTimeout = config.Duration{Duration: time.Second}
	m := newTestManager(t, bot, adapter, nil, nil)

	pos, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Empty(t, pos.Fills)
	require.NotNil(t, pos.ClosedAt)
	assert.Contains(t, pos.StatusNote, "timeout")
	require.Len(t, adapter.cancels, 1)
	assert.Equal(t, pos.ID+"-entry", adapter.cancels[0])
}

func TestOpenFromSignalGuards(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{fullFill(50_000, 0)}}
	m := newTestManager(t, testBot(), adapter, nil, nil)

	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 0)
	assert.Error(t, err)

	expired := entrySignal()
	expired.ExpiresAt = posStart.Add(-time.Minute)
	_, err = m.OpenFromSignal(context.Background(), expired, 1)
	assert.ErrorIs(t, err, domain.ErrSignalExpired)

	_, err = m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)
	_, err = m.OpenFromSignal(context.Background(), entrySignal(), 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestTakeProfitLadderKeepsRemainderOpen(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 10), // entry
		fullFill(51_000, 5),  // first target
		fullFill(52_000, 5),  // second target
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(51_000))

	pos, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 0.5, pos.Size(), 1e-9)
	assert.InDelta(t, 50_000, pos.AvgEntry(), 1e-9) // reduces never move the average
	assert.True(t, pos.TakeProfits[0].Consumed)
	assert.False(t, pos.TakeProfits[1].Consumed)
	assert.InDelta(t, 485, pos.RealizedPnL, 1e-9) // 1000*0.5 - 10 - 5

	exitReq := adapter.requests[1]
	assert.Equal(t, domain.OrderSideSell, exitReq.Side)
	assert.True(t, exitReq.ReduceOnly)
	assert.InDelta(t, 0.5, exitReq.Quantity, 1e-9)

	m.OnTick(context.Background(), tick(52_000))

	pos, _ = m.Current()
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.True(t, pos.Flat())
	require.NotNil(t, pos.ClosedAt)
	assert.InDelta(t, 1480, pos.RealizedPnL, 1e-9) // +2000*0.5 - 5 on the second leg
	assert.False(t, m.Live())
}

func TestSameTargetNeverConsumedTwice(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		fullFill(51_000, 0),
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(51_000))
	m.OnTick(context.Background(), tick(51_100))

	pos, _ := m.Current()
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 0.5, pos.Size(), 1e-9)
	assert.Len(t, adapter.requests, 2) // entry + one exit, no re-fire
}

func TestStopLossClosesFully(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 10),
		fullFill(48_900, 5),
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(48_900))

	pos, _ := m.Current()
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.True(t, pos.Flat())
	assert.InDelta(t, -1115, pos.RealizedPnL, 1e-9) // -1100 move - 15 fees

	exitReq := adapter.requests[1]
	assert.True(t, exitReq.ReduceOnly)
	assert.InDelta(t, 1, exitReq.Quantity, 1e-9)
}

func TestTrailingStopRatchetsMonotonically(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		fullFill(51_450, 0),
	}}
	bot := testBot()
	bot.TrailingActivationPercent = 2
	bot.TrailingStopPercent = 1
	m := newTestManager(t, bot, adapter, nil, nil)
	sig := entrySignal()
	sig.TakeProfits = nil
	_, err := m.OpenFromSignal(context.Background(), sig, 1)
	require.NoError(t, err)

	stops := []float64{}
	for _, px := range []float64{50_500, 51_000, 51_500, 51_200, 52_000} {
		m.OnTick(context.Background(), tick(px))
		pos, _ := m.Current()
		require.Equal(t, domain.PositionOpen, pos.Status, "no exit expected at %.0f", px)
		stops = append(stops, pos.StopLoss)
	}

	// Below activation the stop stays put; after that it only tightens.
	assert.InDelta(t, 49_000, stops[0], 1e-9)
	assert.InDelta(t, 51_000*0.99, stops[1], 1e-9)
	assert.InDelta(t, 51_500*0.99, stops[2], 1e-9)
	assert.InDelta(t, 51_500*0.99, stops[3], 1e-9) // pullback never loosens it
	assert.InDelta(t, 52_000*0.99, stops[4], 1e-9)
	for i := 1; i < len(stops); i++ {
		assert.GreaterOrEqual(t, stops[i], stops[i-1])
	}

	pos, _ := m.Current()
	assert.True(t, pos.TrailingActivated)
	assert.InDelta(t, 52_000, pos.WaterMark, 1e-9)

	// A drop through the ratcheted stop exits the whole position.
	m.OnTick(context.Background(), tick(51_400))
	pos, _ = m.Current()
	assert.Equal(t, domain.PositionClosed, pos.Status)
}

func TestPyramidingScaleInRecomputesAverage(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		fullFill(51_000, 0),
		fullFill(52_000, 0),
	}}
	bot := testBot()
	bot.EnablePyramiding = true
	bot.MaxPyramidLevels = 2
	bot.PyramidStepPercent = 2
	risk := &vetoChecker{}
	m := newTestManager(t, bot, adapter, risk, nil)
	sig := entrySignal()
	sig.TakeProfits = nil
	sig.StopLoss = 45_000
	_, err := m.OpenFromSignal(context.Background(), sig, 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(51_000)) // +2%: level 1
	pos, _ := m.Current()
	assert.Equal(t, 1, pos.PyramidLevel)
	assert.InDelta(t, 2, pos.Size(), 1e-9)
	assert.InDelta(t, 50_500, pos.AvgEntry(), 1e-9)

	m.OnTick(context.Background(), tick(51_500)) // +3%: below the level-2 step
	pos, _ = m.Current()
	assert.Equal(t, 1, pos.PyramidLevel)
	assert.Len(t, adapter.requests, 2)

	m.OnTick(context.Background(), tick(52_000)) // +4%: level 2
	pos, _ = m.Current()
	assert.Equal(t, 2, pos.PyramidLevel)
	assert.InDelta(t, 3, pos.Size(), 1e-9)
	assert.InDelta(t, 51_000, pos.AvgEntry(), 1e-9)
	assert.Equal(t, domain.PositionOpen, pos.Status)

	m.OnTick(context.Background(), tick(53_000)) // max levels reached
	assert.Len(t, adapter.requests, 3)
	assert.Equal(t, 2, risk.calls)
}

func TestScaleInVetoedByRisk(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{fullFill(50_000, 0)}}
	bot := testBot()
	bot.EnablePyramiding = true
	bot.MaxPyramidLevels = 3
	bot.PyramidStepPercent = 2
	risk := &vetoChecker{err: &domain.RiskRejection{Trigger: domain.TriggerMaxNotional}}
	m := newTestManager(t, bot, adapter, risk, nil)
	sig := entrySignal()
	sig.TakeProfits = nil
	_, err := m.OpenFromSignal(context.Background(), sig, 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(51_000))

	pos, _ := m.Current()
	assert.Equal(t, 0, pos.PyramidLevel)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Len(t, adapter.requests, 1)
	assert.Equal(t, 1, risk.calls)
}

func TestOnFundingAccruesIntoRealized(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{fullFill(50_000, 10)}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	m.OnFunding(context.Background(), domain.FundingRate{Symbol: "BTCUSDT", Rate: 0.0001})

	pos, _ := m.Current()
	assert.InDelta(t, -5, pos.FundingPnL, 1e-9) // long pays 1bp on 50k notional
	assert.InDelta(t, -15, pos.RealizedPnL, 1e-9)
}

func TestForceCloseExitsAtMarket(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		fullFill(49_800, 0),
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	require.NoError(t, m.ForceClose(context.Background(), "breaker tripped: maxDrawdown"))

	pos, _ := m.Current()
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, "breaker tripped: maxDrawdown", pos.StatusNote)
	assert.True(t, adapter.requests[1].ReduceOnly)

	assert.ErrorIs(t, m.ForceClose(context.Background(), "again"), domain.ErrNotFound)
}

func TestExitFailureFreezesPosition(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		rejected("venue maintenance"),
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(48_000))

	pos, _ := m.Current()
	assert.Equal(t, domain.PositionErrored, pos.Status)
	assert.Contains(t, pos.StatusNote, "venue maintenance")
	assert.InDelta(t, 1, pos.Size(), 1e-9) // exposure untouched, frozen for reconciliation
}

func TestPartialExitRetriesWithFreshOrderID(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		partialFill(48_900, 0.6, 0),
		fullFill(48_850, 0),
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	m.OnTick(context.Background(), tick(48_900))
	pos, _ := m.Current()
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 0.4, pos.Size(), 1e-9)

	m.OnTick(context.Background(), tick(48_900))
	pos, _ = m.Current()
	assert.Equal(t, domain.PositionClosed, pos.Status)

	first, second := adapter.requests[1].ClientOrderID, adapter.requests[2].ClientOrderID
	assert.Equal(t, pos.ID+"-exit-1", first)
	assert.Equal(t, pos.ID+"-exit-2", second)
	assert.NotEqual(t, first, second)
}

func TestAdoptSettlesInFlightStates(t *testing.T) {
	adapter := &scriptedAdapter{}
	m := newTestManager(t, testBot(), adapter, nil, nil)

	pending := domain.Position{
		ID:             "pos-1",
		BotID:          "trend-btc",
		Symbol:         "BTCUSDT",
		Direction:      domain.DirectionLong,
		Status:         domain.PositionPendingEntry,
		PendingOrderID: "pos-1-entry",
	}
	require.NoError(t, m.Adopt(pending))
	pos, _ := m.Current()
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, []string{"pos-1-entry"}, adapter.cancels)
	assert.False(t, m.Live())

	scaling := domain.Position{
		ID:        "pos-2",
		BotID:     "trend-btc",
		Symbol:    "BTCUSDT",
		Direction: domain.DirectionLong,
		Status:    domain.PositionScaling,
		Fills: []domain.Fill{
			{OrderID: "a", Price: 50_000, Quantity: 1, Role: domain.FillRoleInitial, Timestamp: posStart},
		},
	}
	require.NoError(t, m.Adopt(scaling))
	pos, _ = m.Current()
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.True(t, m.Live())

	err := m.Adopt(scaling)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestAdoptRejectsTerminal(t *testing.T) {
	m := newTestManager(t, testBot(), &scriptedAdapter{}, nil, nil)
	err := m.Adopt(domain.Position{ID: "done", Status: domain.PositionClosed})
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
}

func TestSinkObservesLifecycle(t *testing.T) {
	var statuses []domain.PositionStatus
	sink := func(_ context.Context, pos domain.Position) {
		statuses = append(statuses, pos.Status)
	}
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		fullFill(51_000, 0),
		fullFill(52_000, 0),
	}}
	m := newTestManager(t, testBot(), adapter, nil, sink)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)
	m.OnTick(context.Background(), tick(51_000))
	m.OnTick(context.Background(), tick(52_000))

	want := []domain.PositionStatus{
		domain.PositionPendingEntry,
		domain.PositionOpen,
		domain.PositionClosing,
		domain.PositionOpen,
		domain.PositionClosing,
		domain.PositionClosed,
	}
	assert.Equal(t, want, statuses)
}

func TestSnapshotIsDetachedFromLiveState(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{
		fullFill(50_000, 0),
		fullFill(51_000, 0),
	}}
	m := newTestManager(t, testBot(), adapter, nil, nil)
	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	before, _ := m.Current()
	m.OnTick(context.Background(), tick(51_000))

	assert.False(t, before.TakeProfits[0].Consumed, "earlier snapshot must not see later mutations")
	assert.Len(t, before.Fills, 1)
	after, _ := m.Current()
	assert.True(t, after.TakeProfits[0].Consumed)
	assert.Len(t, after.Fills, 2)
}

func TestTickIgnoresOtherSymbolsAndPendingStates(t *testing.T) {
	adapter := &scriptedAdapter{script: []orderResponse{fullFill(50_000, 0)}}
	m := newTestManager(t, testBot(), adapter, nil, nil)

	// No position yet: a tick is a no-op.
	m.OnTick(context.Background(), tick(48_000))
	assert.Empty(t, adapter.requests)

	_, err := m.OpenFromSignal(context.Background(), entrySignal(), 1)
	require.NoError(t, err)

	other := domain.Ticker{Symbol: "ETHUSDT", MarkPrice: 1, Timestamp: posStart}
	m.OnTick(context.Background(), other)

	pos, _ := m.Current()
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 1, pos.Size(), 1e-9)
	assert.Len(t, adapter.requests, 1)
}

func TestExitOrderIDHelper(t *testing.T) {
	p := &domain.Position{ID: "abc", Fills: make([]domain.Fill, 2)}
	assert.Equal(t, "abc-exit-2", exitOrderID(p, -1))
	assert.Equal(t, "abc-tp1-2", exitOrderID(p, 0))
}
