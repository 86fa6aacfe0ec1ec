package risk

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

var riskStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		Scope:              "paper",
		InitialEquity:      10000,
		MaxDailyTrades:     5,
		MaxDrawdownPercent: 10,
		MaxNotional:        50000,
	}
}

type stubFlags struct {
	flags map[string][]domain.ManipulationFlag
}

func (s stubFlags) ActiveFlags(symbol string, _ time.Time) []domain.ManipulationFlag {
	return s.flags[symbol]
}

type riskRecorder struct {
	states []domain.RiskState
	events []domain.RiskEvent
}

func (r *riskRecorder) sink(_ context.Context, state domain.RiskState, ev *domain.RiskEvent) {
	r.states = append(r.states, state)
	if ev != nil {
		r.events = append(r.events, *ev)
	}
}

func newTestGuardian(flags FlagSource, sink Sink) (*Guardian, *time.Time) {
	now := riskStart
	g := NewGuardian(testRiskConfig(), flags, sink, discardLogger())
	g.SetClock(func() time.Time { return now })
	return g, &now
}

func proposal() Proposal {
	return Proposal{BotID: "trend-btc", Symbol: "BTCUSDT", Notional: 5000}
}

func entryFill() domain.Fill {
	return domain.Fill{OrderID: "o1", Price: 50000, Quantity: 0.1, Role: domain.FillRoleInitial, Timestamp: riskStart}
}

func TestCheckAllowsWithinLimits(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	require.NoError(t, g.Check(ctx, proposal()))
	require.NoError(t, g.CheckScaleIn(ctx, "trend-btc", "BTCUSDT", 8000))

	state := g.State()
	assert.Equal(t, "paper", state.Scope)
	assert.False(t, state.Tripped)
	assert.Equal(t, 0, state.DailyTrades, "checks alone never consume the budget")
}

func TestTrippedBreakerVetoesEverything(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	g.Trip(ctx, domain.TriggerMaxDrawdown, "manual halt")

	// No proposal is attractive enough to bypass a tripped breaker.
	for _, p := range []Proposal{
		proposal(),
		{BotID: "vwap-eth", Symbol: "ETHUSDT", Notional: 1},
		{BotID: "trend-btc", Symbol: "BTCUSDT", Notional: 100, ScaleIn: true},
	} {
		err := g.Check(ctx, p)
		require.Error(t, err)
		require.ErrorIs(t, err, domain.ErrRiskTripped)

		var rej *domain.RiskRejection
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, domain.TriggerBreakerTripped, rej.Trigger)
	}
}

func TestSixthTradeRejectedAtDailyLimit(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Check(ctx, proposal()))
		g.RecordFill(ctx, entryFill())
	}
	require.Equal(t, 5, g.State().DailyTrades)

	err := g.Check(ctx, proposal())
	require.Error(t, err)
	var rej *domain.RiskRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.TriggerMaxDailyTrades, rej.Trigger)
	assert.Contains(t, rej.Detail, "5 trades today")

	state := g.State()
	assert.True(t, state.Tripped, "daily budget breach trips the breaker")
	assert.Equal(t, domain.TriggerMaxDailyTrades, state.TripReason)

	// Once tripped the attribution shifts to the breaker itself.
	err = g.Check(ctx, proposal())
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.TriggerBreakerTripped, rej.Trigger)
}

func TestDailyCounterRollsAtUTCBoundary(t *testing.T) {
	g, clock := newTestGuardian(nil, nil)
	ctx := context.Background()

	*clock = time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		g.RecordFill(ctx, entryFill())
	}
	require.Equal(t, 3, g.State().DailyTrades)

	*clock = time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)
	require.NoError(t, g.Check(ctx, proposal()))

	state := g.State()
	assert.Equal(t, 0, state.DailyTrades)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), state.Day)
}

func TestDayRolloverNeverClearsBreaker(t *testing.T) {
	g, clock := newTestGuardian(nil, nil)
	ctx := context.Background()

	g.Trip(ctx, domain.TriggerMaxDailyTrades, "5 trades today, limit 5")

	*clock = clock.Add(48 * time.Hour)
	err := g.Check(ctx, proposal())
	require.ErrorIs(t, err, domain.ErrRiskTripped)
	assert.Equal(t, 0, g.State().DailyTrades, "counter rolled, breaker did not")
}

func TestDrawdownTripsOnMarkEquity(t *testing.T) {
	rec := &riskRecorder{}
	g, _ := newTestGuardian(nil, rec.sink)
	ctx := context.Background()

	g.MarkEquity(ctx, 10500)
	require.Equal(t, 10500.0, g.State().PeakEquity)

	g.MarkEquity(ctx, 9500) // 9.52% down, still inside the limit
	require.False(t, g.State().Tripped)

	g.MarkEquity(ctx, 9400) // 10.48% down
	state := g.State()
	require.True(t, state.Tripped)
	assert.Equal(t, domain.TriggerMaxDrawdown, state.TripReason)
	require.NotNil(t, state.TrippedAt)

	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.RiskEventTrip, rec.events[0].Kind)
	assert.Equal(t, domain.TriggerMaxDrawdown, rec.events[0].Trigger)
	assert.Contains(t, rec.events[0].Detail, "10.48%")
}

func TestCheckTripsOnRestoredDrawdown(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	// Persisted state already past the limit but with the trip record lost.
	g.Restore(domain.RiskState{
		Day:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Equity:     8900,
		PeakEquity: 10000,
	})

	err := g.Check(ctx, proposal())
	require.Error(t, err)
	var rej *domain.RiskRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.TriggerMaxDrawdown, rej.Trigger)
	assert.True(t, g.State().Tripped)
}

func TestManipulationFlagVetoesSymbolOnly(t *testing.T) {
	flags := stubFlags{flags: map[string][]domain.ManipulationFlag{
		"BTCUSDT": {{
			Symbol:    "BTCUSDT",
			Kind:      domain.FlagPump,
			Severity:  0.8,
			ExpiresAt: riskStart.Add(30 * time.Minute),
		}},
	}}
	g, _ := newTestGuardian(flags, nil)
	ctx := context.Background()

	err := g.Check(ctx, proposal())
	require.Error(t, err)
	var rej *domain.RiskRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.TriggerManipulation, rej.Trigger)
	assert.Contains(t, rej.Detail, "pump flag active on BTCUSDT")

	require.NoError(t, g.Check(ctx, Proposal{BotID: "vwap-eth", Symbol: "ETHUSDT", Notional: 5000}))
	assert.False(t, g.State().Tripped, "flags veto proposals without tripping the breaker")
}

func TestNotionalCapRejectsWithoutTripping(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	err := g.Check(ctx, Proposal{BotID: "trend-btc", Symbol: "BTCUSDT", Notional: 60000})
	require.Error(t, err)
	var rej *domain.RiskRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, domain.TriggerMaxNotional, rej.Trigger)
	assert.False(t, g.State().Tripped)

	require.NoError(t, g.Check(ctx, Proposal{BotID: "trend-btc", Symbol: "BTCUSDT", Notional: 50000}),
		"cap is exclusive of the limit itself")
}

func TestFirstMatchWinsOrdering(t *testing.T) {
	flags := stubFlags{flags: map[string][]domain.ManipulationFlag{
		"BTCUSDT": {{Symbol: "BTCUSDT", Kind: domain.FlagDump, ExpiresAt: riskStart.Add(time.Hour)}},
	}}
	g, _ := newTestGuardian(flags, nil)
	ctx := context.Background()

	// Flag and the oversized notional both apply; the flag matches first.
	over := Proposal{BotID: "trend-btc", Symbol: "BTCUSDT", Notional: 99999999}
	var rej *domain.RiskRejection
	require.ErrorAs(t, g.Check(ctx, over), &rej)
	assert.Equal(t, domain.TriggerManipulation, rej.Trigger)

	// A tripped breaker outranks everything.
	g.Trip(ctx, domain.TriggerMaxDrawdown, "manual halt")
	require.ErrorAs(t, g.Check(ctx, over), &rej)
	assert.Equal(t, domain.TriggerBreakerTripped, rej.Trigger)
}

func TestResetClearsBreakerOnly(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	g.RecordFill(ctx, entryFill())
	g.RecordFill(ctx, entryFill())
	g.Trip(ctx, domain.TriggerMaxDrawdown, "flash crash")

	require.Error(t, g.Reset(ctx, "", "missing operator"))

	require.NoError(t, g.Reset(ctx, "kelly", "verified exchange data glitch"))
	state := g.State()
	assert.False(t, state.Tripped)
	assert.Empty(t, state.TripReason)
	assert.Nil(t, state.TrippedAt)
	assert.Equal(t, 2, state.DailyTrades, "reset clears the breaker, not the day's budget")

	require.NoError(t, g.Check(ctx, proposal()))
	require.Error(t, g.Reset(ctx, "kelly", "already clear"))
}

func TestRecordFillCountsOnlyInitialEntries(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	g.RecordFill(ctx, entryFill())
	g.RecordFill(ctx, domain.Fill{Price: 51000, Quantity: 0.1, Role: domain.FillRoleScaleIn, Timestamp: riskStart})
	g.RecordFill(ctx, domain.Fill{Price: 52000, Quantity: 0.2, Role: domain.FillRoleReduce, Timestamp: riskStart})

	assert.Equal(t, 1, g.State().DailyTrades)
}

func TestSinkReceivesAuditTrail(t *testing.T) {
	rec := &riskRecorder{}
	g, _ := newTestGuardian(nil, rec.sink)
	ctx := context.Background()

	require.Error(t, g.Check(ctx, Proposal{BotID: "trend-btc", Symbol: "BTCUSDT", Notional: 60000}))
	g.MarkEquity(ctx, 8000)
	require.NoError(t, g.Reset(ctx, "kelly", "post-mortem complete"))

	require.Len(t, rec.events, 3)
	assert.Equal(t, domain.RiskEventRejection, rec.events[0].Kind)
	assert.Equal(t, domain.TriggerMaxNotional, rec.events[0].Trigger)
	assert.Equal(t, domain.RiskEventTrip, rec.events[1].Kind)
	assert.Equal(t, domain.RiskEventReset, rec.events[2].Kind)
	assert.Equal(t, "kelly", rec.events[2].Operator)

	for _, ev := range rec.events {
		assert.Equal(t, "paper", ev.Scope)
		assert.False(t, ev.CreatedAt.IsZero())
	}
}

func TestRestoreKeepsTrippedBreaker(t *testing.T) {
	g, _ := newTestGuardian(nil, nil)
	ctx := context.Background()

	trippedAt := riskStart.Add(-2 * time.Hour)
	g.Restore(domain.RiskState{
		Scope:      "ignored, scope comes from config",
		Day:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Equity:     9000,
		PeakEquity: 10000,
		Tripped:    true,
		TripReason: domain.TriggerMaxDrawdown,
		TrippedAt:  &trippedAt,
	})

	state := g.State()
	assert.Equal(t, "paper", state.Scope)
	require.True(t, state.Tripped)

	err := g.Check(ctx, proposal())
	require.True(t, errors.Is(err, domain.ErrRiskTripped))
}
