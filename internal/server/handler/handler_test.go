package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAllChecksPass(t *testing.T) {
	h := NewHealthHandler([]HealthCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return nil }},
	})

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["postgres"])
}

func TestHealthFailingDependencyDegrades(t *testing.T) {
	h := NewHealthHandler([]HealthCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	})

	rec := httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "connection refused", deps["redis"])
}

type fakeFleet struct {
	statuses []engine.BotStatus
	live     int
	symbols  []string
}

func (f *fakeFleet) List() []engine.BotStatus { return f.statuses }
func (f *fakeFleet) LiveCount() int           { return f.live }
func (f *fakeFleet) Symbols() []string        { return f.symbols }

func TestStatusGet(t *testing.T) {
	fleet := &fakeFleet{live: 2, symbols: []string{"BTCUSDT", "ETHUSDT"}}
	started := time.Now().Add(-90 * time.Second)
	h := NewStatusHandler("run", "1.4.0", started, fleet, func() string { return "closed" })

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "run", body["mode"])
	assert.Equal(t, "1.4.0", body["version"])
	assert.Equal(t, float64(2), body["live_bots"])
	assert.Equal(t, "closed", body["breaker"])
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), float64(90))
}

func TestBotsListEmptyFleet(t *testing.T) {
	h := NewBotsHandler(&fakeFleet{})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/bots", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bots":[]}`, rec.Body.String())
}

type fakePositionSource struct {
	positions []domain.Position
	err       error
}

func (f *fakePositionSource) ListPositions(context.Context) ([]domain.Position, error) {
	return f.positions, f.err
}

func TestPositionsFilterByBot(t *testing.T) {
	src := &fakePositionSource{positions: []domain.Position{
		{ID: "p1", BotID: "alpha", Symbol: "BTCUSDT"},
		{ID: "p2", BotID: "beta", Symbol: "ETHUSDT"},
		{ID: "p3", BotID: "alpha", Symbol: "ETHUSDT"},
	}}
	h := NewPositionsHandler(src, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/positions?bot=alpha", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 2)
	assert.Equal(t, "p1", body.Positions[0].ID)
	assert.Equal(t, "p3", body.Positions[1].ID)
}

func TestPositionsSourceErrorIs500(t *testing.T) {
	h := NewPositionsHandler(&fakePositionSource{err: errors.New("redis down")}, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to list positions")
}

type fakeRiskSource struct {
	state  domain.RiskState
	err    error
	events []domain.RiskEvent
}

func (f *fakeRiskSource) GetRiskState(_ context.Context, scope string) (domain.RiskState, error) {
	return f.state, f.err
}

func (f *fakeRiskSource) ListEvents(_ context.Context, scope string, _ domain.ListOpts) ([]domain.RiskEvent, error) {
	return f.events, nil
}

func TestRiskUnknownScopeReportsUntripped(t *testing.T) {
	src := &fakeRiskSource{err: domain.ErrNotFound}
	h := NewRiskHandler(src, src, discardLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "account", body["scope"])
	state := body["state"].(map[string]any)
	assert.Equal(t, false, state["Tripped"])
}

func TestRiskIncludesEvents(t *testing.T) {
	src := &fakeRiskSource{
		state: domain.RiskState{Scope: "account", Tripped: true, TripReason: "daily loss limit"},
		events: []domain.RiskEvent{
			{ID: 1, Scope: "account", Kind: domain.RiskEventTrip, Trigger: "daily_loss"},
		},
	}
	h := NewRiskHandler(src, src, discardLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/risk?scope=account", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	state := body["state"].(map[string]any)
	assert.Equal(t, true, state["Tripped"])
	events := body["events"].([]any)
	require.Len(t, events, 1)
}

type fakeScanSource struct {
	opps  []domain.BasisOpportunity
	limit int
}

func (f *fakeScanSource) ListRecent(_ context.Context, limit int) ([]domain.BasisOpportunity, error) {
	f.limit = limit
	return f.opps, nil
}

func TestOpportunitiesPassesLimit(t *testing.T) {
	src := &fakeScanSource{opps: []domain.BasisOpportunity{{SpotSymbol: "BTCUSDT"}}}
	h := NewOpportunitiesHandler(src, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, src.limit)
	body := decodeBody(t, rec)
	assert.Len(t, body["opportunities"].([]any), 1)
}

type fakeFlagSource struct {
	flags []domain.ManipulationFlag
}

func (f *fakeFlagSource) GetFlags(_ context.Context, symbol string) ([]domain.ManipulationFlag, error) {
	return f.flags, nil
}

func TestFlagsRequiresSymbol(t *testing.T) {
	h := NewFlagsHandler(&fakeFlagSource{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "symbol query parameter required")
}

func TestFlagsEmptyIsNormal(t *testing.T) {
	h := NewFlagsHandler(&fakeFlagSource{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/flags?symbol=BTCUSDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","flags":[]}`, rec.Body.String())
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/x?limit=9999&offset=20&since=2024-03-01T00:00:00Z&until=bogus", nil)

	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.True(t, opts.Since.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, opts.Until)
}
