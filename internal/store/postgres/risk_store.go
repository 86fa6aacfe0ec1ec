package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkwok94/stratcore/internal/domain"
)

// RiskStore implements domain.RiskStore using PostgreSQL. State is one row
// per scope; events are the guardian's append-only audit trail.
type RiskStore struct {
	pool *pgxpool.Pool
}

// NewRiskStore creates a new RiskStore backed by the given connection pool.
func NewRiskStore(pool *pgxpool.Pool) *RiskStore {
	return &RiskStore{pool: pool}
}

// SaveState upserts the risk state for its scope.
func (s *RiskStore) SaveState(ctx context.Context, state domain.RiskState) error {
	const query = `
		INSERT INTO risk_states (
			scope, day, daily_trades, equity, peak_equity,
			tripped, trip_reason, tripped_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT (scope) DO UPDATE SET
			day          = EXCLUDED.day,
			daily_trades = EXCLUDED.daily_trades,
			equity       = EXCLUDED.equity,
			peak_equity  = EXCLUDED.peak_equity,
			tripped      = EXCLUDED.tripped,
			trip_reason  = EXCLUDED.trip_reason,
			tripped_at   = EXCLUDED.tripped_at,
			updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		state.Scope, state.Day, state.DailyTrades, state.Equity, state.PeakEquity,
		state.Tripped, state.TripReason, state.TrippedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk state %s: %w", state.Scope, err)
	}
	return nil
}

// LoadState retrieves the risk state for a scope.
// It returns domain.ErrNotFound when no state has been persisted yet.
func (s *RiskStore) LoadState(ctx context.Context, scope string) (domain.RiskState, error) {
	var state domain.RiskState
	err := s.pool.QueryRow(ctx,
		`SELECT scope, day, daily_trades, equity, peak_equity,
		        tripped, trip_reason, tripped_at, updated_at
		 FROM risk_states WHERE scope = $1`, scope,
	).Scan(
		&state.Scope, &state.Day, &state.DailyTrades, &state.Equity, &state.PeakEquity,
		&state.Tripped, &state.TripReason, &state.TrippedAt, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskState{}, domain.ErrNotFound
		}
		return domain.RiskState{}, fmt.Errorf("postgres: load risk state %s: %w", scope, err)
	}
	return state, nil
}

// InsertEvent appends one audit record.
func (s *RiskStore) InsertEvent(ctx context.Context, ev domain.RiskEvent) error {
	const query = `
		INSERT INTO risk_events (scope, kind, trigger, detail, operator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		ev.Scope, string(ev.Kind), ev.Trigger, ev.Detail, ev.Operator, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert risk event %s/%s: %w", ev.Scope, ev.Kind, err)
	}
	return nil
}

// ListEvents returns audit records for a scope, newest first, with pagination
// and optional time filtering.
func (s *RiskStore) ListEvents(ctx context.Context, scope string, opts domain.ListOpts) ([]domain.RiskEvent, error) {
	query := `SELECT id, scope, kind, trigger, detail, operator, created_at
		FROM risk_events WHERE scope = $1`
	query, args := listClauses(query, []any{scope}, 2, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk events %s: %w", scope, err)
	}
	defer rows.Close()

	var events []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var kind string
		if err := rows.Scan(
			&ev.ID, &ev.Scope, &kind, &ev.Trigger, &ev.Detail, &ev.Operator, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan risk event: %w", err)
		}
		ev.Kind = domain.RiskEventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan risk events %s: %w", scope, err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.RiskStore = (*RiskStore)(nil)
