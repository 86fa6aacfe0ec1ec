package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkwok94/stratcore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Fills and
// take-profit targets are stored as JSONB so a persisted position rebuilds
// byte-for-byte, sizes derived from fills included.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection
// pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, bot_id, signal_id, symbol, direction, strategy,
	leverage, fills, take_profits, stop_loss, initial_stop,
	trailing_activated, water_mark, pyramid_level, pending_order_id,
	realized_pnl, unrealized_pnl, funding_pnl, status, status_note,
	opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string
	var fillsJSON, tpJSON []byte

	err := row.Scan(
		&p.ID, &p.BotID, &p.SignalID, &p.Symbol, &direction, &p.Strategy,
		&p.Leverage, &fillsJSON, &tpJSON, &p.StopLoss, &p.InitialStop,
		&p.TrailingActivated, &p.WaterMark, &p.PyramidLevel, &p.PendingOrderID,
		&p.RealizedPnL, &p.UnrealizedPnL, &p.FundingPnL, &status, &p.StatusNote,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	if len(fillsJSON) > 0 {
		if err := json.Unmarshal(fillsJSON, &p.Fills); err != nil {
			return domain.Position{}, err
		}
	}
	if len(tpJSON) > 0 {
		if err := json.Unmarshal(tpJSON, &p.TakeProfits); err != nil {
			return domain.Position{}, err
		}
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts a position snapshot or replaces every mutable field of an
// existing one. The manager calls this after each lifecycle transition, so
// the row always mirrors the live aggregate.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	fillsJSON, err := json.Marshal(p.Fills)
	if err != nil {
		return fmt.Errorf("postgres: marshal fills %s: %w", p.ID, err)
	}
	tpJSON, err := json.Marshal(p.TakeProfits)
	if err != nil {
		return fmt.Errorf("postgres: marshal take profits %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, bot_id, signal_id, symbol, direction, strategy,
			leverage, fills, take_profits, stop_loss, initial_stop,
			trailing_activated, water_mark, pyramid_level, pending_order_id,
			realized_pnl, unrealized_pnl, funding_pnl, status, status_note,
			opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			fills              = EXCLUDED.fills,
			take_profits       = EXCLUDED.take_profits,
			stop_loss          = EXCLUDED.stop_loss,
			initial_stop       = EXCLUDED.initial_stop,
			trailing_activated = EXCLUDED.trailing_activated,
			water_mark         = EXCLUDED.water_mark,
			pyramid_level      = EXCLUDED.pyramid_level,
			pending_order_id   = EXCLUDED.pending_order_id,
			realized_pnl       = EXCLUDED.realized_pnl,
			unrealized_pnl     = EXCLUDED.unrealized_pnl,
			funding_pnl        = EXCLUDED.funding_pnl,
			status             = EXCLUDED.status,
			status_note        = EXCLUDED.status_note,
			closed_at          = EXCLUDED.closed_at,
			updated_at         = NOW()`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.BotID, p.SignalID, p.Symbol, string(p.Direction), p.Strategy,
		p.Leverage, fillsJSON, tpJSON, p.StopLoss, p.InitialStop,
		p.TrailingActivated, p.WaterMark, p.PyramidLevel, p.PendingOrderID,
		p.RealizedPnL, p.UnrealizedPnL, p.FundingPnL, string(p.Status), p.StatusNote,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every position not yet in a terminal state, newest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status NOT IN ('closed', 'error')
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListByBot returns positions for one bot with pagination and optional time
// filtering.
func (s *PositionStore) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE bot_id = $1`
	query, args := listClauses(query, []any{botID}, 2, "opened_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", botID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", botID, err)
	}
	return positions, nil
}

// ListClosedBefore returns terminal positions closed before the cutoff,
// oldest first, capped at limit. The archiver drains history in these
// batches.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('closed', 'error') AND closed_at IS NOT NULL AND closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions before: %w", err)
	}
	return positions, nil
}

// DeleteClosedBefore removes terminal positions closed before the cutoff and
// returns the number deleted.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions
		 WHERE status IN ('closed', 'error') AND closed_at IS NOT NULL AND closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountOpenedSince returns how many positions were opened at or after the
// given time. The risk guardian rebuilds its daily trade counter from this
// on restart.
func (s *PositionStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE opened_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count positions since: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
