package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkwok94/stratcore/internal/domain"
)

// ConfirmationStore implements domain.ConfirmationStore using PostgreSQL.
// The per-layer breakdown is stored as JSONB so rejected signals stay fully
// explainable after the fact.
type ConfirmationStore struct {
	pool *pgxpool.Pool
}

// NewConfirmationStore creates a new ConfirmationStore backed by the given
// connection pool.
func NewConfirmationStore(pool *pgxpool.Pool) *ConfirmationStore {
	return &ConfirmationStore{pool: pool}
}

const confirmationSelectCols = `signal_id, symbol, strategy, layers, score,
	passed_count, required, min_score, accepted, evaluated_at`

func scanConfirmationRows(rows pgx.Rows) ([]domain.ConfirmationResult, error) {
	var results []domain.ConfirmationResult
	for rows.Next() {
		var r domain.ConfirmationResult
		var layersJSON []byte

		if err := rows.Scan(
			&r.SignalID, &r.Symbol, &r.Strategy, &layersJSON, &r.Score,
			&r.PassedCount, &r.Required, &r.MinScore, &r.Accepted, &r.EvaluatedAt,
		); err != nil {
			return nil, err
		}
		if len(layersJSON) > 0 {
			if err := json.Unmarshal(layersJSON, &r.Layers); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Insert persists one gate verdict.
func (s *ConfirmationStore) Insert(ctx context.Context, res domain.ConfirmationResult) error {
	layersJSON, err := json.Marshal(res.Layers)
	if err != nil {
		return fmt.Errorf("postgres: marshal layers %s: %w", res.SignalID, err)
	}

	const query = `
		INSERT INTO confirmations (
			signal_id, symbol, strategy, layers, score,
			passed_count, required, min_score, accepted, evaluated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`

	_, err = s.pool.Exec(ctx, query,
		res.SignalID, res.Symbol, res.Strategy, layersJSON, res.Score,
		res.PassedCount, res.Required, res.MinScore, res.Accepted, res.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert confirmation %s: %w", res.SignalID, err)
	}
	return nil
}

// ListBySignal returns all verdicts recorded for a signal, oldest first.
func (s *ConfirmationStore) ListBySignal(ctx context.Context, signalID string) ([]domain.ConfirmationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+confirmationSelectCols+` FROM confirmations
		 WHERE signal_id = $1
		 ORDER BY evaluated_at ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmations for %s: %w", signalID, err)
	}
	defer rows.Close()

	results, err := scanConfirmationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan confirmations for %s: %w", signalID, err)
	}
	return results, nil
}

// ListRecent returns verdicts newest first with pagination and optional time
// filtering.
func (s *ConfirmationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ConfirmationResult, error) {
	query := `SELECT ` + confirmationSelectCols + ` FROM confirmations WHERE TRUE`
	query, args := listClauses(query, nil, 1, "evaluated_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmations: %w", err)
	}
	defer rows.Close()

	results, err := scanConfirmationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan confirmations: %w", err)
	}
	return results, nil
}

// Compile-time interface check.
var _ domain.ConfirmationStore = (*ConfirmationStore)(nil)
