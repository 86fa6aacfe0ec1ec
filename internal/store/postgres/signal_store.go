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

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, symbol, direction, strategy, entry_price,
	stop_loss, take_profits, size_hint, confidence, reason, created_at,
	expires_at`

func scanSignalRow(row pgx.Row) (domain.Signal, error) {
	var s domain.Signal
	var direction string
	var tpJSON []byte
	var expiresAt *time.Time

	err := row.Scan(
		&s.ID, &s.Symbol, &direction, &s.Strategy,
		&s.Entry, &s.StopLoss, &tpJSON, &s.SizeHint,
		&s.Confidence, &s.Reason, &s.CreatedAt, &expiresAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	s.Direction = domain.Direction(direction)
	if expiresAt != nil {
		s.ExpiresAt = *expiresAt
	}
	if len(tpJSON) > 0 {
		if err := json.Unmarshal(tpJSON, &s.TakeProfits); err != nil {
			return domain.Signal{}, err
		}
	}
	return s, nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		s, err := scanSignalRow(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// Insert persists one generated signal.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) error {
	tpJSON, err := json.Marshal(sig.TakeProfits)
	if err != nil {
		return fmt.Errorf("postgres: marshal take profits %s: %w", sig.ID, err)
	}

	var expiresAt *time.Time
	if !sig.ExpiresAt.IsZero() {
		expiresAt = &sig.ExpiresAt
	}

	const query = `
		INSERT INTO signals (
			id, symbol, direction, strategy, entry_price,
			stop_loss, take_profits, size_hint, confidence, reason,
			created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Direction), sig.Strategy, sig.Entry,
		sig.StopLoss, tpJSON, sig.SizeHint, sig.Confidence, sig.Reason,
		sig.CreatedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// GetByID retrieves a single signal by its ID.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+signalSelectCols+` FROM signals WHERE id = $1`, id)

	sig, err := scanSignalRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// ListRecent returns signals newest first with pagination and optional time
// filtering.
func (s *SignalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE TRUE`
	query, args := listClauses(query, nil, 1, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals: %w", err)
	}
	return signals, nil
}

// ListBefore returns signals created before the cutoff, oldest first, capped
// at limit. The archiver drains history in these batches.
func (s *SignalStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals before: %w", err)
	}
	defer rows.Close()

	signals, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals before: %w", err)
	}
	return signals, nil
}

// DeleteBefore removes signals created before the cutoff and returns the
// number deleted.
func (s *SignalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM signals WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete signals before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
