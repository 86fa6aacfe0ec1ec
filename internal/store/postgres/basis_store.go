package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkwok94/stratcore/internal/domain"
)

// BasisStore implements domain.BasisStore using PostgreSQL. Each scan's
// opportunities are appended in one batch so the history reads back as
// point-in-time snapshots.
type BasisStore struct {
	pool *pgxpool.Pool
}

// NewBasisStore creates a new BasisStore backed by the given connection pool.
func NewBasisStore(pool *pgxpool.Pool) *BasisStore {
	return &BasisStore{pool: pool}
}

const basisSelectCols = `spot_symbol, futures_symbol, spot_price, futures_price,
	basis, basis_percent, funding_rate, annualized_return, opportunity_type,
	confidence, scanned_at`

func scanBasisRows(rows pgx.Rows) ([]domain.BasisOpportunity, error) {
	var opps []domain.BasisOpportunity
	for rows.Next() {
		var o domain.BasisOpportunity
		var typ string
		if err := rows.Scan(
			&o.SpotSymbol, &o.FuturesSymbol, &o.SpotPrice, &o.FuturesPrice,
			&o.Basis, &o.BasisPercent, &o.FundingRate, &o.AnnualizedReturn, &typ,
			&o.Confidence, &o.ScannedAt,
		); err != nil {
			return nil, err
		}
		o.Type = domain.BasisType(typ)
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// InsertScan appends one scan's opportunities using a pgx Batch.
func (s *BasisStore) InsertScan(ctx context.Context, opps []domain.BasisOpportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO basis_scans (
			spot_symbol, futures_symbol, spot_price, futures_price,
			basis, basis_percent, funding_rate, annualized_return,
			opportunity_type, confidence, scanned_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11
		)`

	for _, o := range opps {
		batch.Queue(query,
			o.SpotSymbol, o.FuturesSymbol, o.SpotPrice, o.FuturesPrice,
			o.Basis, o.BasisPercent, o.FundingRate, o.AnnualizedReturn,
			string(o.Type), o.Confidence, o.ScannedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert basis scan item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns the newest opportunities up to limit.
func (s *BasisStore) ListRecent(ctx context.Context, limit int) ([]domain.BasisOpportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+basisSelectCols+` FROM basis_scans
		 ORDER BY scanned_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list basis scans: %w", err)
	}
	defer rows.Close()

	opps, err := scanBasisRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan basis scans: %w", err)
	}
	return opps, nil
}

// ListBefore returns opportunities scanned before the cutoff, oldest first,
// capped at limit.
func (s *BasisStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.BasisOpportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+basisSelectCols+` FROM basis_scans
		 WHERE scanned_at < $1
		 ORDER BY scanned_at ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list basis scans before: %w", err)
	}
	defer rows.Close()

	opps, err := scanBasisRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan basis scans before: %w", err)
	}
	return opps, nil
}

// DeleteBefore removes opportunities scanned before the cutoff and returns
// the number deleted.
func (s *BasisStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM basis_scans WHERE scanned_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete basis scans before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.BasisStore = (*BasisStore)(nil)
