// Package postgres implements the domain store interfaces using PostgreSQL
// via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
)

// DSN builds a PostgreSQL connection string from the given config. An
// explicit DSN wins over the individual fields.
func DSN(cfg config.PostgresConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode,
	)
}

// Client wraps a pgxpool.Pool and manages the schema.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a new Client with a connection pool configured from cfg.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.PoolMaxConns)
	}
	if cfg.PoolMinConns > 0 {
		poolCfg.MinConns = int32(cfg.PoolMinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close shuts down the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// schema holds the idempotent DDL applied on startup, one statement per
// entry and ordered so indexes follow their tables.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id            TEXT PRIMARY KEY,
		symbol        TEXT NOT NULL,
		direction     TEXT NOT NULL,
		strategy      TEXT NOT NULL,
		entry_price   DOUBLE PRECISION NOT NULL,
		stop_loss     DOUBLE PRECISION NOT NULL,
		take_profits  JSONB NOT NULL DEFAULT '[]',
		size_hint     DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason        TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_created ON signals (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS confirmations (
		id           BIGSERIAL PRIMARY KEY,
		signal_id    TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		layers       JSONB NOT NULL DEFAULT '[]',
		score        DOUBLE PRECISION NOT NULL,
		passed_count INT NOT NULL,
		required     INT NOT NULL,
		min_score    DOUBLE PRECISION NOT NULL,
		accepted     BOOLEAN NOT NULL,
		evaluated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_confirmations_signal ON confirmations (signal_id)`,
	`CREATE INDEX IF NOT EXISTS idx_confirmations_evaluated ON confirmations (evaluated_at DESC)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id                 TEXT PRIMARY KEY,
		bot_id             TEXT NOT NULL,
		signal_id          TEXT NOT NULL DEFAULT '',
		symbol             TEXT NOT NULL,
		direction          TEXT NOT NULL,
		strategy           TEXT NOT NULL,
		leverage           DOUBLE PRECISION NOT NULL DEFAULT 1,
		fills              JSONB NOT NULL DEFAULT '[]',
		take_profits       JSONB NOT NULL DEFAULT '[]',
		stop_loss          DOUBLE PRECISION NOT NULL DEFAULT 0,
		initial_stop       DOUBLE PRECISION NOT NULL DEFAULT 0,
		trailing_activated BOOLEAN NOT NULL DEFAULT FALSE,
		water_mark         DOUBLE PRECISION NOT NULL DEFAULT 0,
		pyramid_level      INT NOT NULL DEFAULT 0,
		pending_order_id   TEXT NOT NULL DEFAULT '',
		realized_pnl       DOUBLE PRECISION NOT NULL DEFAULT 0,
		unrealized_pnl     DOUBLE PRECISION NOT NULL DEFAULT 0,
		funding_pnl        DOUBLE PRECISION NOT NULL DEFAULT 0,
		status             TEXT NOT NULL,
		status_note        TEXT NOT NULL DEFAULT '',
		opened_at          TIMESTAMPTZ NOT NULL,
		closed_at          TIMESTAMPTZ,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_bot ON positions (bot_id, opened_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status)`,

	`CREATE TABLE IF NOT EXISTS risk_states (
		scope        TEXT PRIMARY KEY,
		day          TIMESTAMPTZ NOT NULL,
		daily_trades INT NOT NULL DEFAULT 0,
		equity       DOUBLE PRECISION NOT NULL DEFAULT 0,
		peak_equity  DOUBLE PRECISION NOT NULL DEFAULT 0,
		tripped      BOOLEAN NOT NULL DEFAULT FALSE,
		trip_reason  TEXT NOT NULL DEFAULT '',
		tripped_at   TIMESTAMPTZ,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS risk_events (
		id         BIGSERIAL PRIMARY KEY,
		scope      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		trigger    TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		operator   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_scope ON risk_events (scope, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS basis_scans (
		id                BIGSERIAL PRIMARY KEY,
		spot_symbol       TEXT NOT NULL,
		futures_symbol    TEXT NOT NULL,
		spot_price        DOUBLE PRECISION NOT NULL,
		futures_price     DOUBLE PRECISION NOT NULL,
		basis             DOUBLE PRECISION NOT NULL,
		basis_percent     DOUBLE PRECISION NOT NULL,
		funding_rate      DOUBLE PRECISION NOT NULL,
		annualized_return DOUBLE PRECISION NOT NULL,
		opportunity_type  TEXT NOT NULL,
		confidence        DOUBLE PRECISION NOT NULL,
		scanned_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_basis_scans_scanned ON basis_scans (scanned_at DESC)`,
}

// Migrate applies the schema. Every statement is idempotent, so running it on
// every startup is safe.
func (c *Client) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// listClauses appends time-range, order, limit and offset clauses for a
// ListOpts to a base query. column is the timestamp column the range and
// ordering apply to; argIdx is the next free placeholder index.
func listClauses(query string, args []any, argIdx int, column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", column)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
