package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists generated signals.
type SignalStore interface {
	Insert(ctx context.Context, sig Signal) error
	GetByID(ctx context.Context, id string) (Signal, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Signal, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Signal, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ConfirmationStore persists gate verdicts with their per-layer breakdown.
type ConfirmationStore interface {
	Insert(ctx context.Context, res ConfirmationResult) error
	ListBySignal(ctx context.Context, signalID string) ([]ConfirmationResult, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ConfirmationResult, error)
}

// PositionStore persists position snapshots.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByBot(ctx context.Context, botID string, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Position, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
	CountOpenedSince(ctx context.Context, since time.Time) (int, error)
}

// RiskStore persists risk state and the guardian's audit trail.
type RiskStore interface {
	SaveState(ctx context.Context, state RiskState) error
	LoadState(ctx context.Context, scope string) (RiskState, error)
	InsertEvent(ctx context.Context, ev RiskEvent) error
	ListEvents(ctx context.Context, scope string, opts ListOpts) ([]RiskEvent, error)
}

// BasisStore persists basis scan history.
type BasisStore interface {
	InsertScan(ctx context.Context, opps []BasisOpportunity) error
	ListRecent(ctx context.Context, limit int) ([]BasisOpportunity, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]BasisOpportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
