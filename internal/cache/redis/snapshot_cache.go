package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkwok94/stratcore/internal/domain"
)

// flagsTTL is housekeeping only; flags carry their own ExpiresAt and readers
// filter on it.
const flagsTTL = 30 * time.Minute

// SnapshotCache implements domain.SnapshotCache. It projects live core state
// (open positions, risk state, manipulation flags) into Redis so the status
// API and other processes can read it without touching the pipelines.
//
// Key schema:
//
//	snap:positions      - hash mapping position ID to JSON
//	snap:risk:{scope}   - JSON risk state
//	snap:flags:{symbol} - JSON array of active flags
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

const positionsKey = "snap:positions"

func riskKey(scope string) string   { return "snap:risk:" + scope }
func flagsKey(symbol string) string { return "snap:flags:" + symbol }

// SetPosition upserts one position snapshot.
func (sc *SnapshotCache) SetPosition(ctx context.Context, pos domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: marshal position %s: %w", pos.ID, err)
	}
	if err := sc.rdb.HSet(ctx, positionsKey, pos.ID, data).Err(); err != nil {
		return fmt.Errorf("redis: set position %s: %w", pos.ID, err)
	}
	return nil
}

// DeletePosition removes a position snapshot, typically after the position
// closed and was archived.
func (sc *SnapshotCache) DeletePosition(ctx context.Context, id string) error {
	if err := sc.rdb.HDel(ctx, positionsKey, id).Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", id, err)
	}
	return nil
}

// ListPositions returns all projected positions sorted by ID. Entries that no
// longer unmarshal are skipped rather than failing the whole read.
func (sc *SnapshotCache) ListPositions(ctx context.Context) ([]domain.Position, error) {
	vals, err := sc.rdb.HGetAll(ctx, positionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(vals))
	for _, raw := range vals {
		var pos domain.Position
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			continue
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	return positions, nil
}

// SetRiskState stores the risk state for its scope. No TTL: risk state must
// survive process restarts.
func (sc *SnapshotCache) SetRiskState(ctx context.Context, state domain.RiskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal risk state %s: %w", state.Scope, err)
	}
	if err := sc.rdb.Set(ctx, riskKey(state.Scope), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set risk state %s: %w", state.Scope, err)
	}
	return nil
}

// GetRiskState retrieves the risk state for a scope.
// It returns domain.ErrNotFound when no state has been projected.
func (sc *SnapshotCache) GetRiskState(ctx context.Context, scope string) (domain.RiskState, error) {
	data, err := sc.rdb.Get(ctx, riskKey(scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RiskState{}, domain.ErrNotFound
		}
		return domain.RiskState{}, fmt.Errorf("redis: get risk state %s: %w", scope, err)
	}

	var state domain.RiskState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.RiskState{}, fmt.Errorf("redis: unmarshal risk state %s: %w", scope, err)
	}
	return state, nil
}

// SetFlags replaces the active manipulation flags for a symbol. An empty set
// deletes the key.
func (sc *SnapshotCache) SetFlags(ctx context.Context, symbol string, flags []domain.ManipulationFlag) error {
	key := flagsKey(symbol)
	if len(flags) == 0 {
		if err := sc.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis: clear flags %s: %w", symbol, err)
		}
		return nil
	}

	data, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("redis: marshal flags %s: %w", symbol, err)
	}
	if err := sc.rdb.Set(ctx, key, data, flagsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set flags %s: %w", symbol, err)
	}
	return nil
}

// GetFlags retrieves the flags for a symbol. A missing key means no flags and
// returns an empty result, not an error.
func (sc *SnapshotCache) GetFlags(ctx context.Context, symbol string) ([]domain.ManipulationFlag, error) {
	data, err := sc.rdb.Get(ctx, flagsKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get flags %s: %w", symbol, err)
	}

	var flags []domain.ManipulationFlag
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("redis: unmarshal flags %s: %w", symbol, err)
	}
	return flags, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
