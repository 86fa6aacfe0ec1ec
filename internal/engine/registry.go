package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/feed"
)

// defaultLockTTL is the symbol lock lease when Deps.LockTTL is unset. The
// lock manager refreshes the lease while the bot runs.
const defaultLockTTL = 30 * time.Second

// Registry owns the bot fleet, keyed by bot ID. There are no singletons:
// every pipeline is an explicit instance created through Add.
type Registry struct {
	deps    Deps
	cadence map[string]config.CadenceConfig
	logger  *slog.Logger

	mu   sync.RWMutex
	bots map[string]*Bot
}

// NewRegistry creates an empty registry over the given cadence profiles.
func NewRegistry(cadence map[string]config.CadenceConfig, deps Deps) *Registry {
	return &Registry{
		deps:    deps,
		cadence: cadence,
		logger:  deps.Logger.With(slog.String("component", "registry")),
		bots:    make(map[string]*Bot),
	}
}

// Add builds and registers the pipeline for one bot config. Duplicate IDs
// are rejected with ErrBotExists.
func (r *Registry) Add(cfg config.BotConfig) (*Bot, error) {
	cad, ok := r.cadence[cfg.Cadence]
	if !ok {
		return nil, fmt.Errorf("engine: bot %s: unknown cadence %q", cfg.ID, cfg.Cadence)
	}
	b, err := NewBot(cfg, cad, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bots[cfg.ID]; exists {
		return nil, fmt.Errorf("engine: bot %s: %w", cfg.ID, domain.ErrBotExists)
	}
	r.bots[cfg.ID] = b
	r.logger.Info("bot registered",
		slog.String("bot_id", cfg.ID),
		slog.String("symbol", cfg.Symbol),
		slog.String("strategy", cfg.Strategy),
		slog.String("cadence", cfg.Cadence),
	)
	return b, nil
}

// Get returns the registered bot with the given ID.
func (r *Registry) Get(id string) (*Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[id]
	if !ok {
		return nil, fmt.Errorf("engine: bot %s: %w", id, domain.ErrBotNotFound)
	}
	return b, nil
}

// Remove stops the bot's signal generation. A flat bot is dropped from the
// registry immediately; a bot with an open position keeps running in
// manage-only mode and is dropped once the position closes.
func (r *Registry) Remove(id string) error {
	r.mu.RLock()
	b, ok := r.bots[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: bot %s: %w", id, domain.ErrBotNotFound)
	}
	b.Stop()
	if !b.Live() {
		r.drop(id)
	}
	return nil
}

// List returns a status snapshot of every registered bot, sorted by ID.
func (r *Registry) List() []BotStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BotStatus, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Symbols returns the distinct symbols the fleet trades, sorted. The feed
// subscribes to exactly this set.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.bots))
	for _, b := range r.bots {
		seen[b.cfg.Symbol] = true
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// LiveCount returns how many bots currently manage an open position.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.bots {
		if b.Live() {
			n++
		}
	}
	return n
}

// Dispatch routes one feed event to every bot trading its symbol.
func (r *Registry) Dispatch(ev feed.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bots {
		if b.cfg.Symbol == ev.Symbol {
			b.Deliver(ev)
		}
	}
}

// StartAll runs every registered bot under one errgroup and blocks until
// the group exits. Bots added after StartAll has begun are not picked up.
func (r *Registry) StartAll(ctx context.Context) error {
	bots := r.snapshot()
	if len(bots) == 0 {
		r.logger.Info("no bots registered")
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bots {
		b := b
		g.Go(func() error { return r.runBot(ctx, b) })
	}
	r.logger.Info("bot fleet started", slog.Int("bots", len(bots)))
	return g.Wait()
}

// runBot holds the per-symbol lock for the lifetime of the pipeline. A lock
// held by another process skips the bot instead of failing the fleet.
func (r *Registry) runBot(ctx context.Context, b *Bot) error {
	if r.deps.Locks != nil {
		ttl := r.deps.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		unlock, err := r.deps.Locks.Acquire(ctx, "bot:"+b.cfg.Symbol, ttl)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.Warn("symbol locked by another process, bot not started",
				slog.String("bot_id", b.cfg.ID),
				slog.String("symbol", b.cfg.Symbol),
			)
			r.drop(b.cfg.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("engine: lock %s: %w", b.cfg.Symbol, err)
		}
		defer unlock()
	}

	err := b.Run(ctx)
	if err == nil {
		// Voluntary exit: the bot was stopped and is flat.
		r.drop(b.cfg.ID)
	}
	return err
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[id]; ok {
		delete(r.bots, id)
		r.logger.Info("bot removed", slog.String("bot_id", id))
	}
}

func (r *Registry) snapshot() []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.ID < out[j].cfg.ID })
	return out
}
