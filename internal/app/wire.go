package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/dkwok94/stratcore/internal/blob/s3"
	"github.com/dkwok94/stratcore/internal/cache/redis"
	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/metrics"
	"github.com/dkwok94/stratcore/internal/notify"
	"github.com/dkwok94/stratcore/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes operate on.
// It is constructed by Wire and torn down by the returned cleanup function.
// Store and blob fields are nil when the configured mode does not wire that
// backend.
type Dependencies struct {
	// Stores
	Signals       domain.SignalStore
	Confirmations domain.ConfirmationStore
	Positions     domain.PositionStore
	Risk          domain.RiskStore
	Basis         domain.BasisStore

	// Caches and coordination
	MarketCache domain.MarketCache
	Snapshots   domain.SnapshotCache
	Bus         domain.EventBus
	Locks       domain.LockManager
	Limiter     domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Recorder buffers closed candles into dated JSONL objects so replay
	// has tapes to read back.
	Recorder *s3blob.BufferedWriter

	// Health probes for the status server. Nil when the backend is not wired.
	PingPostgres func(ctx context.Context) error
	PingRedis    func(ctx context.Context) error

	// Shared services
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// needsPostgres reports whether the mode persists core records.
func needsPostgres(cfg *config.Config) bool {
	return cfg.Mode == "run"
}

// needsS3 reports whether the mode touches object storage.
func needsS3(cfg *config.Config) bool {
	switch cfg.Mode {
	case "run":
		return cfg.Archive.Enabled
	case "replay":
		return cfg.Replay.S3Key != ""
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations for the configured
// mode and returns them together with a cleanup function that must be called
// on shutdown to release connections.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (run mode only) ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.Migrate(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Signals = postgres.NewSignalStore(pool)
		deps.Confirmations = postgres.NewConfirmationStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Risk = postgres.NewRiskStore(pool)
		deps.Basis = postgres.NewBasisStore(pool)
		deps.PingPostgres = pool.Ping
	}

	// --- Redis (every mode) ---
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.Snapshots = redis.NewSnapshotCache(redisClient)
	deps.Bus = redis.NewBus(redisClient)
	deps.Locks = redis.NewLockManager(redisClient, logger)
	deps.Limiter = redis.NewRateLimiter(redisClient)
	deps.PingRedis = redisClient.Ping

	// --- S3 (archival in run mode, tape source in replay mode) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// The archiver drains Postgres rows; without stores it stays off.
		if deps.Positions != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Positions, deps.Signals, deps.Basis, logger)
		}
		if cfg.Archive.Enabled {
			deps.Recorder = s3blob.NewBufferedWriter(deps.BlobWriter, func(ts time.Time) string {
				return s3blob.ArchiveKey("candles", ts)
			}, 0)
		}
	}

	deps.Notifier = notify.FromConfig(cfg.Notify, logger)
	deps.Metrics = metrics.New()

	return deps, cleanup, nil
}
