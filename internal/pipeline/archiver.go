package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
)

// Recorder is the buffered candle writer an archive cycle flushes, so quiet
// tapes still land in cold storage on schedule rather than waiting for the
// byte threshold.
type Recorder interface {
	Flush(ctx context.Context) error
}

// Archiver moves aged core records from the database to cold storage and
// flushes the candle recorder on the same cadence.
type Archiver struct {
	blobArchiver  domain.Archiver
	recorder      Recorder
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. recorder may be nil when candle recording
// is disabled.
func NewArchiver(blobArchiver domain.Archiver, recorder Recorder, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		recorder:      recorder,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archive_job")),
		now:           time.Now,
	}
}

// SetClock overrides the time source in tests.
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// Run executes a single archive cycle. The cutoff sits retentionDays behind
// now; closed positions, dead signals, and scan snapshots older than it move
// to cold storage. A failed cycle leaves every row in place for the next one.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive cycle",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	if a.recorder != nil {
		if err := a.recorder.Flush(ctx); err != nil {
			return fmt.Errorf("flushing candle recorder: %w", err)
		}
	}

	positions, err := a.blobArchiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving positions before %v: %w", cutoff, err)
	}
	signals, err := a.blobArchiver.ArchiveSignals(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving signals before %v: %w", cutoff, err)
	}
	scans, err := a.blobArchiver.ArchiveScans(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving scans before %v: %w", cutoff, err)
	}

	a.logger.Info("archive cycle complete",
		slog.Int64("positions_archived", positions),
		slog.Int64("signals_archived", signals),
		slog.Int64("scans_archived", scans),
	)
	return nil
}

// RunLoop runs a cycle immediately, then on every tick until ctx is
// cancelled. Failed cycles are logged and retried on the next tick.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := a.Run(ctx); err != nil {
		a.logger.Error("archive cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archive loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}
