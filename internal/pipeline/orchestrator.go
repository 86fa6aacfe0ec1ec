// Package pipeline runs the core's scheduled background work: cold-storage
// archival, snapshot projection for the status surfaces, and any long-lived
// runners attached to it (the Orion scan cycle). One errgroup owns every
// goroutine so a hard failure in one job stops the process instead of
// leaving it half-running.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultArchiveInterval  = time.Hour
	defaultSnapshotInterval = 30 * time.Second
)

// Runner is a long-lived loop the orchestrator supervises alongside its own
// jobs. Run blocks until ctx is cancelled or the loop fails.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Orchestrator coordinates the background goroutines. Either job may be nil
// to disable it.
type Orchestrator struct {
	archiver         *Archiver
	snapshotter      *Snapshotter
	archiveInterval  time.Duration
	snapshotInterval time.Duration
	runners          []Runner
	logger           *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Non-positive intervals fall back
// to defaults.
func NewOrchestrator(
	archiver *Archiver,
	snapshotter *Snapshotter,
	archiveInterval time.Duration,
	snapshotInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	if archiveInterval <= 0 {
		archiveInterval = defaultArchiveInterval
	}
	if snapshotInterval <= 0 {
		snapshotInterval = defaultSnapshotInterval
	}
	return &Orchestrator{
		archiver:         archiver,
		snapshotter:      snapshotter,
		archiveInterval:  archiveInterval,
		snapshotInterval: snapshotInterval,
		logger:           logger.With(slog.String("component", "pipeline")),
	}
}

// Attach adds a runner to supervise. Must be called before Run.
func (o *Orchestrator) Attach(name string, run func(ctx context.Context) error) {
	o.runners = append(o.runners, Runner{Name: name, Run: run})
}

// Run starts every job and attached runner as concurrent goroutines under an
// errgroup. Each goroutine respects ctx cancellation. If any goroutine
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("archive_interval", o.archiveInterval),
		slog.Duration("snapshot_interval", o.snapshotInterval),
		slog.Int("runners", len(o.runners)),
	)

	g, ctx := errgroup.WithContext(ctx)

	// 1. Cold-storage archival on its interval.
	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archive loop")
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	// 2. Snapshot projection on its interval.
	if o.snapshotter != nil {
		g.Go(func() error {
			o.logger.Info("starting snapshot loop")
			err := o.snapshotter.RunLoop(ctx, o.snapshotInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("snapshotter: %w", err)
		})
	}

	// 3. Attached runners.
	for _, r := range o.runners {
		r := r
		g.Go(func() error {
			o.logger.Info("starting runner", slog.String("runner", r.Name))
			err := r.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", r.Name, err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
