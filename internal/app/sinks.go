package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/metrics"
	"github.com/dkwok94/stratcore/internal/notify"
)

// The fan-outs below are the only writers of the core's projections. Every
// write is best-effort: a failed store or bus call is logged and never
// propagates back into a pipeline.
//
// Each fan-out declares the narrow store view it writes through; the
// Postgres stores and the redis snapshot cache satisfy them.

type signalInserter interface {
	Insert(ctx context.Context, sig domain.Signal) error
}

type confirmationInserter interface {
	Insert(ctx context.Context, res domain.ConfirmationResult) error
}

type positionWriter interface {
	Upsert(ctx context.Context, pos domain.Position) error
}

type positionProjection interface {
	SetPosition(ctx context.Context, pos domain.Position) error
	DeletePosition(ctx context.Context, id string) error
}

type riskWriter interface {
	SaveState(ctx context.Context, state domain.RiskState) error
	InsertEvent(ctx context.Context, ev domain.RiskEvent) error
}

type riskProjection interface {
	SetRiskState(ctx context.Context, state domain.RiskState) error
}

type scanWriter interface {
	InsertScan(ctx context.Context, opps []domain.BasisOpportunity) error
}

// publishJSON marshals v onto the bus channel.
func publishJSON(ctx context.Context, bus domain.EventBus, channel string, v any, logger *slog.Logger) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.ErrorContext(ctx, "bus payload marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// signalSink persists each generated signal with its confirmation verdict
// and mirrors both onto the event bus.
type signalSink struct {
	signals       signalInserter
	confirmations confirmationInserter
	bus           domain.EventBus
	logger        *slog.Logger
}

func (s *signalSink) Publish(ctx context.Context, sig domain.Signal, res domain.ConfirmationResult) {
	if s.signals != nil {
		if err := s.signals.Insert(ctx, sig); err != nil {
			s.logger.ErrorContext(ctx, "signal insert failed",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.confirmations != nil {
		if err := s.confirmations.Insert(ctx, res); err != nil {
			s.logger.ErrorContext(ctx, "confirmation insert failed",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	publishJSON(ctx, s.bus, domain.ChannelSignals, sig, s.logger)
	publishJSON(ctx, s.bus, domain.ChannelConfirmations, res, s.logger)
}

// positionFanout spreads every position change across the projections:
// Postgres upsert, snapshot cache, event bus, metrics and operator
// notifications. It remembers the last status seen per position so lifecycle
// notifications fire once per transition rather than on every mark update.
type positionFanout struct {
	store     positionWriter
	snapshots positionProjection
	bus       domain.EventBus
	metrics   *metrics.Metrics
	notifier  *notify.Notifier
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]domain.PositionStatus
}

func newPositionFanout(
	store positionWriter,
	snapshots positionProjection,
	bus domain.EventBus,
	m *metrics.Metrics,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *positionFanout {
	return &positionFanout{
		store:     store,
		snapshots: snapshots,
		bus:       bus,
		metrics:   m,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "position_fanout")),
		seen:      make(map[string]domain.PositionStatus),
	}
}

// Adopt primes the transition tracker with a position restored at startup,
// so its first in-process update is not mistaken for a fresh entry.
func (f *positionFanout) Adopt(pos domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[pos.ID] = pos.Status
}

func (f *positionFanout) Publish(ctx context.Context, pos domain.Position) {
	if f.store != nil {
		if err := f.store.Upsert(ctx, pos); err != nil {
			f.logger.ErrorContext(ctx, "position upsert failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if f.snapshots != nil {
		var err error
		if pos.Status.Terminal() {
			err = f.snapshots.DeletePosition(ctx, pos.ID)
		} else {
			err = f.snapshots.SetPosition(ctx, pos)
		}
		if err != nil {
			f.logger.WarnContext(ctx, "position snapshot update failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	publishJSON(ctx, f.bus, domain.ChannelPositions, pos, f.logger)
	f.observeTransition(ctx, pos)
}

func (f *positionFanout) observeTransition(ctx context.Context, pos domain.Position) {
	f.mu.Lock()
	prev, known := f.seen[pos.ID]
	if pos.Status.Terminal() {
		delete(f.seen, pos.ID)
	} else {
		f.seen[pos.ID] = pos.Status
	}
	f.mu.Unlock()

	if known && prev == pos.Status {
		return
	}

	switch pos.Status {
	case domain.PositionOpen:
		// Scale-ins return to open too; only the pending entry filling
		// counts as a fresh entry.
		if known && prev == domain.PositionPendingEntry && f.notifier != nil {
			f.notifyErr(ctx, "position opened", f.notifier.PositionOpened(ctx, pos))
		}
	case domain.PositionClosed:
		if f.metrics != nil {
			f.metrics.AddRealizedPnL(pos.RealizedPnL)
		}
		if f.notifier != nil {
			f.notifyErr(ctx, "position closed", f.notifier.PositionClosed(ctx, pos))
		}
	case domain.PositionErrored:
		if f.notifier != nil {
			f.notifyErr(ctx, "position errored", f.notifier.PositionErrored(ctx, pos))
		}
	}
}

func (f *positionFanout) notifyErr(ctx context.Context, event string, err error) {
	if err != nil {
		f.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// riskFanout persists guardian state after every change, projects it into
// the snapshot cache and notifies operators on trips and resets. Rejections
// are persisted for the audit trail but not pushed to notification channels.
type riskFanout struct {
	store     riskWriter
	snapshots riskProjection
	bus       domain.EventBus
	notifier  *notify.Notifier
	logger    *slog.Logger
}

func (f *riskFanout) Publish(ctx context.Context, state domain.RiskState, ev *domain.RiskEvent) {
	if f.store != nil {
		if err := f.store.SaveState(ctx, state); err != nil {
			f.logger.ErrorContext(ctx, "risk state save failed",
				slog.String("scope", state.Scope),
				slog.String("error", err.Error()),
			)
		}
		if ev != nil {
			if err := f.store.InsertEvent(ctx, *ev); err != nil {
				f.logger.ErrorContext(ctx, "risk event insert failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if f.snapshots != nil {
		if err := f.snapshots.SetRiskState(ctx, state); err != nil {
			f.logger.WarnContext(ctx, "risk snapshot update failed",
				slog.String("error", err.Error()),
			)
		}
	}
	publishJSON(ctx, f.bus, domain.ChannelRisk, state, f.logger)

	if ev == nil || f.notifier == nil {
		return
	}
	switch ev.Kind {
	case domain.RiskEventTrip:
		if err := f.notifier.RiskTripped(ctx, state); err != nil {
			f.logger.WarnContext(ctx, "risk trip notification failed",
				slog.String("error", err.Error()),
			)
		}
	case domain.RiskEventReset:
		if err := f.notifier.RiskReset(ctx, ev.Scope, ev.Operator); err != nil {
			f.logger.WarnContext(ctx, "risk reset notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// scanFanout records each basis scan and pushes the ranked opportunities to
// the dashboard and notification channels. Empty scans still reach the bus
// so consumers can clear stale listings.
type scanFanout struct {
	store    scanWriter
	bus      domain.EventBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

func (f *scanFanout) Publish(ctx context.Context, opps []domain.BasisOpportunity) {
	if f.store != nil {
		if err := f.store.InsertScan(ctx, opps); err != nil {
			f.logger.ErrorContext(ctx, "basis scan insert failed",
				slog.Int("opportunities", len(opps)),
				slog.String("error", err.Error()),
			)
		}
	}
	if opps == nil {
		opps = []domain.BasisOpportunity{}
	}
	publishJSON(ctx, f.bus, domain.ChannelOpportunities, opps, f.logger)
	if f.notifier != nil {
		if err := f.notifier.Opportunities(ctx, opps); err != nil {
			f.logger.WarnContext(ctx, "opportunity notification failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// breakerStats forwards order outcomes to the metrics registry and turns
// transport breaker transitions into operator notifications.
type breakerStats struct {
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	logger   *slog.Logger
}

func (s *breakerStats) OrderPlaced() { s.metrics.OrderPlaced() }
func (s *breakerStats) OrderFailed() { s.metrics.OrderFailed() }

func (s *breakerStats) SetBreakerState(state string) {
	s.metrics.SetBreakerState(state)
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	// Fired from the breaker's state-change hook, outside any request
	// context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	switch state {
	case "open":
		err = s.notifier.BreakerTripped(ctx, "consecutive order failures")
	case "closed":
		err = s.notifier.BreakerReset(ctx)
	}
	if err != nil {
		s.logger.Warn("breaker notification failed",
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
	}
}
