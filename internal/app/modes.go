package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkwok94/stratcore/internal/argus"
	s3blob "github.com/dkwok94/stratcore/internal/blob/s3"
	"github.com/dkwok94/stratcore/internal/config"
	"github.com/dkwok94/stratcore/internal/crypto"
	"github.com/dkwok94/stratcore/internal/domain"
	"github.com/dkwok94/stratcore/internal/engine"
	"github.com/dkwok94/stratcore/internal/exec"
	"github.com/dkwok94/stratcore/internal/feed"
	"github.com/dkwok94/stratcore/internal/gate"
	"github.com/dkwok94/stratcore/internal/orion"
	"github.com/dkwok94/stratcore/internal/pipeline"
	"github.com/dkwok94/stratcore/internal/risk"
	"github.com/dkwok94/stratcore/internal/server"
	"github.com/dkwok94/stratcore/internal/server/handler"
	"github.com/dkwok94/stratcore/internal/server/ws"
	"github.com/dkwok94/stratcore/internal/strategy"
)

// Version is reported by the status endpoint. Release builds override it
// with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

// RunMode starts the full core: market feed, bot fleet, orion runner, argus
// detection, background jobs and the status server, all supervised by one
// errgroup. It blocks until the context is cancelled or a component fails.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode",
		slog.Int("bots", len(a.cfg.Engine.Bots)),
		slog.Bool("orion", a.cfg.Orion.Enabled),
		slog.Bool("argus", a.cfg.Argus.Enabled),
		slog.Bool("archive", a.cfg.Archive.Enabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	startedAt := time.Now().UTC()

	// Market state. The paper adapter marks fills off the same feed the
	// strategies read.
	feedSvc := feed.NewFeed(a.cfg.Feed, deps.MarketCache, a.logger)

	adapter, err := a.buildAdapter(feedSvc)
	if err != nil {
		return fmt.Errorf("run mode: %w", err)
	}
	breaker := exec.NewBreaker(adapter,
		a.cfg.Exchange.BreakerFailures,
		a.cfg.Exchange.BreakerCooldown.Duration,
		a.logger,
	)
	breaker.SetStats(&breakerStats{metrics: deps.Metrics, notifier: deps.Notifier, logger: a.logger})
	deps.Metrics.SetBreakerState("closed")

	// Detection and account-level risk.
	var detector *argus.Detector
	var engineFlags engine.FlagSource
	var riskFlags risk.FlagSource
	var snapFlags pipeline.FlagSource
	if a.cfg.Argus.Enabled {
		detector = argus.New(a.cfg.Argus, a.logger)
		engineFlags, riskFlags, snapFlags = detector, detector, detector
	}

	riskSink := &riskFanout{
		store:     deps.Risk,
		snapshots: deps.Snapshots,
		bus:       deps.Bus,
		notifier:  deps.Notifier,
		logger:    a.logger.With(slog.String("component", "risk_fanout")),
	}
	guardian := risk.NewGuardian(a.cfg.Risk, riskFlags, riskSink.Publish, a.logger)
	a.restoreRiskState(ctx, deps, guardian)

	// Bot fleet.
	posSink := newPositionFanout(deps.Positions, deps.Snapshots, deps.Bus, deps.Metrics, deps.Notifier, a.logger)
	sigSink := &signalSink{
		signals:       deps.Signals,
		confirmations: deps.Confirmations,
		bus:           deps.Bus,
		logger:        a.logger.With(slog.String("component", "signal_fanout")),
	}
	registry := engine.NewRegistry(a.cfg.Engine.Cadence, engine.Deps{
		Feed:      feedSvc,
		Adapter:   breaker,
		Gate:      gate.New(a.cfg.Gate, a.logger),
		Risk:      guardian,
		Flags:     engineFlags,
		Signals:   sigSink.Publish,
		Positions: posSink.Publish,
		Metrics:   deps.Metrics,
		Locks:     deps.Locks,
		LockTTL:   a.cfg.Redis.LockTTL.Duration,
		Logger:    a.logger,
	})
	for _, botCfg := range a.cfg.Engine.Bots {
		if !botCfg.Enabled {
			continue
		}
		if _, err := registry.Add(botCfg); err != nil {
			return fmt.Errorf("run mode: add bot %s: %w", botCfg.ID, err)
		}
	}
	if err := a.adoptOpenPositions(ctx, deps, registry, posSink); err != nil {
		return fmt.Errorf("run mode: %w", err)
	}

	// Market data path: stream → reorder buffer → fan-in.
	symbols := watchSymbols(registry, a.cfg.Orion)
	feedSvc.WarmUp(ctx, symbols, cadenceIntervals(a.cfg.Engine.Cadence, detector != nil))

	dispatch := a.dispatchFunc(ctx, deps, feedSvc, registry, detector)
	reorderer := feed.NewReorderer(a.cfg.Feed.ReorderWindow.Duration, dispatch, a.logger)
	stream := feed.NewStream(a.cfg.Feed.WsURL, symbols, reorderer.Push, a.logger)

	// 1. Reorder buffer eviction.
	g.Go(func() error {
		err := reorderer.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	// 2. Websocket market stream.
	g.Go(func() error {
		err := stream.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	// 3. Bot fleet.
	g.Go(func() error {
		err := registry.StartAll(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	// 4. Background jobs: archival, snapshot projection, orion cadence.
	orch := a.buildJobs(deps, feedSvc, guardian, snapFlags)
	if a.cfg.Orion.Enabled {
		runner := a.buildOrion(deps, feedSvc, breaker)
		orch.Attach("orion", runner.Run)
	}
	g.Go(func() error {
		return orch.Run(ctx)
	})

	// 5. Status server.
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, registry, breaker, startedAt)
	}

	return g.Wait()
}

// buildAdapter selects the execution venue. Credentials resolve before the
// venue check so a bad key file or passphrase surfaces at startup rather
// than at the first order.
func (a *App) buildAdapter(feedSvc *feed.Feed) (domain.ExecutionAdapter, error) {
	venue := strings.ToLower(a.cfg.Exchange.Venue)
	if venue == "paper" {
		return exec.NewPaper(a.cfg.Exchange.Paper, feedSvc, a.logger), nil
	}
	if _, err := crypto.LoadCredentials(crypto.CredentialSource{
		ApiKey:        a.cfg.Exchange.ApiKey,
		ApiSecret:     a.cfg.Exchange.ApiSecret,
		EncryptedPath: a.cfg.Exchange.EncryptedKeyPath,
		Password:      a.cfg.Exchange.KeyPassword,
	}); err != nil {
		return nil, fmt.Errorf("venue %s: credentials: %w", venue, err)
	}
	return nil, fmt.Errorf("venue %q: no live adapter is linked into this build", a.cfg.Exchange.Venue)
}

// restoreRiskState seeds the guardian from the last persisted state, falling
// back to the snapshot cache when the store has none. A tripped breaker
// stays tripped across restarts.
func (a *App) restoreRiskState(ctx context.Context, deps *Dependencies, guardian *risk.Guardian) {
	scope := a.cfg.Risk.Scope
	if deps.Risk != nil {
		state, err := deps.Risk.LoadState(ctx, scope)
		if err == nil {
			guardian.Restore(state)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "risk state load failed, trying snapshot",
				slog.String("scope", scope),
				slog.String("error", err.Error()),
			)
		}
	}
	if state, err := deps.Snapshots.GetRiskState(ctx, scope); err == nil {
		guardian.Restore(state)
		return
	}
	a.logger.InfoContext(ctx, "no persisted risk state, starting fresh",
		slog.String("scope", scope),
	)
}

// adoptOpenPositions hands persisted open positions back to their bots so
// management resumes where the previous process stopped. Positions whose
// bot is no longer configured stay untouched in the store.
func (a *App) adoptOpenPositions(ctx context.Context, deps *Dependencies, registry *engine.Registry, fanout *positionFanout) error {
	if deps.Positions == nil {
		return nil
	}
	open, err := deps.Positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	for _, pos := range open {
		bot, err := registry.Get(pos.BotID)
		if err != nil {
			a.logger.WarnContext(ctx, "open position has no configured bot, left unmanaged",
				slog.String("position_id", pos.ID),
				slog.String("bot_id", pos.BotID),
				slog.String("symbol", pos.Symbol),
			)
			continue
		}
		if err := bot.AdoptPosition(pos); err != nil {
			return fmt.Errorf("adopt position %s: %w", pos.ID, err)
		}
		fanout.Adopt(pos)
		a.logger.InfoContext(ctx, "position adopted",
			slog.String("position_id", pos.ID),
			slog.String("bot_id", pos.BotID),
			slog.String("status", string(pos.Status)),
		)
	}
	return nil
}

// dispatchFunc builds the fan-in applied to every event leaving the reorder
// buffer: fold into feed state, observe lag, score closed minute candles,
// record candles for the archive, deliver to the bots and mirror ticks onto
// the bus.
func (a *App) dispatchFunc(
	ctx context.Context,
	deps *Dependencies,
	feedSvc *feed.Feed,
	registry *engine.Registry,
	detector *argus.Detector,
) func(feed.Event) {
	logger := a.logger.With(slog.String("component", "dispatch"))
	return func(ev feed.Event) {
		feedSvc.Apply(ctx, ev)
		if !ev.Timestamp.IsZero() {
			deps.Metrics.ObserveFeedLag(time.Since(ev.Timestamp))
		}

		switch ev.Kind {
		case feed.EventTick:
			publishJSON(ctx, deps.Bus, domain.ChannelTicks, ev.Tick, logger)
		case feed.EventCandle:
			if !ev.CandleClosed || ev.Candle == nil {
				break
			}
			if deps.Recorder != nil {
				if err := deps.Recorder.Append(ctx, *ev.Candle); err != nil {
					logger.WarnContext(ctx, "candle record failed",
						slog.String("symbol", ev.Symbol),
						slog.String("error", err.Error()),
					)
				}
			}
			if detector != nil && ev.Candle.Interval == domain.Interval1m {
				if flag := detector.Observe(*ev.Candle); flag != nil {
					publishJSON(ctx, deps.Bus, domain.ChannelFlags, flag, logger)
				}
			}
		}

		registry.Dispatch(ev)
	}
}

// buildJobs assembles the background job orchestrator: cold-storage
// archival when the archiver is wired, snapshot projection always.
func (a *App) buildJobs(deps *Dependencies, feedSvc *feed.Feed, guardian *risk.Guardian, flags pipeline.FlagSource) *pipeline.Orchestrator {
	var archiveJob *pipeline.Archiver
	if deps.Archiver != nil {
		var rec pipeline.Recorder
		if deps.Recorder != nil {
			rec = deps.Recorder
		}
		archiveJob = pipeline.NewArchiver(deps.Archiver, rec, a.cfg.Archive.RetentionDays, a.logger)
	}
	snapshotter := pipeline.NewSnapshotter(guardian, flags, deps.Snapshots, deps.Metrics, a.logger)
	snapshotter.ProjectMarket(feedSvc, deps.MarketCache)
	return pipeline.NewOrchestrator(
		archiveJob,
		snapshotter,
		a.cfg.Archive.Interval.Duration,
		a.cfg.Archive.SnapshotInterval.Duration,
		a.logger,
	)
}

// buildOrion assembles the basis runner against the live feed and the
// breaker-wrapped adapter.
func (a *App) buildOrion(deps *Dependencies, feedSvc *feed.Feed, adapter domain.ExecutionAdapter) *orion.Runner {
	scans := &scanFanout{
		store:    deps.Basis,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		logger:   a.logger.With(slog.String("component", "scan_fanout")),
	}
	return orion.NewRunner(orion.RunnerConfig{
		Config:    a.cfg.Orion,
		Scanner:   orion.NewScanner(a.cfg.Orion, a.logger),
		Trader:    orion.NewTrader(a.cfg.Orion, adapter, a.logger),
		Market:    feedMarket{feedSvc},
		Scans:     scans.Publish,
		Positions: a.basisPositionSink(deps),
		Logger:    a.logger,
	})
}

// feedMarket adapts the feed's read surface to the names the basis scanner
// expects.
type feedMarket struct {
	feed *feed.Feed
}

func (m feedMarket) LatestTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return m.feed.Ticker(ctx, symbol)
}

func (m feedMarket) LatestFunding(ctx context.Context, symbol string) (domain.FundingRate, error) {
	return m.feed.FundingRate(ctx, symbol)
}

// basisPositionSink mirrors basis leg snapshots onto the positions channel.
// Basis positions live in runner memory; there is no store round-trip.
func (a *App) basisPositionSink(deps *Dependencies) orion.PositionSink {
	logger := a.logger.With(slog.String("component", "basis_fanout"))
	return func(ctx context.Context, pos domain.BasisPosition) {
		publishJSON(ctx, deps.Bus, domain.ChannelPositions, pos, logger)
	}
}

// startServer registers the status API and websocket hub on the errgroup.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	registry *engine.Registry,
	breaker *exec.Breaker,
	startedAt time.Time,
) {
	checks := []handler.HealthCheck{{Name: "redis", Check: deps.PingRedis}}
	if deps.PingPostgres != nil {
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: deps.PingPostgres})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(checks),
		Status: handler.NewStatusHandler(a.cfg.Mode, Version, startedAt, registry, func() string {
			return breaker.State().String()
		}),
		Bots:      handler.NewBotsHandler(registry),
		Positions: handler.NewPositionsHandler(deps.Snapshots, a.logger),
		Flags:     handler.NewFlagsHandler(deps.Snapshots, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	if deps.Risk != nil {
		handlers.Risk = handler.NewRiskHandler(deps.Snapshots, deps.Risk, a.logger)
	}
	if deps.Basis != nil {
		handlers.Opportunities = handler.NewOpportunitiesHandler(deps.Basis, a.logger)
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
		LiveBots:  registry.LiveCount,
	})
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, deps.Limiter, a.logger)

	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// watchSymbols collects the distinct symbols the stream subscribes to:
// every bot symbol plus both legs of each orion pair.
func watchSymbols(registry *engine.Registry, orionCfg config.OrionConfig) []string {
	set := make(map[string]bool)
	for _, s := range registry.Symbols() {
		set[s] = true
	}
	if orionCfg.Enabled {
		for _, pair := range orionCfg.Pairs {
			set[pair.Spot] = true
			set[pair.Futures] = true
		}
	}
	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// cadenceIntervals lists the candle intervals to warm from cache: one per
// cadence profile, plus the minute candles argus scores.
func cadenceIntervals(cadence map[string]config.CadenceConfig, withArgus bool) []domain.Interval {
	set := make(map[domain.Interval]bool)
	for _, c := range cadence {
		set[domain.Interval(c.Interval)] = true
	}
	if withArgus {
		set[domain.Interval1m] = true
	}
	intervals := make([]domain.Interval, 0, len(set))
	for iv := range set {
		intervals = append(intervals, iv)
	}
	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Duration() < intervals[j].Duration()
	})
	return intervals
}

// ScanMode runs one basis scan against cached market state and prints the
// ranked opportunities. Nothing is persisted and no orders are placed.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	if len(a.cfg.Orion.Pairs) == 0 {
		return errors.New("scan mode: no orion pairs configured")
	}

	spot := make(map[string]float64, len(a.cfg.Orion.Pairs))
	futures := make(map[string]float64, len(a.cfg.Orion.Pairs))
	funding := make(map[string]domain.FundingRate, len(a.cfg.Orion.Pairs))
	for _, pair := range a.cfg.Orion.Pairs {
		spotTicker, err := deps.MarketCache.GetTicker(ctx, pair.Spot)
		if err != nil {
			a.logger.WarnContext(ctx, "no cached spot ticker, pair skipped",
				slog.String("symbol", pair.Spot),
				slog.String("error", err.Error()),
			)
			continue
		}
		futTicker, err := deps.MarketCache.GetTicker(ctx, pair.Futures)
		if err != nil {
			a.logger.WarnContext(ctx, "no cached futures ticker, pair skipped",
				slog.String("symbol", pair.Futures),
				slog.String("error", err.Error()),
			)
			continue
		}
		spot[pair.Spot] = spotTicker.Mid()
		futures[pair.Futures] = futTicker.Mid()
		if rate, err := deps.MarketCache.GetFunding(ctx, pair.Futures); err == nil {
			funding[pair.Futures] = rate
		}
	}
	if len(spot) == 0 {
		return errors.New("scan mode: no cached market data for any configured pair (a run-mode core keeps the cache warm)")
	}

	opps := orion.NewScanner(a.cfg.Orion, a.logger).Scan(spot, futures, funding)
	if len(opps) == 0 {
		fmt.Println("no basis opportunities above threshold")
		return nil
	}

	fmt.Printf("%-12s %-14s %12s %12s %9s %10s %6s\n",
		"SPOT", "FUTURES", "SPOT PX", "FUT PX", "BASIS%", "ANNUAL%", "CONF")
	for _, opp := range opps {
		fmt.Printf("%-12s %-14s %12.4f %12.4f %9.3f %10.2f %6.2f\n",
			opp.SpotSymbol, opp.FuturesSymbol,
			opp.SpotPrice, opp.FuturesPrice,
			opp.BasisPercent, opp.AnnualizedReturn*100, opp.Confidence,
		)
	}
	return nil
}

// ReplayMode feeds a recorded candle tape through one generator and prints
// each signal it produces as a stable line, so two runs over the same tape
// can be diffed. Nothing is persisted and no orders are placed.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	sources, err := a.tapeSources(ctx, deps)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	interval := domain.Interval(a.cfg.Replay.Interval)
	gen, window, err := a.replayGenerator(interval)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	a.logger.InfoContext(ctx, "replay starting",
		slog.String("strategy", a.cfg.Replay.Strategy),
		slog.String("symbol", a.cfg.Replay.Symbol),
		slog.String("interval", string(interval)),
		slog.Int("window", window),
		slog.Int("tapes", len(sources)),
	)

	var candles, signals int
	buf := make([]domain.Candle, 0, window)
	process := func(c domain.Candle) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Symbol != a.cfg.Replay.Symbol || c.Interval != interval {
			return nil
		}
		candles++
		buf = append(buf, c)
		if len(buf) > window {
			copy(buf, buf[1:])
			buf = buf[:window]
		}

		sig, err := gen.Generate(a.cfg.Replay.Symbol, buf)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientData) {
				return nil
			}
			return err
		}
		if sig == nil {
			return nil
		}
		signals++
		fmt.Println(replayLine(c, *sig))
		return nil
	}

	// The window carries across tape boundaries, so a day split over many
	// recorder flushes replays as one continuous stream.
	for _, src := range sources {
		tape, err := src.open(ctx)
		if err != nil {
			return fmt.Errorf("replay mode: %w", err)
		}
		err = s3blob.DecodeJSONL(tape, process)
		tape.Close()
		if err != nil {
			return fmt.Errorf("replay mode: tape %s: %w", src.name, err)
		}
	}

	a.logger.InfoContext(ctx, "replay finished",
		slog.Int("candles", candles),
		slog.Int("signals", signals),
	)
	return nil
}

// tapeSource is one replay input, opened lazily so a multi-object replay
// holds a single connection at a time.
type tapeSource struct {
	name string
	open func(ctx context.Context) (io.ReadCloser, error)
}

// tapeSources resolves the replay input: a local JSONL file, a single
// object in the archive bucket, or every object under a key prefix ending
// in "/". The recorder's millisecond key names make the bucket's lexical
// listing order chronological.
func (a *App) tapeSources(ctx context.Context, deps *Dependencies) ([]tapeSource, error) {
	if file := a.cfg.Replay.File; file != "" {
		return []tapeSource{{name: file, open: func(context.Context) (io.ReadCloser, error) {
			f, err := os.Open(file)
			if err != nil {
				return nil, fmt.Errorf("open tape: %w", err)
			}
			return f, nil
		}}}, nil
	}

	key := a.cfg.Replay.S3Key
	if strings.HasSuffix(key, "/") {
		infos, err := deps.BlobReader.List(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list tapes %s: %w", key, err)
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("no tapes under %s", key)
		}
		sources := make([]tapeSource, len(infos))
		for i, info := range infos {
			sources[i] = a.remoteTape(deps, info.Path)
		}
		return sources, nil
	}

	ok, err := deps.BlobReader.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check tape %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("tape %s: %w", key, domain.ErrNotFound)
	}
	return []tapeSource{a.remoteTape(deps, key)}, nil
}

func (a *App) remoteTape(deps *Dependencies, path string) tapeSource {
	return tapeSource{name: path, open: func(ctx context.Context) (io.ReadCloser, error) {
		rc, err := deps.BlobReader.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("fetch tape %s: %w", path, err)
		}
		return rc, nil
	}}
}

// replayGenerator builds the generator named by the replay config, taking
// strategy parameters from the matching bot declaration when one exists.
// The evaluation window follows the bot's cadence profile, or the
// generator's own warm-up length without one.
func (a *App) replayGenerator(interval domain.Interval) (strategy.Generator, int, error) {
	botCfg := config.BotConfig{
		ID:       "replay",
		Symbol:   a.cfg.Replay.Symbol,
		Strategy: a.cfg.Replay.Strategy,
	}
	for _, b := range a.cfg.Engine.Bots {
		if b.Strategy == a.cfg.Replay.Strategy && b.Symbol == a.cfg.Replay.Symbol {
			botCfg = b
			break
		}
	}

	gen, err := strategy.New(a.cfg.Replay.Strategy, interval, botCfg)
	if err != nil {
		return nil, 0, err
	}

	window := gen.Requirements().MinCandles
	if cad, ok := a.cfg.Engine.Cadence[botCfg.Cadence]; ok && cad.Window > window {
		window = cad.Window
	}
	return gen, window, nil
}

// replayLine renders one signal without run-dependent fields (IDs, wall
// clock), keyed by the candle that produced it.
func replayLine(c domain.Candle, sig domain.Signal) string {
	target := 0.0
	if len(sig.TakeProfits) > 0 {
		target = sig.TakeProfits[0].Price
	}
	return fmt.Sprintf("%s %s %s entry=%.4f stop=%.4f target=%.4f reason=%q",
		c.OpenTime.UTC().Format(time.RFC3339),
		sig.Strategy,
		sig.Direction,
		sig.Entry,
		sig.StopLoss,
		target,
		sig.Reason,
	)
}
