package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perparb/internal/cache/redis"
	"github.com/alanyoungcy/perparb/internal/executor"
	"github.com/alanyoungcy/perparb/internal/notify"
	"github.com/alanyoungcy/perparb/internal/server"
	"github.com/alanyoungcy/perparb/internal/server/handler"
	"github.com/alanyoungcy/perparb/internal/server/middleware"
	"github.com/alanyoungcy/perparb/internal/server/ws"
	"github.com/alanyoungcy/perparb/internal/strategy"
)

// engine is the assembled trading core.
type engine struct {
	venues      *venuePair
	coordinator *executor.Coordinator
	registry    *strategy.Registry
}

// buildEngine creates the venues, the execution coordinator and one
// scheduler per strategy enabled by the mode.
func (a *App) buildEngine(deps *Dependencies) (*engine, error) {
	venues, err := buildVenues(a.cfg, deps, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build venues: %w", err)
	}

	coord, err := executor.New(venues.a, venues.b, venues.submitter, executor.Options{
		Mode:           a.cfg.Execution.Mode,
		SubmitTimeout:  a.cfg.Execution.SubmitTimeout(),
		ConfirmTimeout: a.cfg.Execution.ConfirmTimeout(),
		ConfirmPoll:    a.cfg.Execution.ConfirmPoll(),
		DryRun:         a.cfg.DryRun,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build executor: %w", err)
	}
	if deps.ExecutionStore != nil {
		coord.SetRecording(deps.ExecutionStore, deps.AuditStore)
	}
	coord.SetAlerter(deps.Notifier)

	pair := strategy.Venues{A: venues.a, B: venues.b}
	sc := a.cfg.Strategy
	base := strategy.Config{
		Instrument:         sc.Instrument,
		EntryThresholdPct:  decimal.NewFromFloat(sc.EntryThresholdPct),
		PositionSizeUSD:    decimal.NewFromFloat(sc.PositionSizeUSD),
		MaxPositionSizeUSD: decimal.NewFromFloat(sc.MaxPositionSizeUSD),
		QuoteTimeout:       sc.QuoteTimeout(),
	}

	reg := strategy.NewRegistry(a.logger)

	if a.cfg.RunsPriceArb() {
		pa := strategy.NewPriceArb(base, pair, coord, a.logger)
		if deps.QuoteCache != nil {
			pa.SetQuoteCache(deps.QuoteCache)
		}
		reg.Register(a.newScheduler(pa, sc.PollInterval(), deps))
	}

	if a.cfg.RunsFunding() {
		fc := a.cfg.Funding
		fa, err := strategy.NewFundingArb(strategy.FundingConfig{
			Config:             base,
			Window:             fc.Window(),
			SettlementInterval: fc.SettlementInterval.Duration,
			FundingOnB:         strings.EqualFold(fc.FundingVenue, "b"),
		}, pair, coord, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: build funding strategy: %w", err)
		}
		if deps.QuoteCache != nil {
			fa.SetQuoteCache(deps.QuoteCache)
		}
		reg.Register(a.newScheduler(fa, fc.PollInterval(), deps))
	}

	a.logger.Info("engine assembled",
		slog.String("execution_mode", string(coord.Mode())),
		slog.Any("strategies", reg.List()),
		slog.Bool("dry_run", a.cfg.DryRun),
	)
	return &engine{venues: venues, coordinator: coord, registry: reg}, nil
}

func (a *App) newScheduler(s strategy.Strategy, interval time.Duration, deps *Dependencies) *strategy.Scheduler {
	opts := strategy.SchedulerOptions{Interval: interval}
	if a.cfg.Strategy.CycleLock && deps.LockManager != nil {
		opts.Lock = deps.LockManager
		opts.LockTTL = a.cfg.Strategy.CycleLockTTL.Duration
	}
	sched := strategy.NewScheduler(s, opts, a.logger)
	if deps.SignalBus != nil {
		sched.SetReporter(strategy.NewBusReporter(deps.SignalBus, strategy.CycleStream, a.logger))
	}
	return sched
}

// runEngine starts the strategies, the quote feeds, the archiver and the
// status server, and blocks until ctx is cancelled or one of them fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, eng *engine) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.registry.RunAll(ctx)
	})

	for _, run := range eng.venues.feeds {
		g.Go(func() error {
			return run(ctx)
		})
	}

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return deps.Archiver.Run(ctx, retention, a.cfg.Archive.Interval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		srv, hub := a.buildServer(deps, eng)
		if hub != nil {
			g.Go(func() error {
				return hub.Run(ctx)
			})
		}
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) buildServer(deps *Dependencies, eng *engine) (*server.Server, *ws.Hub) {
	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.DryRun, eng.registry, eng.coordinator),
	}
	if deps.ExecutionStore != nil {
		h.Executions = handler.NewExecutionHandler(deps.ExecutionStore, deps.AuditStore, a.logger)
	}
	if deps.SignalBus != nil {
		h.Hub = ws.NewHub(deps.SignalBus, []string{strategy.CycleChannel, notify.AlertChannel}, a.logger)
	}

	var limiter middleware.Limiter
	if n := a.cfg.Server.RateLimitPerMinute; n > 0 && deps.Redis != nil {
		limiter = redis.NewRateLimiter(deps.Redis, n, time.Minute)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.APIKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, h, limiter, a.logger)
	return srv, h.Hub
}
