package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/keeper"
	"github.com/alanyoungcy/perpkeeper/internal/oracle"
	"github.com/alanyoungcy/perpkeeper/internal/platform/cosmwasm"
	"github.com/alanyoungcy/perpkeeper/internal/pricefeed"
	"github.com/alanyoungcy/perpkeeper/internal/retry"
	"github.com/alanyoungcy/perpkeeper/internal/server"
	"github.com/alanyoungcy/perpkeeper/internal/server/handler"
)

// KeeperMode runs the trigger cycle against the margin engine.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	return a.run(ctx, deps, true, false)
}

// MonitorMode runs the trigger cycle without submitting anything.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.run(ctx, deps, true, false)
}

// PricefeedMode runs the oracle price relay only.
func (a *App) PricefeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pricefeed mode")
	return a.run(ctx, deps, false, true)
}

// FullMode runs the keeper and the price relay in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, true, true)
}

func (a *App) run(ctx context.Context, deps *Dependencies, runKeeper, runRelay bool) error {
	g, ctx := errgroup.WithContext(ctx)

	var sched *keeper.Scheduler
	if runKeeper {
		var err error
		sched, err = a.buildScheduler(deps)
		if err != nil {
			return err
		}
		// A nil channel never fires, leaving the interval ticker alone.
		var blocks chan int64
		if a.cfg.Keeper.BlockTrigger {
			blocks = make(chan int64, 1)
			sub := cosmwasm.NewBlockSubscriber(a.cfg.Chain.RPCURL, a.base)
			g.Go(func() error {
				return sub.Run(ctx, blocks)
			})
		}
		g.Go(func() error {
			return sched.Run(ctx, blocks)
		})
	}

	if runRelay {
		relay := a.buildRelay(deps)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	if deps.Archiver != nil && deps.Executions != nil && a.cfg.S3.RetentionDays > 0 {
		g.Go(func() error {
			return a.runArchiveSweep(ctx, deps)
		})
	}

	if a.cfg.Server.Enabled {
		srv := a.buildServer(deps, sched)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	return g.Wait()
}

// buildScheduler assembles the keeper pipeline: reader, handler,
// orchestrator, submitter and the cycle scheduler with its report sinks.
func (a *App) buildScheduler(deps *Dependencies) (*keeper.Scheduler, error) {
	kc := a.cfg.Keeper
	minBalance, err := a.cfg.MinBalanceInt()
	if err != nil {
		return nil, err
	}
	km := keeperMetrics(deps)

	reader := keeper.NewReader(deps.Engine, kc.PageSize, keeper.TickOrder{
		domain.SideBuy:  kc.TickOrderBuy,
		domain.SideSell: kc.TickOrderSell,
	})
	h := keeper.NewEngineHandler(deps.Engine, deps.Vamm, reader, keeper.HandlerConfig{
		ClosePrice:   keeper.ClosePriceMode(kc.ClosePrice),
		FundingGrace: kc.FundingGrace.Duration,
		Whitelist:    kc.Whitelist,
	}, a.base)
	submitter := keeper.NewSubmitter(deps.Wallet, keeper.BatchMode(kc.BatchMode), km, a.base)
	orch := keeper.NewOrchestrator(h, deps.Insurance, submitter, keeper.OrchestratorConfig{
		MarketLimit:    kc.MarketLimit,
		MaxConcurrency: kc.MaxConcurrency,
	}, km, a.base)

	sched := keeper.NewScheduler(orch, submitter, deps.Wallet, deps.LockManager, keeper.SchedulerConfig{
		Interval:   kc.Interval.Duration,
		MinBalance: minBalance,
		DryRun:     kc.DryRun || !a.cfg.Submits(),
		LockKey:    kc.LockKey,
		LockTTL:    kc.LockTTL.Duration,
	}, km, a.base)

	sched.AddReporter(deps.Notifier)
	if deps.StatusCache != nil {
		sched.AddReporter(deps.StatusCache)
	}
	if deps.SignalBus != nil {
		sched.AddReporter(deps.SignalBus)
	}
	if deps.Recorder != nil {
		sched.AddReporter(deps.Recorder)
	}
	if deps.Archiver != nil {
		sched.AddReporter(deps.Archiver)
	}
	return sched, nil
}

// buildRelay assembles the oracle client and the price feed relay.
func (a *App) buildRelay(deps *Dependencies) *pricefeed.Relay {
	pc := a.cfg.Pricefeed
	policy := retry.DefaultPolicy()
	if pc.OracleAttempts > 0 {
		policy.MaxAttempts = pc.OracleAttempts
	}
	source := oracle.NewClient(oracle.Config{Timeout: pc.OracleTimeout.Duration, Retry: policy}, a.base)
	if deps.Metrics != nil {
		source.OnRetry(deps.Metrics.OracleRetry)
	}

	feeds := make([]pricefeed.Feed, 0, len(pc.Feeds))
	for _, f := range pc.Feeds {
		feeds = append(feeds, pricefeed.Feed{Key: f.Key, URL: f.URL})
	}
	relay := pricefeed.NewRelay(pricefeed.Config{
		Feeds:           feeds,
		Interval:        pc.Interval.Duration,
		TimestampLag:    pc.TimestampLag.Duration,
		MaxDeviationBps: pc.MaxDeviationBps,
		DryRun:          a.cfg.Keeper.DryRun || !a.cfg.Submits(),
	}, source, deps.Engine, deps.Pricefeed, deps.Wallet, a.base)

	relay.AddReporter(deps.Notifier)
	if deps.Metrics != nil {
		relay.AddReporter(deps.Metrics)
	}
	if deps.SignalBus != nil {
		relay.AddReporter(deps.SignalBus)
	}
	if deps.Recorder != nil {
		relay.AddReporter(deps.Recorder)
	}
	return relay
}

// buildServer creates the status server. sched is nil in pricefeed mode.
func (a *App) buildServer(deps *Dependencies, sched *keeper.Scheduler) *server.Server {
	var (
		cycles  handler.CycleSource
		shared  domain.StatusCache
		history *handler.HistoryHandler
		limiter domain.RateLimiter
	)
	if sched != nil {
		cycles = sched
	}
	if deps.StatusCache != nil {
		shared = deps.StatusCache
	}
	if deps.Executions != nil {
		history = handler.NewHistoryHandler(deps.Executions, deps.Cycles, a.base)
	}
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}

	sc := a.cfg.Server
	return server.NewServer(server.Config{
		Addr:        sc.Addr,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		RateLimit:   sc.RateLimit,
		RateWindow:  sc.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Pingers, a.base),
		Status:  handler.NewStatusHandler(a.cfg.Mode, cycles, shared, a.base),
		History: history,
	}, deps.Registry, limiter, a.base)
}

// runArchiveSweep moves executions past the retention window to S3 on every
// archive interval.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		before := time.Now().Add(-retention)
		if _, err := deps.Archiver.ArchiveExecutions(ctx, before); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "execution archive failed",
				slog.Time("before", before),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// keeperMetrics avoids handing the keeper a typed nil.
func keeperMetrics(deps *Dependencies) keeper.Metrics {
	if deps.Metrics == nil {
		return keeper.NopMetrics{}
	}
	return deps.Metrics
}
