package keeper

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Plan is the set of instructions produced by one evaluation of every
// market. Failed evaluation tasks are listed in Failures and contribute no
// instructions.
type Plan struct {
	Markets    []string
	TpSl       []domain.ExecuteInstruction
	Liquidate  []domain.ExecuteInstruction
	PayFunding []domain.ExecuteInstruction
	Failures   []domain.TaskFailure
}

// Instructions concatenates the plan in submission order: tp/sl, then
// liquidations, then funding.
func (p Plan) Instructions() []domain.ExecuteInstruction {
	out := make([]domain.ExecuteInstruction, 0, p.Len())
	out = append(out, p.TpSl...)
	out = append(out, p.Liquidate...)
	return append(out, p.PayFunding...)
}

// Len is the number of planned instructions.
func (p Plan) Len() int { return len(p.TpSl) + len(p.Liquidate) + len(p.PayFunding) }

// Counts tallies the planned instructions by message kind.
func (p Plan) Counts() map[domain.MsgKind]int {
	return map[domain.MsgKind]int{
		domain.MsgTriggerTpSl: len(p.TpSl),
		domain.MsgLiquidate:   len(p.Liquidate),
		domain.MsgPayFunding:  len(p.PayFunding),
	}
}

// StateFunc observes the cycle state transitions of an evaluation.
type StateFunc func(domain.CycleState)

// Orchestrator fans the engine handler out over every registered market.
type Orchestrator struct {
	handler        *EngineHandler
	markets        MarketLister
	marketLimit    uint32
	maxConcurrency int
	submitter      *Submitter
	metrics        Metrics
	logger         *slog.Logger
}

// OrchestratorConfig bounds the fan-out.
type OrchestratorConfig struct {
	// MarketLimit is passed to get_all_vamm; zero omits it.
	MarketLimit uint32
	// MaxConcurrency caps concurrent evaluation tasks; zero is unbounded.
	MaxConcurrency int
}

// NewOrchestrator creates an Orchestrator. submitter may be nil when the
// caller only builds plans.
func NewOrchestrator(handler *EngineHandler, markets MarketLister, submitter *Submitter, cfg OrchestratorConfig, metrics Metrics, logger *slog.Logger) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		handler:        handler,
		markets:        markets,
		marketLimit:    cfg.MarketLimit,
		maxConcurrency: cfg.MaxConcurrency,
		submitter:      submitter,
		metrics:        metrics,
		logger:         logger.With(slog.String("component", "orchestrator")),
	}
}

// evalTask is one independent evaluation of a market.
type evalTask struct {
	vamm string
	side domain.Side
	kind domain.TaskKind
	run  func(ctx context.Context) ([]domain.ExecuteInstruction, error)

	out []domain.ExecuteInstruction
	err error
}

// BuildPlan reads the engine config and market list, evaluates every market
// concurrently and returns the combined plan. It fails only when the config
// or the market list cannot be read; a failing market task is recorded in
// the plan and its siblings still contribute.
func (o *Orchestrator) BuildPlan(ctx context.Context, onState StateFunc) (Plan, error) {
	if onState == nil {
		onState = func(domain.CycleState) {}
	}

	// 1. Markets and engine config.
	onState(domain.CycleFetchingMarkets)
	cfg, err := o.handler.engine.Config(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("keeper: engine config: %w", err)
	}
	markets, err := o.markets.AllVamms(ctx, o.marketLimit)
	if err != nil {
		return Plan{}, fmt.Errorf("keeper: list markets: %w", err)
	}

	// 2. Five tasks per market, all settled before batching.
	onState(domain.CycleEvaluatingTriggers)
	tasks := make([]*evalTask, 0, len(markets)*5)
	for _, vamm := range markets {
		for _, side := range domain.Sides {
			tasks = append(tasks, &evalTask{vamm: vamm, side: side, kind: domain.TaskTpSl,
				run: func(ctx context.Context) ([]domain.ExecuteInstruction, error) {
					return o.handler.triggerTpSl(ctx, cfg, vamm, side)
				}})
		}
	}
	for _, vamm := range markets {
		for _, side := range domain.Sides {
			tasks = append(tasks, &evalTask{vamm: vamm, side: side, kind: domain.TaskLiquidate,
				run: func(ctx context.Context) ([]domain.ExecuteInstruction, error) {
					return o.handler.triggerLiquidate(ctx, cfg, vamm, side)
				}})
		}
	}
	for _, vamm := range markets {
		tasks = append(tasks, &evalTask{vamm: vamm, kind: domain.TaskFunding,
			run: func(ctx context.Context) ([]domain.ExecuteInstruction, error) {
				return o.handler.PayFunding(ctx, vamm)
			}})
	}

	var g errgroup.Group
	if o.maxConcurrency > 0 {
		g.SetLimit(o.maxConcurrency)
	}
	for _, t := range tasks {
		g.Go(func() error {
			t.out, t.err = t.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	// 3. Stable concatenation with failures dropped.
	onState(domain.CycleBatchingInstructions)
	plan := Plan{Markets: markets}
	seen := make(map[string]struct{})
	for _, t := range tasks {
		if t.err != nil {
			o.metrics.TaskFailed(t.kind)
			o.logger.WarnContext(ctx, "evaluation task failed",
				slog.String("vamm", t.vamm),
				slog.String("side", string(t.side)),
				slog.String("task", string(t.kind)),
				slog.String("error", t.err.Error()),
			)
			plan.Failures = append(plan.Failures, domain.TaskFailure{
				Vamm:  t.vamm,
				Side:  t.side,
				Task:  t.kind,
				Error: t.err.Error(),
			})
			continue
		}
		for _, in := range t.out {
			key := in.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			switch in.Kind() {
			case domain.MsgTriggerTpSl:
				plan.TpSl = append(plan.TpSl, in)
			case domain.MsgLiquidate:
				plan.Liquidate = append(plan.Liquidate, in)
			case domain.MsgPayFunding:
				plan.PayFunding = append(plan.PayFunding, in)
			}
		}
	}

	for kind, n := range plan.Counts() {
		o.metrics.InstructionsPlanned(kind, n)
	}
	o.logger.InfoContext(ctx, "evaluation complete",
		slog.Int("markets", len(markets)),
		slog.Int("tp_sl", len(plan.TpSl)),
		slog.Int("liquidate", len(plan.Liquidate)),
		slog.Int("pay_funding", len(plan.PayFunding)),
		slog.Int("failed_tasks", len(plan.Failures)),
	)
	return plan, nil
}

// ExecuteEngine builds a plan and submits it. It returns
// domain.ErrNoInstructions when nothing is due, and the joined batch errors
// when any submitted transaction failed.
func (o *Orchestrator) ExecuteEngine(ctx context.Context) (Plan, []domain.BatchResult, error) {
	plan, err := o.BuildPlan(ctx, nil)
	if err != nil {
		return plan, nil, err
	}
	if plan.Len() == 0 {
		return plan, nil, domain.ErrNoInstructions
	}
	if o.submitter == nil {
		return plan, nil, fmt.Errorf("keeper: no submitter configured")
	}
	results, err := o.submitter.Submit(ctx, plan)
	return plan, results, err
}
