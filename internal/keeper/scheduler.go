package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Defaults of the scheduling loop.
const (
	DefaultInterval   = 3 * time.Second
	DefaultLockKey    = "keeper:cycle"
	DefaultLockTTL    = 2 * time.Minute
	DefaultMinBalance = 1_000_000
)

// Wallet is the keeper account as seen by the balance guard.
type Wallet interface {
	Address() string
	Balance(ctx context.Context) (sdkmath.Int, error)
}

// Reporter receives every finished cycle report.
type Reporter interface {
	Report(ctx context.Context, report domain.CycleReport)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, report domain.CycleReport)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, report domain.CycleReport) { f(ctx, report) }

// SchedulerConfig configures the cycle loop.
type SchedulerConfig struct {
	Interval time.Duration
	// MinBalance is the fee denom balance the keeper must exceed to submit.
	MinBalance sdkmath.Int
	// DryRun evaluates and reports without submitting.
	DryRun  bool
	LockKey string
	LockTTL time.Duration
}

// Scheduler runs keeper cycles on an interval and on new blocks. Only one
// cycle runs at a time; the lock keeps replicas sharing a key from
// overlapping.
type Scheduler struct {
	orch      *Orchestrator
	submitter *Submitter
	wallet    Wallet
	locks     domain.LockManager
	cfg       SchedulerConfig
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	state     domain.CycleState
	last      *domain.CycleReport
	reporters []Reporter
}

// NewScheduler creates a Scheduler. A nil locks uses in-process locks.
func NewScheduler(orch *Orchestrator, submitter *Submitter, wallet Wallet, locks domain.LockManager, cfg SchedulerConfig, metrics Metrics, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MinBalance.IsNil() {
		cfg.MinBalance = sdkmath.NewInt(DefaultMinBalance)
	}
	if locks == nil {
		locks = NewLocalLocks()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Scheduler{
		orch:      orch,
		submitter: submitter,
		wallet:    wallet,
		locks:     locks,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "scheduler")),
		now:       time.Now,
		state:     domain.CycleIdle,
	}
}

// AddReporter registers a sink for cycle reports.
func (s *Scheduler) AddReporter(r Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporters = append(s.reporters, r)
}

// Address returns the keeper account address.
func (s *Scheduler) Address() string { return s.wallet.Address() }

// DryRun reports whether submissions are disabled.
func (s *Scheduler) DryRun() bool { return s.cfg.DryRun }

// State returns the current cycle state.
func (s *Scheduler) State() domain.CycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastReport returns the report of the last finished cycle.
func (s *Scheduler) LastReport() (domain.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return domain.CycleReport{}, false
	}
	return *s.last, true
}

func (s *Scheduler) setState(st domain.CycleState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes a cycle immediately, then on every interval tick and every
// height received on blocks (which may be nil). It returns when ctx is done
// or when a cycle hits a fatal error such as an insufficient balance.
func (s *Scheduler) Run(ctx context.Context, blocks <-chan int64) error {
	s.logger.InfoContext(ctx, "keeper started",
		slog.String("address", s.wallet.Address()),
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("dry_run", s.cfg.DryRun),
		slog.Bool("block_trigger", blocks != nil),
	)
	defer s.logger.Info("keeper stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && isFatal(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case h, ok := <-blocks:
			if !ok {
				blocks = nil
				continue
			}
			s.logger.DebugContext(ctx, "new block", slog.Int64("height", h))
		}
	}
}

func isFatal(err error) bool {
	return errors.Is(err, domain.ErrInsufficientBalance)
}

// RunCycle runs one full cycle and returns its report. A skipped cycle (lock
// held elsewhere) and a cycle with nothing to do both return a nil error. A
// rejected transaction yields a partial_failure report and the joined batch
// errors.
func (s *Scheduler) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	report := domain.CycleReport{
		ID:        uuid.New().String(),
		Address:   s.wallet.Address(),
		StartedAt: s.now().UTC(),
		State:     domain.CycleIdle,
		DryRun:    s.cfg.DryRun,
	}

	unlock, err := s.locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		s.logger.DebugContext(ctx, "cycle skipped, lock held", slog.String("key", s.cfg.LockKey))
		report.Outcome = domain.OutcomeSkipped
		report.FinishedAt = s.now().UTC()
		return report, nil
	}
	if err != nil {
		return s.finish(ctx, report, domain.OutcomeAborted, fmt.Errorf("keeper: acquire lock: %w", err))
	}
	defer unlock()

	if !s.cfg.DryRun {
		if err := s.checkBalance(ctx); err != nil {
			report.BalanceLow = errors.Is(err, domain.ErrInsufficientBalance)
			return s.finish(ctx, report, domain.OutcomeAborted, err)
		}
	}

	plan, err := s.orch.BuildPlan(ctx, func(st domain.CycleState) {
		s.setState(st)
		report.State = st
	})
	if err != nil {
		return s.finish(ctx, report, domain.OutcomeAborted, err)
	}
	report.Markets = len(plan.Markets)
	report.Planned = plan.Counts()
	report.Failures = plan.Failures

	if plan.Len() == 0 {
		return s.finish(ctx, report, domain.OutcomeNoOp, nil)
	}

	if s.cfg.DryRun {
		for _, in := range plan.Instructions() {
			s.logger.InfoContext(ctx, "dry run instruction",
				slog.String("kind", string(in.Kind())),
				slog.String("key", in.Key()),
			)
		}
		return s.finish(ctx, report, domain.OutcomeSuccess, nil)
	}

	s.setState(domain.CycleSubmitting)
	report.State = domain.CycleSubmitting
	results, err := s.submitter.Submit(ctx, plan)
	report.Batches = results
	if err != nil {
		return s.finish(ctx, report, domain.OutcomePartialFailure, err)
	}
	return s.finish(ctx, report, domain.OutcomeSuccess, nil)
}

func (s *Scheduler) checkBalance(ctx context.Context) error {
	bal, err := s.wallet.Balance(ctx)
	if err != nil {
		return fmt.Errorf("keeper: balance: %w", err)
	}
	if bal.LTE(s.cfg.MinBalance) {
		return fmt.Errorf("%w: balance %s of %s must be greater than %s",
			domain.ErrInsufficientBalance, bal, s.wallet.Address(), s.cfg.MinBalance)
	}
	return nil
}

func (s *Scheduler) finish(ctx context.Context, report domain.CycleReport, outcome domain.CycleOutcome, err error) (domain.CycleReport, error) {
	report.Outcome = outcome
	report.FinishedAt = s.now().UTC()
	if err != nil {
		report.Error = err.Error()
	}

	s.mu.Lock()
	s.state = domain.CycleIdle
	last := report
	s.last = &last
	reporters := append([]Reporter(nil), s.reporters...)
	s.mu.Unlock()

	s.metrics.CycleFinished(outcome, report.Duration())

	attrs := []any{
		slog.String("cycle_id", report.ID),
		slog.String("outcome", string(outcome)),
		slog.Int("markets", report.Markets),
		slog.Int("submitted", report.Submitted()),
		slog.Int("failed_tasks", len(report.Failures)),
		slog.Duration("took", report.Duration()),
	}
	switch {
	case err != nil && isFatal(err):
		s.logger.ErrorContext(ctx, "cycle aborted", append(attrs, slog.String("error", err.Error()))...)
	case err != nil:
		s.logger.WarnContext(ctx, "cycle finished with errors", append(attrs, slog.String("error", err.Error()))...)
	case outcome == domain.OutcomeNoOp:
		s.logger.DebugContext(ctx, "cycle finished", attrs...)
	default:
		s.logger.InfoContext(ctx, "cycle finished", attrs...)
	}

	for _, r := range reporters {
		r.Report(ctx, report)
	}
	return report, err
}
