package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

type capturedReports struct {
	mu      sync.Mutex
	reports []domain.CycleReport
}

func (c *capturedReports) Report(_ context.Context, r domain.CycleReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func newTestScheduler(exec *fakeExecutor, cfg SchedulerConfig, locks domain.LockManager) (*Scheduler, *capturedReports) {
	eng, vamm := twoMarkets()
	o := newTestOrchestrator(eng, vamm, nil, "", vammA, vammB)
	s := NewScheduler(o, NewSubmitter(exec, BatchSplit, nil, discardLogger()), exec, locks, cfg, nil, discardLogger())
	rec := &capturedReports{}
	s.AddReporter(rec)
	return s, rec
}

func TestRunCycleSuccess(t *testing.T) {
	exec := &fakeExecutor{}
	s, rec := newTestScheduler(exec, SchedulerConfig{}, nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome != domain.OutcomeSuccess || report.Markets != 2 {
		t.Fatalf("report=%+v", report)
	}
	if report.Submitted() != 8 || len(report.Batches) != 3 {
		t.Fatalf("submitted=%d batches=%d", report.Submitted(), len(report.Batches))
	}
	if report.Planned[domain.MsgLiquidate] != 2 {
		t.Fatalf("planned=%v", report.Planned)
	}
	if s.State() != domain.CycleIdle {
		t.Fatalf("state=%s after cycle", s.State())
	}
	if last, ok := s.LastReport(); !ok || last.ID != report.ID {
		t.Fatal("last report not kept")
	}
	if len(rec.reports) != 1 {
		t.Fatalf("reporters saw %d reports", len(rec.reports))
	}
}

func TestRunCyclePartialFailure(t *testing.T) {
	exec := &fakeExecutor{fail: func(instrs []domain.ExecuteInstruction) error {
		if instrs[0].Kind() == domain.MsgPayFunding {
			return domain.ErrTxFailed
		}
		return nil
	}}
	s, _ := newTestScheduler(exec, SchedulerConfig{}, nil)

	report, err := s.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected batch error")
	}
	if report.Outcome != domain.OutcomePartialFailure || report.State != domain.CycleSubmitting {
		t.Fatalf("report=%+v", report)
	}
	if report.Submitted() != 6 {
		t.Fatalf("submitted=%d want 6", report.Submitted())
	}
}

func TestRunCycleInsufficientBalance(t *testing.T) {
	exec := &fakeExecutor{balance: amt(DefaultMinBalance)}
	s, rec := newTestScheduler(exec, SchedulerConfig{}, nil)

	report, err := s.RunCycle(context.Background())
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err=%v", err)
	}
	if report.Outcome != domain.OutcomeAborted || len(exec.batches) != 0 {
		t.Fatalf("report=%+v batches=%d", report, len(exec.batches))
	}
	if len(rec.reports) != 1 || rec.reports[0].Error == "" {
		t.Fatal("aborted cycle not reported")
	}

	// The loop stops on the fatal error.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx, nil); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("Run err=%v", err)
	}
}

func TestRunCycleDryRun(t *testing.T) {
	exec := &fakeExecutor{balance: amt(0)}
	s, _ := newTestScheduler(exec, SchedulerConfig{DryRun: true}, nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.DryRun || report.Outcome != domain.OutcomeSuccess || len(exec.batches) != 0 {
		t.Fatalf("report=%+v batches=%d", report, len(exec.batches))
	}
}

func TestRunCycleSkipsWhenLocked(t *testing.T) {
	locks := NewLocalLocks()
	unlock, err := locks.Acquire(context.Background(), DefaultLockKey, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	exec := &fakeExecutor{}
	s, rec := newTestScheduler(exec, SchedulerConfig{}, locks)

	report, err := s.RunCycle(context.Background())
	if err != nil || report.Outcome != domain.OutcomeSkipped {
		t.Fatalf("report=%+v err=%v", report, err)
	}
	if len(exec.batches) != 0 || len(rec.reports) != 0 {
		t.Fatal("skipped cycle did work")
	}

	unlock()
	if report, _ := s.RunCycle(context.Background()); report.Outcome != domain.OutcomeSuccess {
		t.Fatalf("after unlock outcome=%s", report.Outcome)
	}
}

func TestRunTriggersOnBlocks(t *testing.T) {
	exec := &fakeExecutor{}
	s, rec := newTestScheduler(exec, SchedulerConfig{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	blocks := make(chan int64, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, blocks) }()

	blocks <- 101
	deadline := time.After(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.reports)
		rec.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d cycles ran", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v", err)
	}
}

func TestLocalLocksExpire(t *testing.T) {
	l := NewLocalLocks()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	unlock, err := l.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(context.Background(), "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err=%v want ErrLockHeld", err)
	}
	now = now.Add(2 * time.Second)
	unlock2, err := l.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatalf("expired lock not reclaimed: %v", err)
	}
	// The stale holder must not release the new holder's lock.
	unlock()
	if _, err := l.Acquire(context.Background(), "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatal("stale unlock released a newer lock")
	}
	unlock2()
}
