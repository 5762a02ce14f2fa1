package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromRedis(rdb, "test:"), mr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "cycle", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !mr.Exists("test:lock:cycle") {
		t.Fatal("lock key not namespaced")
	}
	if _, err := lm.Acquire(ctx, "cycle", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrLockHeld", err)
	}

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "cycle", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after unlock error = %v", err)
	}
	defer again()
}

func TestLockManagerStaleUnlock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "cycle", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := lm.Acquire(ctx, "cycle", time.Minute); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
	stale()
	if !mr.Exists("test:lock:cycle") {
		t.Fatal("stale unlock released the new holder's lock")
	}
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "alert", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !ok {
			t.Fatalf("hit %d denied", i+1)
		}
	}
	ok, err := rl.Allow(ctx, "alert", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if ok {
		t.Fatal("third hit allowed inside the window")
	}

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "alert", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !ok {
		t.Fatal("hit denied after the window slid")
	}
}

func TestStatusCache(t *testing.T) {
	c, _ := newTestClient(t)
	sc := NewStatusCache(c, discardLogger())
	ctx := context.Background()

	if _, err := sc.LastReport(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LastReport() on empty cache error = %v, want ErrNotFound", err)
	}

	sc.Report(ctx, domain.CycleReport{ID: "skip", Outcome: domain.OutcomeSkipped})
	if _, err := sc.LastReport(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("skipped cycle was stored")
	}

	want := domain.CycleReport{
		ID:      "c1",
		Outcome: domain.OutcomeSuccess,
		Markets: 2,
		Planned: map[domain.MsgKind]int{domain.MsgTriggerTpSl: 3},
		Batches: []domain.BatchResult{{Category: domain.CategoryTpSl, Instructions: 3, TxHash: "ABC"}},
	}
	sc.Report(ctx, want)

	got, err := sc.LastReport(ctx)
	if err != nil {
		t.Fatalf("LastReport() error = %v", err)
	}
	if got.ID != "c1" || got.Markets != 2 || got.Submitted() != 3 {
		t.Errorf("LastReport() = %+v", got)
	}
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c, discardLogger())
	ctx := context.Background()

	sb.Report(ctx, domain.CycleReport{ID: "skip", Outcome: domain.OutcomeSkipped})
	sb.Report(ctx, domain.CycleReport{ID: "c1", Outcome: domain.OutcomeNoOp})
	sb.Report(ctx, domain.CycleReport{ID: "c2", Outcome: domain.OutcomeSuccess})

	msgs, err := sb.StreamRead(ctx, StreamCycles, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("StreamRead() returned %d messages, want 2", len(msgs))
	}
}
