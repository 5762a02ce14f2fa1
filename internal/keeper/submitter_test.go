package keeper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

func testPlan() Plan {
	return Plan{
		TpSl: []domain.ExecuteInstruction{domain.NewTriggerTpSl(testEngine, vammA, 1)},
		Liquidate: []domain.ExecuteInstruction{
			domain.NewLiquidate(testEngine, vammA, 3),
			domain.NewLiquidate(testEngine, vammA, 4),
			domain.NewLiquidate(testEngine, vammB, 5),
		},
		PayFunding: []domain.ExecuteInstruction{domain.NewPayFunding(testEngine, vammA)},
	}
}

func liquidates(instrs []domain.ExecuteInstruction, id uint64) bool {
	for _, in := range instrs {
		if m, ok := in.Msg.(domain.EngineMsg); ok && m.Liquidate != nil && m.Liquidate.PositionID == id {
			return true
		}
	}
	return false
}

func TestSubmitSplitBatches(t *testing.T) {
	exec := &fakeExecutor{}
	results, err := NewSubmitter(exec, BatchSplit, nil, discardLogger()).Submit(context.Background(), testPlan())
	if err != nil {
		t.Fatal(err)
	}
	wantCats := []domain.Category{domain.CategoryTpSl, domain.CategoryLiquidate, domain.CategoryPayFunding}
	if len(results) != len(wantCats) {
		t.Fatalf("results=%+v", results)
	}
	for i, c := range wantCats {
		if results[i].Category != c || !results[i].Succeeded() {
			t.Fatalf("result %d=%+v", i, results[i])
		}
	}
	if got := results[1].Positions; len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("liquidate positions=%v", got)
	}
}

func TestSubmitRetriesLiquidationsIndividually(t *testing.T) {
	stale := fmt.Errorf("%w: position 4 not found", domain.ErrTxFailed)
	exec := &fakeExecutor{fail: func(instrs []domain.ExecuteInstruction) error {
		if liquidates(instrs, 4) {
			return stale
		}
		return nil
	}}

	results, err := NewSubmitter(exec, BatchSplit, nil, discardLogger()).Submit(context.Background(), testPlan())
	if err == nil {
		t.Fatal("expected the stale liquidation to surface")
	}
	// tp/sl, failed liquidate batch, three single liquidations, funding.
	if len(exec.batches) != 6 {
		t.Fatalf("batches=%d want 6", len(exec.batches))
	}
	if len(results) != 5 {
		t.Fatalf("results=%+v", results)
	}
	var landed, failed int
	for _, r := range results[1:4] {
		if !r.Fallback || r.Instructions != 1 {
			t.Fatalf("fallback result=%+v", r)
		}
		if r.Succeeded() {
			landed++
		} else {
			failed++
			if r.Positions[0] != 4 {
				t.Fatalf("wrong liquidation failed: %+v", r)
			}
		}
	}
	if landed != 2 || failed != 1 {
		t.Fatalf("landed=%d failed=%d", landed, failed)
	}
	if !results[4].Succeeded() || results[4].Category != domain.CategoryPayFunding {
		t.Fatalf("funding blocked by liquidation failure: %+v", results[4])
	}
}

func TestSubmitIsolatesCategories(t *testing.T) {
	exec := &fakeExecutor{fail: func(instrs []domain.ExecuteInstruction) error {
		if instrs[0].Kind() == domain.MsgTriggerTpSl {
			return domain.ErrTxFailed
		}
		return nil
	}}
	results, err := NewSubmitter(exec, "", nil, discardLogger()).Submit(context.Background(), testPlan())
	if err == nil {
		t.Fatal("expected tp/sl failure")
	}
	if results[0].Succeeded() || !results[1].Succeeded() || !results[2].Succeeded() {
		t.Fatalf("results=%+v", results)
	}
}

func TestSubmitSingleNoFallback(t *testing.T) {
	exec := &fakeExecutor{fail: func([]domain.ExecuteInstruction) error { return domain.ErrTxFailed }}
	results, err := NewSubmitter(exec, BatchSingle, nil, discardLogger()).Submit(context.Background(), testPlan())
	if err == nil || len(results) != 1 || len(exec.batches) != 1 {
		t.Fatalf("results=%+v err=%v batches=%d", results, err, len(exec.batches))
	}
	if results[0].Instructions != 5 {
		t.Fatalf("combined batch has %d instructions", results[0].Instructions)
	}
}

func TestSubmitEmptyPlan(t *testing.T) {
	_, err := NewSubmitter(&fakeExecutor{}, BatchSplit, nil, discardLogger()).Submit(context.Background(), Plan{})
	if !errors.Is(err, domain.ErrNoInstructions) {
		t.Fatalf("err=%v", err)
	}
}
