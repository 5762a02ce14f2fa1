package keeper

import (
	"context"
	"errors"
	"sort"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/contracts"
	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// table builds positions on two markets and both sides, several per tick.
func table() []domain.Position {
	var out []domain.Position
	id := uint64(1)
	for _, vamm := range []string{"orai1vammA", "orai1vammB"} {
		for _, side := range domain.Sides {
			for tick := int64(1); tick <= 6; tick++ {
				for n := int64(0); n < tick%4+1; n++ {
					out = append(out, position(id, vamm, side, tick*1_000_000))
					id++
				}
			}
		}
	}
	return out
}

func ids(positions []domain.Position) []uint64 {
	out := make([]uint64, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.PositionID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestQueryOpenPositionsCompleteForAnyPageSize(t *testing.T) {
	all := table()
	for pageSize := uint32(1); pageSize <= 8; pageSize++ {
		for _, side := range domain.Sides {
			eng := newFakeEngine(all...)
			r := NewReader(eng, pageSize, nil)

			got, err := r.QueryOpenPositions(context.Background(), "orai1vammA", side)
			if err != nil {
				t.Fatalf("page=%d side=%s: %v", pageSize, side, err)
			}
			var want []domain.Position
			for _, p := range all {
				if p.Vamm == "orai1vammA" && p.Side == side {
					want = append(want, p)
				}
			}
			g, w := ids(got), ids(want)
			if len(g) != len(w) {
				t.Fatalf("page=%d side=%s: got %d positions want %d", pageSize, side, len(g), len(w))
			}
			for i := range g {
				if g[i] != w[i] {
					t.Fatalf("page=%d side=%s: ids %v want %v", pageSize, side, g, w)
				}
			}
		}
	}
}

func TestQueryAllTicksOrderAndCursor(t *testing.T) {
	eng := newFakeEngine(table()...)
	r := NewReader(eng, 4, nil)

	ticks, err := r.QueryAllTicks(context.Background(), "orai1vammA", domain.SideBuy)
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 6 {
		t.Fatalf("got %d ticks want 6", len(ticks))
	}
	for i := 1; i < len(ticks); i++ {
		if !ticks[i-1].EntryPrice.GT(ticks[i].EntryPrice) {
			t.Fatalf("buy ticks not descending: %s then %s", ticks[i-1].EntryPrice, ticks[i].EntryPrice)
		}
	}

	// Pages: 4 ticks, 2 ticks, then an empty page ends the walk.
	if len(eng.tickQueries) != 3 {
		t.Fatalf("tick queries=%d want 3", len(eng.tickQueries))
	}
	first, second := eng.tickQueries[0], eng.tickQueries[1]
	if first.StartAfter != nil {
		t.Fatalf("first page has cursor %s", first.StartAfter)
	}
	if first.OrderBy != contracts.OrderDescending || first.Limit != 4 {
		t.Fatalf("first query=%+v", first)
	}
	if second.StartAfter == nil || !second.StartAfter.Equal(ticks[3].EntryPrice) {
		t.Fatalf("second cursor=%v want %s", second.StartAfter, ticks[3].EntryPrice)
	}

	sell, err := r.QueryAllTicks(context.Background(), "orai1vammA", domain.SideSell)
	if err != nil {
		t.Fatal(err)
	}
	if !sell[0].EntryPrice.LT(sell[1].EntryPrice) {
		t.Fatal("sell ticks not ascending")
	}
}

func TestQueryPositionsByPriceScopesToTick(t *testing.T) {
	eng := newFakeEngine(table()...)
	r := NewReader(eng, 1, nil)

	got, err := r.QueryPositionsByPrice(context.Background(), "orai1vammA", domain.SideBuy, amt(3_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d positions want 4", len(got))
	}
	for _, p := range got {
		if !p.EntryPrice.Equal(amt(3_000_000)) {
			t.Fatalf("position %d has entry %s", p.PositionID, p.EntryPrice)
		}
	}
	for i, q := range eng.posQueries {
		if q.Filter.Price == nil || !q.Filter.Price.Equal(amt(3_000_000)) {
			t.Fatalf("query %d filter=%+v", i, q.Filter)
		}
	}
}

func TestQueryPositionsKeepsTargets(t *testing.T) {
	p := position(7, "orai1vammA", domain.SideBuy, 5_000_000)
	p.TakeProfit = amt(20_000_000_000)
	p.StopLoss = amtPtr(14_000_000_000)
	r := NewReader(newFakeEngine(p), 0, nil)

	got, err := r.QueryPositionsByPrice(context.Background(), "orai1vammA", domain.SideBuy, p.EntryPrice)
	if err != nil || len(got) != 1 {
		t.Fatalf("got (%v, %v)", got, err)
	}
	if !got[0].TakeProfit.Equal(p.TakeProfit) || !got[0].StopLossOrZero().Equal(*p.StopLoss) {
		t.Fatalf("targets changed: %+v", got[0])
	}
}

func TestQueryAllTicksPropagatesError(t *testing.T) {
	eng := newFakeEngine(table()...)
	eng.failTicks["orai1vammA"] = errRPC
	r := NewReader(eng, 0, nil)

	ticks, err := r.QueryAllTicks(context.Background(), "orai1vammA", domain.SideBuy)
	if !errors.Is(err, errRPC) {
		t.Fatalf("err=%v want rpc error", err)
	}
	if ticks != nil {
		t.Fatalf("partial result returned: %v", ticks)
	}
}

// stuckEngine returns the same page forever.
type stuckEngine struct{ *fakeEngine }

func (s stuckEngine) Ticks(context.Context, contracts.TicksQuery) ([]domain.Tick, error) {
	return []domain.Tick{{EntryPrice: sdkmath.NewInt(5), TotalPositions: 1}}, nil
}

func TestQueryAllTicksStopsOnStuckCursor(t *testing.T) {
	r := NewReader(stuckEngine{newFakeEngine()}, 0, nil)
	if _, err := r.QueryAllTicks(context.Background(), "orai1vammA", domain.SideBuy); err == nil {
		t.Fatal("expected error for a cursor that does not advance")
	}
}
