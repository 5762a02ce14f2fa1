package keeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/contracts"
	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

const testEngine = "orai1engine"

var errRPC = errors.New("rpc: deadline exceeded")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func amt(v int64) sdkmath.Int { return sdkmath.NewInt(v) }

func amtPtr(v int64) *sdkmath.Int {
	x := sdkmath.NewInt(v)
	return &x
}

// fakeEngine serves ticks and positions from an in-memory position table
// with the paging semantics of the margin engine.
type fakeEngine struct {
	mu          sync.Mutex
	cfg         domain.EngineConfig
	cfgErr      error
	positions   []domain.Position
	ratios      map[uint64]sdkmath.Int
	oracle      map[uint64]sdkmath.Int
	failTicks   map[string]error
	tickQueries []contracts.TicksQuery
	posQueries  []contracts.PositionsQuery
	ratioCalls  map[uint64]int
}

func newFakeEngine(positions ...domain.Position) *fakeEngine {
	return &fakeEngine{
		cfg: domain.EngineConfig{
			Decimals:               amt(1_000_000_000),
			TpSlSpread:             amt(50_000_000),
			MaintenanceMarginRatio: amt(50_000_000),
		},
		positions:  positions,
		ratios:     map[uint64]sdkmath.Int{},
		oracle:     map[uint64]sdkmath.Int{},
		failTicks:  map[string]error{},
		ratioCalls: map[uint64]int{},
	}
}

func (e *fakeEngine) Address() string { return testEngine }

func (e *fakeEngine) Config(context.Context) (domain.EngineConfig, error) {
	return e.cfg, e.cfgErr
}

func (e *fakeEngine) Ticks(_ context.Context, req contracts.TicksQuery) ([]domain.Tick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickQueries = append(e.tickQueries, req)
	if err := e.failTicks[req.Vamm]; err != nil {
		return nil, err
	}

	counts := map[string]uint64{}
	prices := map[string]sdkmath.Int{}
	for _, p := range e.positions {
		if p.Vamm != req.Vamm || p.Side != req.Side {
			continue
		}
		k := p.EntryPrice.String()
		counts[k]++
		prices[k] = p.EntryPrice
	}
	ticks := make([]domain.Tick, 0, len(prices))
	for k, price := range prices {
		ticks = append(ticks, domain.Tick{EntryPrice: price, TotalPositions: counts[k]})
	}
	desc := req.OrderBy == contracts.OrderDescending
	sort.Slice(ticks, func(i, j int) bool {
		if desc {
			return ticks[i].EntryPrice.GT(ticks[j].EntryPrice)
		}
		return ticks[i].EntryPrice.LT(ticks[j].EntryPrice)
	})

	var out []domain.Tick
	for _, t := range ticks {
		if req.StartAfter != nil {
			if desc && t.EntryPrice.GTE(*req.StartAfter) {
				continue
			}
			if !desc && t.EntryPrice.LTE(*req.StartAfter) {
				continue
			}
		}
		if uint32(len(out)) == req.Limit {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func (e *fakeEngine) Positions(_ context.Context, req contracts.PositionsQuery) ([]domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posQueries = append(e.posQueries, req)

	var matched []domain.Position
	for _, p := range e.positions {
		if p.Vamm != req.Vamm || p.Side != req.Side {
			continue
		}
		if req.Filter.Price != nil && !p.EntryPrice.Equal(*req.Filter.Price) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].PositionID < matched[j].PositionID })

	var out []domain.Position
	for _, p := range matched {
		if req.StartAfter != nil && p.PositionID <= *req.StartAfter {
			continue
		}
		if uint32(len(out)) == req.Limit {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *fakeEngine) MarginRatio(_ context.Context, vamm string, id uint64) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ratioCalls[id]++
	r, ok := e.ratios[id]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("position %d: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (e *fakeEngine) MarginRatioByCalcOption(_ context.Context, vamm string, id uint64, opt domain.CalcOption) (sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if opt != domain.CalcOptionOracle {
		return sdkmath.Int{}, fmt.Errorf("unexpected calc option %s", opt)
	}
	r, ok := e.oracle[id]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("oracle ratio %d: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

// fakeVamm answers vAMM queries per market.
type fakeVamm struct {
	mu         sync.Mutex
	spot       map[string]sdkmath.Int
	output     map[string]sdkmath.Int
	overSpread map[string]bool
	states     map[string]domain.VammState
	outputReqs []domain.Direction
}

func newFakeVamm() *fakeVamm {
	return &fakeVamm{
		spot:       map[string]sdkmath.Int{},
		output:     map[string]sdkmath.Int{},
		overSpread: map[string]bool{},
		states:     map[string]domain.VammState{},
	}
}

func (v *fakeVamm) State(_ context.Context, vamm string) (domain.VammState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.states[vamm]
	if !ok {
		return domain.VammState{}, fmt.Errorf("state %s: %w", vamm, domain.ErrNotFound)
	}
	return st, nil
}

func (v *fakeVamm) SpotPrice(_ context.Context, vamm string) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.spot[vamm]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("spot %s: %w", vamm, domain.ErrNotFound)
	}
	return p, nil
}

func (v *fakeVamm) OutputPrice(_ context.Context, vamm string, _ sdkmath.Int, dir domain.Direction) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.outputReqs = append(v.outputReqs, dir)
	p, ok := v.output[vamm]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("output price %s: %w", vamm, domain.ErrNotFound)
	}
	return p, nil
}

func (v *fakeVamm) IsOverSpreadLimit(_ context.Context, vamm string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.overSpread[vamm], nil
}

type fakeMarkets struct {
	vamms []string
	err   error
}

func (m fakeMarkets) AllVamms(context.Context, uint32) ([]string, error) {
	return m.vamms, m.err
}

// fakeExecutor records submitted batches. fail decides per batch whether the
// transaction is rejected.
type fakeExecutor struct {
	mu      sync.Mutex
	batches [][]domain.ExecuteInstruction
	fail    func(instrs []domain.ExecuteInstruction) error
	balance sdkmath.Int
}

func (x *fakeExecutor) Address() string { return "orai1keeper" }

func (x *fakeExecutor) Balance(context.Context) (sdkmath.Int, error) {
	if x.balance.IsNil() {
		return amt(5_000_000), nil
	}
	return x.balance, nil
}

func (x *fakeExecutor) ExecuteMultiple(_ context.Context, instrs []domain.ExecuteInstruction) (domain.TxResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.batches = append(x.batches, instrs)
	hash := fmt.Sprintf("TX%d", len(x.batches))
	if x.fail != nil {
		if err := x.fail(instrs); err != nil {
			return domain.TxResult{Hash: hash}, err
		}
	}
	return domain.TxResult{Hash: hash, Height: 100 + int64(len(x.batches)), GasUsed: 1000}, nil
}

func position(id uint64, vamm string, side domain.Side, entry int64) domain.Position {
	size := amt(1_000_000_000)
	if side == domain.SideSell {
		size = size.Neg()
	}
	return domain.Position{
		PositionID: id,
		Vamm:       vamm,
		Trader:     fmt.Sprintf("orai1trader%d", id),
		Side:       side,
		Direction:  side.OpenDirection(),
		Size:       size,
		EntryPrice: amt(entry),
	}
}

func mustInt(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		panic("bad integer " + s)
	}
	return v
}
