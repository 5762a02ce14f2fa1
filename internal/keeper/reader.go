// Package keeper decides which margin engine triggers are due and turns them
// into execute instructions. It walks every registered vAMM, evaluates
// take-profit, stop-loss, liquidation and funding conditions, and hands the
// resulting batches to a transaction executor.
package keeper

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/contracts"
	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// DefaultPageSize is the page size used for tick and position walks.
const DefaultPageSize = 100

// EngineQuerier is the subset of the margin engine client the keeper reads.
type EngineQuerier interface {
	Address() string
	Config(ctx context.Context) (domain.EngineConfig, error)
	Ticks(ctx context.Context, req contracts.TicksQuery) ([]domain.Tick, error)
	Positions(ctx context.Context, req contracts.PositionsQuery) ([]domain.Position, error)
	MarginRatio(ctx context.Context, vamm string, positionID uint64) (sdkmath.Int, error)
	MarginRatioByCalcOption(ctx context.Context, vamm string, positionID uint64, opt domain.CalcOption) (sdkmath.Int, error)
}

// VammQuerier is the subset of the vAMM client the keeper reads.
type VammQuerier interface {
	State(ctx context.Context, vamm string) (domain.VammState, error)
	SpotPrice(ctx context.Context, vamm string) (sdkmath.Int, error)
	OutputPrice(ctx context.Context, vamm string, amount sdkmath.Int, dir domain.Direction) (sdkmath.Int, error)
	IsOverSpreadLimit(ctx context.Context, vamm string) (bool, error)
}

// MarketLister returns the registered vAMM markets.
type MarketLister interface {
	AllVamms(ctx context.Context, limit uint32) ([]string, error)
}

// TickOrder maps a side to the engine's order_by value for tick walks.
type TickOrder map[domain.Side]int

// DefaultTickOrder walks buy ticks descending and sell ticks ascending.
func DefaultTickOrder() TickOrder {
	return TickOrder{
		domain.SideBuy:  contracts.OrderDescending,
		domain.SideSell: contracts.OrderAscending,
	}
}

// Reader materializes the complete tick and position sets of a market side
// from the engine's paged queries. Pages within one walk are fetched
// sequentially since each cursor depends on the previous page. Query errors
// are returned as is; the reader never retries and never returns a partial
// result.
type Reader struct {
	engine   EngineQuerier
	pageSize uint32
	order    TickOrder
}

// NewReader creates a Reader. A zero pageSize uses DefaultPageSize and a nil
// order uses DefaultTickOrder.
func NewReader(engine EngineQuerier, pageSize uint32, order TickOrder) *Reader {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if order == nil {
		order = DefaultTickOrder()
	}
	return &Reader{engine: engine, pageSize: pageSize, order: order}
}

// QueryAllTicks returns every tick of the market side in engine order. Each
// page starts after the entry price of the previous page's last tick, and the
// walk ends on an empty page.
func (r *Reader) QueryAllTicks(ctx context.Context, vamm string, side domain.Side) ([]domain.Tick, error) {
	var (
		all    []domain.Tick
		cursor *sdkmath.Int
	)
	for {
		page, err := r.engine.Ticks(ctx, contracts.TicksQuery{
			Limit:      r.pageSize,
			OrderBy:    r.order[side],
			Side:       side,
			StartAfter: cursor,
			Vamm:       vamm,
		})
		if err != nil {
			return nil, fmt.Errorf("keeper: query ticks %s/%s: %w", vamm, side, err)
		}
		if len(page) == 0 {
			return all, nil
		}
		last := page[len(page)-1].EntryPrice
		// A cursor that does not advance would loop forever.
		if cursor != nil && !last.IsNil() && last.Equal(*cursor) {
			return nil, fmt.Errorf("keeper: query ticks %s/%s: cursor %s did not advance", vamm, side, last)
		}
		all = append(all, page...)
		cursor = &last
	}
}

// QueryPositionsByPrice returns every position of the market side opened at
// entryPrice, paging by position id.
func (r *Reader) QueryPositionsByPrice(ctx context.Context, vamm string, side domain.Side, entryPrice sdkmath.Int) ([]domain.Position, error) {
	var (
		all    []domain.Position
		cursor *uint64
	)
	price := entryPrice
	for {
		page, err := r.engine.Positions(ctx, contracts.PositionsQuery{
			Filter:     contracts.PositionFilter{Price: &price},
			Limit:      r.pageSize,
			OrderBy:    contracts.OrderAscending,
			Side:       side,
			StartAfter: cursor,
			Vamm:       vamm,
		})
		if err != nil {
			return nil, fmt.Errorf("keeper: query positions %s/%s@%s: %w", vamm, side, entryPrice, err)
		}
		if len(page) == 0 {
			return all, nil
		}
		last := page[len(page)-1].PositionID
		if cursor != nil && last == *cursor {
			return nil, fmt.Errorf("keeper: query positions %s/%s@%s: cursor %d did not advance", vamm, side, entryPrice, last)
		}
		all = append(all, page...)
		cursor = &last
	}
}

// QueryOpenPositions walks every tick of the market side and collects the
// positions behind each one.
func (r *Reader) QueryOpenPositions(ctx context.Context, vamm string, side domain.Side) ([]domain.Position, error) {
	ticks, err := r.QueryAllTicks(ctx, vamm, side)
	if err != nil {
		return nil, err
	}
	var (
		out  []domain.Position
		seen = make(map[uint64]struct{})
	)
	for _, t := range ticks {
		positions, err := r.QueryPositionsByPrice(ctx, vamm, side, t.EntryPrice)
		if err != nil {
			return nil, err
		}
		for _, p := range positions {
			if _, dup := seen[p.PositionID]; dup {
				continue
			}
			seen[p.PositionID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}
