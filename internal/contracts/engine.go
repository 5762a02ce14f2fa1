package contracts

import (
	"context"
	"encoding/json"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

// Order values understood by the engine's order_by argument.
const (
	OrderAscending  = 1
	OrderDescending = 2
)

// TicksQuery pages through the ticks of one market side.
type TicksQuery struct {
	Limit      uint32       `json:"limit,omitempty"`
	OrderBy    int          `json:"order_by,omitempty"`
	Side       domain.Side  `json:"side"`
	StartAfter *sdkmath.Int `json:"start_after,omitempty"`
	Vamm       string       `json:"vamm"`
}

// PositionFilter narrows a positions query. The zero value is "none".
type PositionFilter struct {
	Trader string
	Price  *sdkmath.Int
}

// MarshalJSON encodes the filter as "none", {"trader":..} or {"price":..}.
func (f PositionFilter) MarshalJSON() ([]byte, error) {
	switch {
	case f.Price != nil:
		return json.Marshal(map[string]sdkmath.Int{"price": *f.Price})
	case f.Trader != "":
		return json.Marshal(map[string]string{"trader": f.Trader})
	default:
		return []byte(`"none"`), nil
	}
}

// PositionsQuery pages through positions of a market.
type PositionsQuery struct {
	Filter     PositionFilter `json:"filter"`
	Limit      uint32         `json:"limit,omitempty"`
	OrderBy    int            `json:"order_by,omitempty"`
	Side       domain.Side    `json:"side,omitempty"`
	StartAfter *uint64        `json:"start_after,omitempty"`
	Vamm       string         `json:"vamm"`
}

type positionRef struct {
	PositionID uint64 `json:"position_id"`
	Vamm       string `json:"vamm"`
}

type marginRatioByCalcOption struct {
	CalcOption domain.CalcOption `json:"calc_option"`
	PositionID uint64            `json:"position_id"`
	Vamm       string            `json:"vamm"`
}

type engineQuery struct {
	Config                  *empty                   `json:"config,omitempty"`
	Ticks                   *TicksQuery              `json:"ticks,omitempty"`
	Positions               *PositionsQuery          `json:"positions,omitempty"`
	Position                *positionRef             `json:"position,omitempty"`
	MarginRatio             *positionRef             `json:"margin_ratio,omitempty"`
	MarginRatioByCalcOption *marginRatioByCalcOption `json:"margin_ratio_by_calc_option,omitempty"`
}

type ticksResponse struct {
	Ticks []domain.Tick `json:"ticks"`
}

// EngineClient queries the margin engine contract.
type EngineClient struct {
	q    Querier
	addr string
}

// NewEngineClient returns a client for the engine at addr.
func NewEngineClient(q Querier, addr string) *EngineClient {
	return &EngineClient{q: q, addr: addr}
}

// Address returns the engine contract address.
func (c *EngineClient) Address() string { return c.addr }

// Config returns the engine configuration.
func (c *EngineClient) Config(ctx context.Context) (domain.EngineConfig, error) {
	var out domain.EngineConfig
	err := query(ctx, c.q, c.addr, "config", engineQuery{Config: &empty{}}, &out)
	return out, err
}

// Ticks returns one page of ticks.
func (c *EngineClient) Ticks(ctx context.Context, req TicksQuery) ([]domain.Tick, error) {
	var out ticksResponse
	if err := query(ctx, c.q, c.addr, "ticks", engineQuery{Ticks: &req}, &out); err != nil {
		return nil, err
	}
	return out.Ticks, nil
}

// Positions returns one page of positions.
func (c *EngineClient) Positions(ctx context.Context, req PositionsQuery) ([]domain.Position, error) {
	var out []domain.Position
	if err := query(ctx, c.q, c.addr, "positions", engineQuery{Positions: &req}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Position returns a single position.
func (c *EngineClient) Position(ctx context.Context, vamm string, positionID uint64) (domain.Position, error) {
	var out domain.Position
	err := query(ctx, c.q, c.addr, "position", engineQuery{Position: &positionRef{PositionID: positionID, Vamm: vamm}}, &out)
	return out, err
}

// MarginRatio returns the position's margin ratio at the spot price.
func (c *EngineClient) MarginRatio(ctx context.Context, vamm string, positionID uint64) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := query(ctx, c.q, c.addr, "margin_ratio", engineQuery{MarginRatio: &positionRef{PositionID: positionID, Vamm: vamm}}, &out)
	return out, err
}

// MarginRatioByCalcOption returns the margin ratio priced with opt.
func (c *EngineClient) MarginRatioByCalcOption(ctx context.Context, vamm string, positionID uint64, opt domain.CalcOption) (sdkmath.Int, error) {
	var out sdkmath.Int
	msg := engineQuery{MarginRatioByCalcOption: &marginRatioByCalcOption{
		CalcOption: opt,
		PositionID: positionID,
		Vamm:       vamm,
	}}
	err := query(ctx, c.q, c.addr, "margin_ratio_by_calc_option", msg, &out)
	return out, err
}
