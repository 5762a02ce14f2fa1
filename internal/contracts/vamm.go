package contracts

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
)

type swapAmount struct {
	Amount    sdkmath.Int      `json:"amount"`
	Direction domain.Direction `json:"direction"`
}

type vammQuery struct {
	Config            *empty      `json:"config,omitempty"`
	State             *empty      `json:"state,omitempty"`
	SpotPrice         *empty      `json:"spot_price,omitempty"`
	OutputPrice       *swapAmount `json:"output_price,omitempty"`
	OutputAmount      *swapAmount `json:"output_amount,omitempty"`
	IsOverSpreadLimit *empty      `json:"is_over_spread_limit,omitempty"`
}

// VammClient queries vAMM market contracts. The market address is passed per
// call since the keeper walks every registered market.
type VammClient struct {
	q Querier
}

// NewVammClient returns a vAMM client.
func NewVammClient(q Querier) *VammClient {
	return &VammClient{q: q}
}

// Config returns the market configuration.
func (c *VammClient) Config(ctx context.Context, vamm string) (domain.VammConfig, error) {
	var out domain.VammConfig
	err := query(ctx, c.q, vamm, "config", vammQuery{Config: &empty{}}, &out)
	return out, err
}

// State returns reserves and funding schedule.
func (c *VammClient) State(ctx context.Context, vamm string) (domain.VammState, error) {
	var out domain.VammState
	err := query(ctx, c.q, vamm, "state", vammQuery{State: &empty{}}, &out)
	return out, err
}

// SpotPrice returns quote reserve / base reserve in contract scale.
func (c *VammClient) SpotPrice(ctx context.Context, vamm string) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := query(ctx, c.q, vamm, "spot_price", vammQuery{SpotPrice: &empty{}}, &out)
	return out, err
}

// OutputPrice returns the average price of swapping amount base asset in dir.
func (c *VammClient) OutputPrice(ctx context.Context, vamm string, amount sdkmath.Int, dir domain.Direction) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := query(ctx, c.q, vamm, "output_price", vammQuery{OutputPrice: &swapAmount{Amount: amount, Direction: dir}}, &out)
	return out, err
}

// OutputAmount returns the quote amount of swapping amount base asset in dir.
func (c *VammClient) OutputAmount(ctx context.Context, vamm string, amount sdkmath.Int, dir domain.Direction) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := query(ctx, c.q, vamm, "output_amount", vammQuery{OutputAmount: &swapAmount{Amount: amount, Direction: dir}}, &out)
	return out, err
}

// IsOverSpreadLimit reports whether spot has diverged from the oracle.
func (c *VammClient) IsOverSpreadLimit(ctx context.Context, vamm string) (bool, error) {
	var out bool
	err := query(ctx, c.q, vamm, "is_over_spread_limit", vammQuery{IsOverSpreadLimit: &empty{}}, &out)
	return out, err
}
