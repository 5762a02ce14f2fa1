package contracts

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

type priceKey struct {
	Key string `json:"key"`
}

type pricefeedQuery struct {
	GetPrice *priceKey `json:"get_price,omitempty"`
}

// PricefeedClient queries the on-chain price feed.
type PricefeedClient struct {
	q    Querier
	addr string
}

// NewPricefeedClient returns a client for the price feed at addr.
func NewPricefeedClient(q Querier, addr string) *PricefeedClient {
	return &PricefeedClient{q: q, addr: addr}
}

// Address returns the price feed contract address.
func (c *PricefeedClient) Address() string { return c.addr }

// Price returns the latest price recorded for key.
func (c *PricefeedClient) Price(ctx context.Context, key string) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := query(ctx, c.q, c.addr, "get_price", pricefeedQuery{GetPrice: &priceKey{Key: key}}, &out)
	return out, err
}
