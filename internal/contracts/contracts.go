// Package contracts holds typed query clients for the margin protocol
// contracts: margin engine, vAMM, insurance fund and price feed. Each client
// marshals the contract's tagged query messages and decodes the response.
package contracts

import (
	"context"
	"fmt"
)

// Querier runs a cosmwasm smart query and decodes the JSON result into out.
type Querier interface {
	QuerySmart(ctx context.Context, contract string, msg any, out any) error
}

func query(ctx context.Context, q Querier, contract, name string, msg, out any) error {
	if err := q.QuerySmart(ctx, contract, msg, out); err != nil {
		return fmt.Errorf("contracts: query %s on %s: %w", name, contract, err)
	}
	return nil
}

// empty marshals as {} which the contracts expect for argument-less queries.
type empty struct{}
