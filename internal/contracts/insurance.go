package contracts

import "context"

type limitArg struct {
	Limit *uint32 `json:"limit,omitempty"`
}

type insuranceQuery struct {
	GetAllVamm *limitArg `json:"get_all_vamm,omitempty"`
}

type allVammResponse struct {
	VammList []string `json:"vamm_list"`
}

// InsuranceFundClient queries the insurance fund, which owns the registry of
// markets.
type InsuranceFundClient struct {
	q    Querier
	addr string
}

// NewInsuranceFundClient returns a client for the fund at addr.
func NewInsuranceFundClient(q Querier, addr string) *InsuranceFundClient {
	return &InsuranceFundClient{q: q, addr: addr}
}

// AllVamms lists the registered markets. A zero limit leaves the contract
// default in place.
func (c *InsuranceFundClient) AllVamms(ctx context.Context, limit uint32) ([]string, error) {
	arg := &limitArg{}
	if limit > 0 {
		arg.Limit = &limit
	}
	var out allVammResponse
	if err := query(ctx, c.q, c.addr, "get_all_vamm", insuranceQuery{GetAllVamm: arg}, &out); err != nil {
		return nil, err
	}
	return out.VammList, nil
}
