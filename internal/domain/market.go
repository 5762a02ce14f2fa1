package domain

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Side is the trade side of a position on a vAMM.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sides lists both trade sides in evaluation order.
var Sides = []Side{SideBuy, SideSell}

// ParseSide converts a string into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(s)) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Direction is the vAMM swap direction of the base asset.
type Direction string

const (
	DirectionAddToAmm      Direction = "add_to_amm"
	DirectionRemoveFromAmm Direction = "remove_from_amm"
)

// OpenDirection returns the direction a position on this side was opened with.
func (s Side) OpenDirection() Direction {
	if s == SideSell {
		return DirectionRemoveFromAmm
	}
	return DirectionAddToAmm
}

// CalcOption selects the price source used by margin ratio queries.
type CalcOption string

const (
	CalcOptionSpotPrice CalcOption = "spot_price"
	CalcOptionTwap      CalcOption = "twap"
	CalcOptionOracle    CalcOption = "oracle"
)

// Tick aggregates the positions sharing one entry price on a market side.
type Tick struct {
	EntryPrice     sdkmath.Int `json:"entry_price"`
	TotalPositions uint64      `json:"total_positions"`
}

// AssetInfo identifies the collateral asset accepted by the engine.
type AssetInfo struct {
	Token *struct {
		ContractAddr string `json:"contract_addr"`
	} `json:"token,omitempty"`
	NativeToken *struct {
		Denom string `json:"denom"`
	} `json:"native_token,omitempty"`
}

// EngineConfig is the margin engine configuration. It is read fresh every
// cycle.
type EngineConfig struct {
	Owner                   string      `json:"owner"`
	InsuranceFund           string      `json:"insurance_fund,omitempty"`
	FeePool                 string      `json:"fee_pool"`
	EligibleCollateral      AssetInfo   `json:"eligible_collateral"`
	Decimals                sdkmath.Int `json:"decimals"`
	InitialMarginRatio      sdkmath.Int `json:"initial_margin_ratio"`
	MaintenanceMarginRatio  sdkmath.Int `json:"maintenance_margin_ratio"`
	PartialLiquidationRatio sdkmath.Int `json:"partial_liquidation_ratio"`
	TpSlSpread              sdkmath.Int `json:"tp_sl_spread"`
	LiquidationFee          sdkmath.Int `json:"liquidation_fee"`
}

// VammConfig is the static configuration of a vAMM market.
type VammConfig struct {
	BaseAsset             string      `json:"base_asset"`
	QuoteAsset            string      `json:"quote_asset"`
	Decimals              sdkmath.Int `json:"decimals"`
	FluctuationLimitRatio sdkmath.Int `json:"fluctuation_limit_ratio"`
	SpreadRatio           sdkmath.Int `json:"spread_ratio"`
	TollRatio             sdkmath.Int `json:"toll_ratio"`
	FundingPeriod         uint64      `json:"funding_period"`
	InsuranceFund         string      `json:"insurance_fund"`
	MarginEngine          string      `json:"margin_engine"`
	Pricefeed             string      `json:"pricefeed"`
	SpotPriceTwapInterval uint64      `json:"spot_price_twap_interval"`
}

// Pair returns the market pair label, e.g. "ORAI/USDT".
func (c VammConfig) Pair() string {
	return c.BaseAsset + "/" + c.QuoteAsset
}

// VammState is the mutable state of a vAMM market.
type VammState struct {
	BaseAssetReserve  sdkmath.Int `json:"base_asset_reserve"`
	QuoteAssetReserve sdkmath.Int `json:"quote_asset_reserve"`
	FundingRate       sdkmath.Int `json:"funding_rate"`
	NextFundingTime   int64       `json:"next_funding_time"`
	Open              bool        `json:"open"`
	TotalPositionSize sdkmath.Int `json:"total_position_size"`
}
