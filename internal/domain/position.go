package domain

import sdkmath "cosmossdk.io/math"

// Position is a trader's open leveraged exposure on one vAMM as reported by
// the margin engine. The keeper only reads positions.
type Position struct {
	PositionID                 uint64       `json:"position_id"`
	Vamm                       string       `json:"vamm"`
	Trader                     string       `json:"trader"`
	Side                       Side         `json:"side"`
	Direction                  Direction    `json:"direction"`
	Pair                       string       `json:"pair"`
	Size                       sdkmath.Int  `json:"size"`
	Margin                     sdkmath.Int  `json:"margin"`
	Notional                   sdkmath.Int  `json:"notional"`
	EntryPrice                 sdkmath.Int  `json:"entry_price"`
	TakeProfit                 sdkmath.Int  `json:"take_profit"`
	StopLoss                   *sdkmath.Int `json:"stop_loss,omitempty"`
	LastUpdatedPremiumFraction sdkmath.Int  `json:"last_updated_premium_fraction"`
	BlockTime                  uint64       `json:"block_time"`
}

// StopLossOrZero returns the configured stop loss, or zero when none is set.
func (p Position) StopLossOrZero() sdkmath.Int {
	if p.StopLoss == nil || p.StopLoss.IsNil() {
		return sdkmath.ZeroInt()
	}
	return *p.StopLoss
}

// TakeProfitOrZero returns the take profit, or zero when the field was absent.
func (p Position) TakeProfitOrZero() sdkmath.Int {
	if p.TakeProfit.IsNil() {
		return sdkmath.ZeroInt()
	}
	return p.TakeProfit
}

// CloseDirection is the swap direction used to price closing the position.
// It falls back to the side when the engine omitted the direction.
func (p Position) CloseDirection() Direction {
	if p.Direction != "" {
		return p.Direction
	}
	return p.Side.OpenDirection()
}

// AbsSize returns the unsigned base asset size of the position.
func (p Position) AbsSize() sdkmath.Int {
	if p.Size.IsNil() {
		return sdkmath.ZeroInt()
	}
	return p.Size.Abs()
}
