package keeper

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/fixedpoint"
)

// TpSlTrigger names which target of a position fired.
type TpSlTrigger string

const (
	TriggerNone       TpSlTrigger = ""
	TriggerTakeProfit TpSlTrigger = "take_profit"
	TriggerStopLoss   TpSlTrigger = "stop_loss"
)

// EvaluateTpSl reports whether closing at closePrice hits the take profit or
// the stop loss of a position on side. A price within the spread of a target
// counts as hitting it. A zero stop loss means none is set and never triggers
// through the spread band. A zero take profit is treated the same way.
func EvaluateTpSl(closePrice, takeProfit, stopLoss, tpSpread, slSpread sdkmath.Int, side domain.Side) TpSlTrigger {
	closePrice, takeProfit, stopLoss = orZero(closePrice), orZero(takeProfit), orZero(stopLoss)
	tpSpread, slSpread = orZero(tpSpread), orZero(slSpread)

	tpDistance := fixedpoint.Abs(takeProfit.Sub(closePrice))
	slDistance := fixedpoint.Abs(closePrice.Sub(stopLoss))
	hasTp := takeProfit.IsPositive()
	hasSl := stopLoss.IsPositive()

	switch side {
	case domain.SideBuy:
		if hasTp && (closePrice.GTE(takeProfit) || tpDistance.LTE(tpSpread)) {
			return TriggerTakeProfit
		}
		if stopLoss.GT(closePrice) || (hasSl && slDistance.LTE(slSpread)) {
			return TriggerStopLoss
		}
	case domain.SideSell:
		if hasTp && (takeProfit.GTE(closePrice) || tpDistance.LTE(tpSpread)) {
			return TriggerTakeProfit
		}
		if hasSl && (closePrice.GTE(stopLoss) || slDistance.LTE(slSpread)) {
			return TriggerStopLoss
		}
	}
	return TriggerNone
}

// WillTpSl reports whether either target of the position fires.
func WillTpSl(closePrice, takeProfit, stopLoss, tpSpread, slSpread sdkmath.Int, side domain.Side) bool {
	return EvaluateTpSl(closePrice, takeProfit, stopLoss, tpSpread, slSpread, side) != TriggerNone
}

// TpSlSpreads returns the tolerance bands of a position's targets under the
// engine's tp_sl_spread.
func TpSlSpreads(takeProfit, stopLoss sdkmath.Int, cfg domain.EngineConfig) (tpSpread, slSpread sdkmath.Int) {
	return fixedpoint.SpreadValue(orZero(takeProfit), cfg.TpSlSpread, cfg.Decimals),
		fixedpoint.SpreadValue(orZero(stopLoss), cfg.TpSlSpread, cfg.Decimals)
}

// EffectiveMarginRatio picks the ratio a liquidation decision is based on.
// When the market's spot price has drifted past its spread limit, the oracle
// priced ratio replaces the spot ratio if it is higher.
func EffectiveMarginRatio(spotRatio sdkmath.Int, oracleRatio *sdkmath.Int, overSpreadLimit bool) sdkmath.Int {
	ratio := orZero(spotRatio)
	if overSpreadLimit && oracleRatio != nil && !oracleRatio.IsNil() && oracleRatio.GT(ratio) {
		return *oracleRatio
	}
	return ratio
}

// ShouldLiquidate reports whether a position with the given margin ratios is
// at or below the maintenance margin ratio.
func ShouldLiquidate(spotRatio sdkmath.Int, oracleRatio *sdkmath.Int, overSpreadLimit bool, maintenance sdkmath.Int) bool {
	return EffectiveMarginRatio(spotRatio, oracleRatio, overSpreadLimit).LTE(orZero(maintenance))
}

// FundingDue reports whether funding may be paid at now for a market whose
// next funding time is nextFundingTime (unix seconds), after grace.
func FundingDue(now time.Time, nextFundingTime int64, grace time.Duration) bool {
	return now.Unix() >= nextFundingTime+int64(grace/time.Second)
}

func orZero(x sdkmath.Int) sdkmath.Int {
	if x.IsNil() {
		return sdkmath.ZeroInt()
	}
	return x
}
