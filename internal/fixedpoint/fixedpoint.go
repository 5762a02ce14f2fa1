// Package fixedpoint reproduces the scaled-integer arithmetic of the margin
// engine contracts. Every value is an arbitrary precision integer; floats are
// only used at the edges for display.
package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Parse converts a base-10 integer string into an Int. Leading and trailing
// whitespace is ignored and a leading minus sign is accepted.
func Parse(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(strings.TrimSpace(s))
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("fixedpoint: invalid integer %q", s)
	}
	return v, nil
}

// CalculateSpreadValue returns floor(amount * spread / decimals) for values
// given as base-10 integer strings. A decimals value of "0" yields zero.
func CalculateSpreadValue(amount, spread, decimals string) (sdkmath.Int, error) {
	a, err := Parse(amount)
	if err != nil {
		return sdkmath.Int{}, err
	}
	s, err := Parse(spread)
	if err != nil {
		return sdkmath.Int{}, err
	}
	d, err := Parse(decimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return SpreadValue(a, s, d), nil
}

// SpreadValue is CalculateSpreadValue on parsed integers.
func SpreadValue(amount, spread, decimals sdkmath.Int) sdkmath.Int {
	if isZero(decimals) || isZero(amount) || isZero(spread) {
		return sdkmath.ZeroInt()
	}
	n := new(big.Int).Mul(amount.BigInt(), spread.BigInt())
	return floorDiv(n, decimals.BigInt())
}

// Abs returns |x|.
func Abs(x sdkmath.Int) sdkmath.Int {
	if x.IsNil() {
		return sdkmath.ZeroInt()
	}
	return x.Abs()
}

// PercentageDiff returns floor(|a - b| * decimals / b), the relative distance
// of a from b expressed in the contract's scale. It is zero when b is zero.
func PercentageDiff(a, b, decimals sdkmath.Int) sdkmath.Int {
	if isZero(b) {
		return sdkmath.ZeroInt()
	}
	diff := new(big.Int).Sub(a.BigInt(), b.BigInt())
	diff.Abs(diff)
	diff.Mul(diff, decimals.BigInt())
	return floorDiv(diff, new(big.Int).Abs(b.BigInt()))
}

// FromDecimal scales a human readable value by decimals, rounding half away
// from zero.
func FromDecimal(v decimal.Decimal, decimals sdkmath.Int) sdkmath.Int {
	scaled := v.Mul(decimal.NewFromBigInt(decimals.BigInt(), 0)).Round(0)
	return sdkmath.NewIntFromBigInt(scaled.BigInt())
}

// ToDecimal converts a scaled integer back to a human readable decimal.
func ToDecimal(x, decimals sdkmath.Int) decimal.Decimal {
	if x.IsNil() {
		return decimal.Zero
	}
	v := decimal.NewFromBigInt(x.BigInt(), 0)
	if isZero(decimals) {
		return v
	}
	return v.Div(decimal.NewFromBigInt(decimals.BigInt(), 0))
}

func isZero(x sdkmath.Int) bool {
	return x.IsNil() || x.IsZero()
}

// floorDiv rounds the quotient toward negative infinity.
func floorDiv(n, d *big.Int) sdkmath.Int {
	if d.Sign() < 0 {
		n = new(big.Int).Neg(n)
		d = new(big.Int).Neg(d)
	}
	// Div is Euclidean, which is floor division for a positive divisor.
	return sdkmath.NewIntFromBigInt(new(big.Int).Div(n, d))
}
