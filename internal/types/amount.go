package types

import (
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the fixed fractional precision of all energy and unit
// amounts crossing the API boundary: 1 GRID = 1e9 base units = 1 kWh.
// Prices carry the same scale, denominated per whole GRID.
const AmountDecimals = 9

// AmountScale is 10^AmountDecimals.
const AmountScale uint64 = 1_000_000_000

// MaxAmount is the largest storable amount. Holdings and supply totals live
// in signed 64-bit database columns, so the usable range stops at the int64
// ceiling; checked arithmetic reports anything beyond it as overflow.
const MaxAmount uint64 = math.MaxInt64

// SaturatingAdd returns a+b, clamping at the maximum representable amount.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// SaturatingSub returns a-b, clamping at zero.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// CheckedAdd returns a+b and whether the addition stayed in range.
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// CheckedMulDiv computes amount * price / AmountScale with a 128-bit
// intermediate, reporting whether the result fits in uint64. This is the
// notional value of a fill: both operands carry 9 fractional digits, so the
// product is rescaled back once.
func CheckedMulDiv(amount, price uint64) (uint64, bool) {
	hi, lo := bits.Mul64(amount, price)
	if hi >= AmountScale {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, AmountScale)
	return quo, true
}

// AmountToDecimal converts a base-unit amount to its decimal representation.
func AmountToDecimal(a uint64) decimal.Decimal {
	return decimal.NewFromUint64(a).Shift(-AmountDecimals)
}

// DecimalToAmount converts a decimal back to base units, reporting whether the
// value is representable (non-negative and within uint64 range).
func DecimalToAmount(d decimal.Decimal) (uint64, bool) {
	scaled := d.Shift(AmountDecimals).Round(0)
	if scaled.IsNegative() {
		return 0, false
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, false
	}
	return bi.Uint64(), true
}
