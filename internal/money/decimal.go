// Package money collects the arbitrary-precision arithmetic conventions the
// PnL calculator relies on: a zero predicate, banker's-rounded division for
// entry-price averaging, and sign helpers used to detect position flips.
package money

import (
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits the calculator guarantees
// when rounding is unavoidable (entry-price averaging). Sums and
// subtractions never round — decimal.Decimal carries full precision.
const Precision = 12

// IsZero reports whether d is exactly zero. It exists as a named predicate
// (rather than scattering d.Equal(decimal.Zero) everywhere) because "is this
// position/size zero" is a load-bearing check throughout the calculator.
func IsZero(d decimal.Decimal) bool {
	return d.Sign() == 0
}

// Sign returns -1, 0, or 1, matching decimal.Decimal.Sign; kept here as a
// thin alias so call sites read "money.Sign" next to "money.IsZero".
func Sign(d decimal.Decimal) int {
	return d.Sign()
}

// SameSign reports whether two decimals are strictly on the same side of
// zero (both positive or both negative). Zero is not considered same-sign
// as anything, matching the "size = 0 means no position" convention.
func SameSign(a, b decimal.Decimal) bool {
	sa, sb := a.Sign(), b.Sign()
	return sa != 0 && sa == sb
}

// DivRoundHalfEven divides a/b and rounds to Precision fractional digits
// using banker's rounding: a quotient exactly halfway between two
// representable values goes to the one whose last digit is even.
func DivRoundHalfEven(a, b decimal.Decimal) decimal.Decimal {
	if b.Sign() == 0 {
		return decimal.Zero
	}
	// q is truncated toward zero; r carries the discarded fraction.
	q, r := a.QuoRem(b, Precision)
	unit := decimal.New(1, -Precision)
	two := decimal.NewFromInt(2)
	cmp := r.Abs().Mul(two).Shift(Precision).Cmp(b.Abs())
	if cmp < 0 || (cmp == 0 && q.Shift(Precision).Mod(two).IsZero()) {
		return q
	}
	if a.Sign()*b.Sign() < 0 {
		return q.Sub(unit)
	}
	return q.Add(unit)
}

// WeightedAverage computes the size-weighted average of two (value, weight)
// pairs, rounded half-to-even at Precision digits — used for entry-price
// averaging when a fill adds to an existing same-sign position.
func WeightedAverage(valueA, weightA, valueB, weightB decimal.Decimal) decimal.Decimal {
	numerator := valueA.Mul(weightA).Add(valueB.Mul(weightB))
	denominator := weightA.Add(weightB)
	return DivRoundHalfEven(numerator, denominator)
}
