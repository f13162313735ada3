// Package money holds the decimal arithmetic shared by the calculator, the due
// ledger and the analytics rollups. Amounts never go below zero and are kept at
// currency scale.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for currency amounts.
const Scale = 2

// RatioScale is the precision of ratios such as profit margin.
const RatioScale = 4

var Zero = decimal.Zero

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Mul multiplies a unit amount by an integer quantity.
func Mul(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

// Ratio divides num by den and returns zero when den is zero.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return Zero
	}
	return num.DivRound(den, RatioScale)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Parse reads a decimal amount and rejects negative values.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return Zero, fmt.Errorf("amount %q must not be negative", raw)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// HasValidScale reports whether d carries no more than Scale fractional digits.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}
