// Package money wraps decimal arithmetic for currency amounts. Floating
// point is never used for money anywhere in this module.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Zero is the zero amount.
	Zero = decimal.Zero

	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// FromString parses a decimal amount, rejecting negative values.
func FromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q must not be negative", s)
	}
	return d, nil
}

// Cents rounds an amount to two decimal places (half up).
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent converts a percentage figure (e.g. 12.50) to its fraction (0.125).
func Percent(rate decimal.Decimal) decimal.Decimal {
	return rate.Div(hundred)
}

// MonthlyRate converts an annual percentage rate to a monthly fraction.
func MonthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return Percent(annualRate).Div(twelve)
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
