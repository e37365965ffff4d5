package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents). All ledger arithmetic stays in
// int64 cents; decimal is used only at the edges and for fractional splits.
type Money int64

var centsPerUnit = decimal.NewFromInt(100)

// NewMoney wraps a cent amount.
func NewMoney(cents int64) Money {
	return Money(cents)
}

// ParseMoney converts a decimal string such as "25.00" into cents.
// Amounts with more than two decimal places are rejected rather than rounded.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal to cents.
func FromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(centsPerUnit)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	return Money(cents.IntPart()), nil
}

// Cents returns the raw minor unit value.
func (m Money) Cents() int64 {
	return int64(m)
}

// ToDecimal converts cents to a major-unit decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(centsPerUnit)
}

// String renders the amount with two decimal places, e.g. "175.00".
func (m Money) String() string {
	return m.ToDecimal().StringFixed(2)
}
