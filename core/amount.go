package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in one whole token.
// All amounts in state are integers in base units.
const Decimals = 9

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrAmountPrecision = fmt.Errorf("amount has more than %d fractional digits", Decimals)
	ErrAmountRange     = errors.New("amount out of range")
)

var maxAmount = decimal.NewFromUint64(math.MaxUint64)

// ParseAmount converts a decimal token string such as "5" or "0.25" into
// base units. It rejects negative values, excess precision and overflow
// instead of rounding.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	units := d.Shift(Decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, ErrAmountPrecision
	}
	if units.GreaterThan(maxAmount) {
		return 0, ErrAmountRange
	}
	return units.BigInt().Uint64(), nil
}

// FormatAmount renders base units as a decimal token string without
// trailing zeros.
func FormatAmount(units uint64) string {
	return decimal.NewFromUint64(units).Shift(-Decimals).String()
}
