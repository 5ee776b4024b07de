package checkout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxMinorUnits is the largest amount Stripe accepts for a price or a
// session total (999,999.99 in a two-decimal currency).
const MaxMinorUnits int64 = 99999999

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(MaxMinorUnits)
)

// MinorUnits converts a major-unit price string ("19.99") into integer minor
// units (1999). Rounding is half away from zero at the cent, so for the
// non-negative prices accepted here 19.995 becomes 2000 and 0.004 becomes 0.
func MinorUnits(price string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", price)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative price %q", price)
	}
	minor := d.Mul(hundred).Round(0)
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("price %q exceeds %s", price, FormatMinor(MaxMinorUnits))
	}
	return minor.IntPart(), nil
}

// MajorUnits converts minor units back into a decimal display amount.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatMinor renders minor units with exactly two decimals ("19.99").
func FormatMinor(minor int64) string {
	return MajorUnits(minor).StringFixed(2)
}
