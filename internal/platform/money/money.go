// Package money converts ledger NUMERIC amounts to integer minor units.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultScale matches the zero-decimal currencies of the franc zones
// (XOF, XAF). Configure 2 for cent-based currencies.
const DefaultScale Scale = 0

// ErrSubUnit reports an amount carrying digits below the currency's minor unit.
var ErrSubUnit = errors.New("money: amount finer than the minor unit")

// Scale converts decimal amounts for a fixed number of fractional digits.
type Scale int32

// ToMinor returns d as an integer count of minor units. Amounts that do not
// land exactly on a minor unit are rejected, never rounded.
func (s Scale) ToMinor(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(int32(s))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s at scale %d", ErrSubUnit, d.String(), s)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("money: %s out of range at scale %d", d.String(), s)
	}
	return shifted.IntPart(), nil
}

// FromMinor converts minor units back to a decimal amount.
func (s Scale) FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -int32(s))
}

// Format renders minor units with the scale's fractional digits.
func (s Scale) Format(minor int64) string {
	return s.FromMinor(minor).StringFixed(int32(s))
}

// Validate rejects scales outside 0..4.
func (s Scale) Validate() error {
	if s < 0 || s > 4 {
		return fmt.Errorf("money: unsupported scale %d", s)
	}
	return nil
}
