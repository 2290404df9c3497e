// Package currency converts between raw (smallest-unit) integer amounts and
// human display amounts. All accounting is done in raw units; display values
// exist only at the edges (API responses, notification payloads, logs).
package currency

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseRaw parses a raw amount from its canonical decimal-string form.
// Raw amounts are non-negative integers.
func ParseRaw(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("raw amount cannot be empty")
	}
	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid raw amount %q", s)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("raw amount cannot be negative, got %q", s)
	}
	return value, nil
}

// FormatRaw renders a raw amount in its canonical decimal-string form.
func FormatRaw(raw *big.Int) string {
	if raw == nil {
		return "0"
	}
	return raw.String()
}

// ToDisplay renders a raw amount as a display amount with the given number
// of decimals, trailing zeros trimmed.
func ToDisplay(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}

// FromDisplay parses a display amount into raw units. The amount must not
// carry more fractional digits than the currency has decimals.
func FromDisplay(display string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return nil, fmt.Errorf("invalid display amount %q: %w", display, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("display amount cannot be negative, got %q", display)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("display amount %q has more than %d decimal places", display, decimals)
	}
	return shifted.BigInt(), nil
}
