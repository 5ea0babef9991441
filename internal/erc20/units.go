package erc20

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")

	decimalPattern = regexp.MustCompile(`^([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)
)

// ParseUnits converts a decimal string such as "10.5", ".5" or "5." into
// base units.
// Amounts with more fractional digits than decimals are rejected rather than
// rounded.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if !decimalPattern.MatchString(amount) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, amount, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return value, nil
}

// FormatFixed renders raw / 10^decimals with exactly places fractional digits.
func FormatFixed(raw *big.Int, decimals uint8, places int) string {
	if raw == nil {
		raw = new(big.Int)
	}
	ratio := new(big.Rat).SetFrac(raw, pow10(decimals))
	return ratio.FloatString(places)
}

// FormatUnits renders raw / 10^decimals exactly, without trailing zeros.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil || raw.Sign() == 0 {
		return "0"
	}
	out := FormatFixed(raw, decimals, int(decimals))
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	return out
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
