package market

import (
	"fmt"
	"math/big"
	"strings"
)

// FeeDenominator is the basis-point scale for percentage fees.
const FeeDenominator = 10_000

// Amount returns a defensive copy of v, treating nil as zero.
func Amount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Mul returns unit price times quantity.
func Mul(unitPrice *big.Int, quantity uint64) *big.Int {
	if unitPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(unitPrice, new(big.Int).SetUint64(quantity))
}

// Bps returns amount scaled by basis points, truncating toward zero.
func Bps(amount *big.Int, bps uint32) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	v := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return v.Quo(v, big.NewInt(FeeDenominator))
}

// ParseAmount parses a non-negative base-10 amount.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// SameAccount compares account identifiers case-insensitively.
func SameAccount(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Normalize lower-cases and trims an account or contract identifier.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
