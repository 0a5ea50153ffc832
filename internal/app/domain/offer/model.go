// Package offer defines the buy-side offer record stored by the marketplace.
package offer

import (
	"math/big"
	"time"
)

// Offer is a bid by Offerer for a quantity of an asset at a unit price.
// The offered principal sits in marketplace escrow until the offer is
// accepted or deleted. Accepted offers stay on record with Accepted set.
type Offer struct {
	AssetContract string
	AssetID       uint64
	Offerer       string
	UnitPrice     *big.Int
	Quantity      uint64
	Accepted      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Empty reports whether the record is the zero value.
func (o Offer) Empty() bool {
	return (o.UnitPrice == nil || o.UnitPrice.Sign() == 0) && o.Offerer == ""
}

// Principal returns the escrowed total, unit price times quantity.
func (o Offer) Principal() *big.Int {
	if o.UnitPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(o.UnitPrice, new(big.Int).SetUint64(o.Quantity))
}

// Clone returns a deep copy so callers cannot alias the stored price.
func (o Offer) Clone() Offer {
	out := o
	if o.UnitPrice != nil {
		out.UnitPrice = new(big.Int).Set(o.UnitPrice)
	}
	return out
}
