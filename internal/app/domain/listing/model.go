// Package listing defines the listing record stored by the marketplace.
package listing

import (
	"math/big"
	"time"
)

// Listing is one for-sale entry for an asset. A listing tracks the
// original seller separately from the current holder: the holder is the
// most recent counterparty and changes as units are bought or offers
// are accepted, while the seller keeps receiving proceeds.
type Listing struct {
	AssetContract string
	AssetID       uint64
	Seller        string
	Holder        string
	UnitPrice     *big.Int
	Remaining     uint64
	Sold          bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the listing currently occupies its slot: it
// carries a positive price and has not sold out. A sold-out listing
// leaves the slot free for relisting.
func (l Listing) Active() bool {
	return l.UnitPrice != nil && l.UnitPrice.Sign() > 0 && !l.Sold
}

// Empty reports whether the record is the zero value for its slot.
func (l Listing) Empty() bool {
	return (l.UnitPrice == nil || l.UnitPrice.Sign() == 0) && !l.Sold && l.Seller == ""
}

// Clone returns a deep copy so callers cannot alias the stored price.
func (l Listing) Clone() Listing {
	out := l
	if l.UnitPrice != nil {
		out.UnitPrice = new(big.Int).Set(l.UnitPrice)
	}
	return out
}
