// Package royalty defines the marketplace fee schedule and the signed
// authorizations that may override it per transaction.
package royalty

import "math/big"

// Kind selects which fee of the schedule applies.
type Kind int

const (
	// KindPurchase is the percentage fee charged on sale proceeds.
	KindPurchase Kind = iota
	// KindOffer is the flat per-unit fee charged when creating an offer.
	KindOffer
	// KindListing is the flat per-unit fee charged when creating a listing.
	KindListing
)

func (k Kind) String() string {
	switch k {
	case KindPurchase:
		return "purchase"
	case KindOffer:
		return "offer"
	case KindListing:
		return "listing"
	default:
		return "unknown"
	}
}

// Config is the marketplace fee schedule. MarketplaceBps applies to
// purchase proceeds; ListingFee and OfferFee are flat amounts charged
// per unit listed or offered.
type Config struct {
	Recipient      string
	MarketplaceBps uint32
	ListingFee     *big.Int
	OfferFee       *big.Int
}

// Clone returns a deep copy of the schedule.
func (c Config) Clone() Config {
	out := c
	if c.ListingFee != nil {
		out.ListingFee = new(big.Int).Set(c.ListingFee)
	}
	if c.OfferFee != nil {
		out.OfferFee = new(big.Int).Set(c.OfferFee)
	}
	return out
}

// Authorization is a fee override attested off-band. The attestant signs
// over (Signer, Value, Expiry); a valid authorization substitutes Value
// for the scheduled fee parameter until Expiry passes. The zero value
// means no override.
type Authorization struct {
	Signer    string
	Signature []byte
	Value     *big.Int
	Expiry    int64
}

// Empty reports whether no override was supplied.
func (a Authorization) Empty() bool {
	return len(a.Signature) == 0 && a.Signer == ""
}
