// Package storage defines the persistence interfaces for marketplace
// records and provides an in-memory implementation. A PostgreSQL
// implementation lives in the postgres subpackage.
//
// Both stores are capability gated: every mutation names the calling
// account and fails with market.ErrRemoteNotAllowed unless the caller
// holds a grant. Reads are open.
package storage

import (
	"context"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
)

// ListingStore persists listings keyed by (asset contract, asset ID)
// and enumerates them per contract. Enumeration order is not stable
// across deletes.
type ListingStore interface {
	// Allow lets the store owner grant or revoke a caller's capability.
	Allow(ctx context.Context, caller, subject string, allowed bool) error
	// IsAllowed reports whether the subject may mutate the store.
	IsAllowed(ctx context.Context, subject string) (bool, error)

	// Create writes the record, replacing any record in the slot.
	Create(ctx context.Context, caller string, rec listing.Listing) error
	// Update overwrites an existing record; market.ErrNotFound if absent.
	Update(ctx context.Context, caller string, rec listing.Listing) error
	// Delete removes the record; market.ErrNotFound if absent.
	Delete(ctx context.Context, caller, assetContract string, assetID uint64) error

	// Get returns the record, or a zero-valued record if absent.
	Get(ctx context.Context, assetContract string, assetID uint64) (listing.Listing, error)
	// GetByIndex returns the i-th record for the contract.
	GetByIndex(ctx context.Context, assetContract string, index int) (listing.Listing, error)
	// Count returns how many records the contract has.
	Count(ctx context.Context, assetContract string) (int, error)
}

// OfferStore persists offers keyed by (asset contract, asset ID,
// offerer) and enumerates them per (asset contract, asset ID).
// Enumeration order is not stable across deletes.
type OfferStore interface {
	Allow(ctx context.Context, caller, subject string, allowed bool) error
	IsAllowed(ctx context.Context, subject string) (bool, error)

	Create(ctx context.Context, caller string, rec offer.Offer) error
	Update(ctx context.Context, caller string, rec offer.Offer) error
	Delete(ctx context.Context, caller, assetContract string, assetID uint64, offerer string) error

	Get(ctx context.Context, assetContract string, assetID uint64, offerer string) (offer.Offer, error)
	GetByIndex(ctx context.Context, assetContract string, assetID uint64, index int) (offer.Offer, error)
	Count(ctx context.Context, assetContract string, assetID uint64) (int, error)
}
