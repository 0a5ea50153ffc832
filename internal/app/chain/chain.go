// Package chain defines the external capabilities the marketplace relies
// on: asset contracts that can report ownership and royalties, and a
// currency ledger that moves funds between accounts. Implementations
// adapt a real chain or, for tests and standalone deployments, the
// in-process implementations in this package.
package chain

import (
	"context"
	"math/big"
)

// Standard classifies how an asset contract tracks ownership.
type Standard string

const (
	// StandardSingleOwner assets have exactly one owner per asset ID
	// and transfer whole.
	StandardSingleOwner Standard = "single-owner"
	// StandardMultiOwner assets track per-account balances and
	// transfer in arbitrary quantities.
	StandardMultiOwner Standard = "multi-owner"
)

// AssetRegistry exposes the asset contracts the marketplace trades.
type AssetRegistry interface {
	// Standard probes which ownership model the contract implements.
	Standard(ctx context.Context, contract string) (Standard, error)

	// OwnerOf returns the owner of a single-owner asset.
	OwnerOf(ctx context.Context, contract string, assetID uint64) (string, error)

	// BalanceOf returns the account's balance of a multi-owner asset.
	BalanceOf(ctx context.Context, contract string, assetID uint64, account string) (uint64, error)

	// IsApproved reports whether owner has approved operator to move
	// the asset on its behalf.
	IsApproved(ctx context.Context, contract string, assetID uint64, owner, operator string) (bool, error)

	// Transfer moves quantity units of the asset from one account to
	// another.
	Transfer(ctx context.Context, contract string, assetID, quantity uint64, from, to string) error

	// RoyaltyInfo returns the creator royalty recipient and amount for
	// a sale at the given price. Contracts without a royalty
	// declaration return an empty recipient and zero amount.
	RoyaltyInfo(ctx context.Context, contract string, assetID uint64, salePrice *big.Int) (string, *big.Int, error)
}

// CurrencyLedger moves the marketplace currency between accounts.
type CurrencyLedger interface {
	// Pay transfers amount from one account to another.
	Pay(ctx context.Context, from, to string, amount *big.Int) error

	// BalanceOf returns the account's spendable balance.
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
}
