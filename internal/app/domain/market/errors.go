// Package market holds the shared error taxonomy and amount helpers used
// across the marketplace services. Services return these sentinels so the
// HTTP layer and callers can match on errors.Is.
package market

import "errors"

var (
	// ErrRemoteNotAllowed means the calling account holds no capability
	// grant on the component it invoked.
	ErrRemoteNotAllowed = errors.New("remote not allowed")

	// ErrNotOwner means the caller is not the owner or holder required
	// for the operation.
	ErrNotOwner = errors.New("not owner")

	// ErrNotListed means no active listing exists for the asset.
	ErrNotListed = errors.New("not listed")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyListed means an active listing already occupies the slot.
	ErrAlreadyListed = errors.New("already listed")

	// ErrSold means the listing is exhausted or the requested quantity
	// exceeds what remains.
	ErrSold = errors.New("sold")

	// ErrPriceMustBeAboveZero rejects zero or negative unit prices.
	ErrPriceMustBeAboveZero = errors.New("price must be above zero")

	// ErrPriceNotMet means the attached payment does not cover the
	// required amount.
	ErrPriceNotMet = errors.New("price not met")

	// ErrSellerCannotBuy rejects purchases and offers by the account
	// already on the selling side.
	ErrSellerCannotBuy = errors.New("seller cannot buy")

	// ErrPaused means new listings and offers are suspended.
	ErrPaused = errors.New("paused")

	// ErrNotApproved means the asset contract has not approved the
	// transmitter to move the asset.
	ErrNotApproved = errors.New("not approved")

	// ErrInsufficientBalance means the account does not hold enough
	// currency or asset units.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAuthorization means a fee authorization failed
	// signature, signer or expiry checks.
	ErrInvalidAuthorization = errors.New("invalid authorization")
)
