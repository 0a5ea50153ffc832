// Package testutil provides helpers shared by marketplace tests: a
// throwaway attestant key that signs fee authorizations the way the
// royalty engine verifies them.
package testutil

import (
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
)

// Attestor holds a secp256k1 key and signs fee overrides.
type Attestor struct {
	priv *secp256k1.PrivateKey
}

// NewAttestor generates a fresh key.
func NewAttestor() (*Attestor, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Attestor{priv: priv}, nil
}

// Address returns the account the engine must be configured with.
func (a *Attestor) Address() string {
	return chain.PubKeyAddress(a.priv.PubKey())
}

// SignAuthorization produces a fee override for the signer account.
func (a *Attestor) SignAuthorization(signer string, value *big.Int, expiry int64) royalty.Authorization {
	digest := chain.AuthorizationDigest(signer, value, expiry)
	sig := ecdsa.SignCompact(a.priv, digest, false)
	return royalty.Authorization{
		Signer:    signer,
		Signature: sig,
		Value:     value,
		Expiry:    expiry,
	}
}
