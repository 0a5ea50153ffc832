package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of the given byte slices with
// legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// AuthorizationDigest builds the message an attestant signs to authorize
// a fee override: keccak256(signer || value as 32 bytes || expiry as 8
// bytes big-endian). The signer account is lower-cased before hashing so
// address casing does not change the digest.
func AuthorizationDigest(signer string, value *big.Int, expiry int64) []byte {
	if value == nil {
		value = new(big.Int)
	}
	var buf [32]byte
	value.FillBytes(buf[:])
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(expiry))
	return Keccak256([]byte(strings.ToLower(strings.TrimSpace(signer))), buf[:], exp[:])
}

// RecoverSigner recovers the account that produced a 65-byte compact
// secp256k1 signature over digest. The account is derived from the
// public key the way chain addresses are: the last 20 bytes of the
// keccak hash of the uncompressed key, hex encoded.
func RecoverSigner(digest, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	pub, _, err := ecdsa.RecoverCompact(signature, digest)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return PubKeyAddress(pub), nil
}

// PubKeyAddress derives the account string for a public key.
func PubKeyAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	sum := Keccak256(raw[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}
