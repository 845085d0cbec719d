// Package sig implements the crypto layer: a Signer/PublicKey abstraction
// over Ed25519 and SECP256R1, deterministic public-key encoding, and
// signature length validation. This is the narrow, pluggable contract
// everything above it (chain, biscuit, authorizer) is built against -- the
// same shape as the teacher's crypto.CryptoProvider interface, generalized
// from a single hard-coded provider to a per-key algorithm tag.
package sig

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"math/big"

	"rubin.dev/biscuit/biscuiterr"
)

// Algorithm identifies a signing curve. Values match spec section 6's
// Algorithm enum exactly (wire-format stable).
type Algorithm uint32

const (
	Ed25519 Algorithm = 0
	SECP256R1 Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "Ed25519"
	case SECP256R1:
		return "SECP256R1"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint32(a))
	}
}

const (
	ed25519PubkeyBytes = 32
	secp256r1PubkeyBytes = 33 // compressed: 0x02/0x03 prefix + 32-byte X

	ed25519SigBytes = 64
	secp256r1SigMin = 68
	secp256r1SigMax = 72
)

// PublicKey is an algorithm-tagged, comparable public key. Bytes() returns
// the wire encoding spec section 6 specifies: raw 32 bytes for Ed25519,
// compressed 33 bytes for SECP256R1.
type PublicKey struct {
	Algorithm Algorithm
	ed25519Key ed25519.PublicKey
	ecdsaKey   *ecdsa.PublicKey
}

// NewPublicKey parses raw key bytes under the given algorithm, validating
// key size and (for SECP256R1) point encoding.
func NewPublicKey(alg Algorithm, key []byte) (PublicKey, error) {
	switch alg {
	case Ed25519:
		if len(key) != ed25519PubkeyBytes {
			return PublicKey{}, biscuiterr.Newf(biscuiterr.InvalidKeySize, "ed25519 public key must be %d bytes, got %d", ed25519PubkeyBytes, len(key))
		}
		k := make(ed25519.PublicKey, ed25519PubkeyBytes)
		copy(k, key)
		return PublicKey{Algorithm: Ed25519, ed25519Key: k}, nil
	case SECP256R1:
		if len(key) != secp256r1PubkeyBytes {
			return PublicKey{}, biscuiterr.Newf(biscuiterr.InvalidKeySize, "secp256r1 public key must be %d bytes, got %d", secp256r1PubkeyBytes, len(key))
		}
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), key)
		if x == nil {
			return PublicKey{}, biscuiterr.New(biscuiterr.InvalidKey, "secp256r1 public key is not a valid compressed point")
		}
		return PublicKey{Algorithm: SECP256R1, ecdsaKey: &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}}, nil
	default:
		return PublicKey{}, biscuiterr.Newf(biscuiterr.InvalidKey, "unknown algorithm %d", uint32(alg))
	}
}

// Bytes returns the wire encoding of the key.
func (p PublicKey) Bytes() []byte {
	switch p.Algorithm {
	case Ed25519:
		return append([]byte(nil), p.ed25519Key...)
	case SECP256R1:
		return elliptic.MarshalCompressed(elliptic.P256(), p.ecdsaKey.X, p.ecdsaKey.Y)
	default:
		return nil
	}
}

// Equal reports whether p and other are the same algorithm and key bytes.
func (p PublicKey) Equal(other PublicKey) bool {
	if p.Algorithm != other.Algorithm {
		return false
	}
	switch p.Algorithm {
	case Ed25519:
		return p.ed25519Key.Equal(other.ed25519Key)
	case SECP256R1:
		if p.ecdsaKey == nil || other.ecdsaKey == nil {
			return p.ecdsaKey == other.ecdsaKey
		}
		return p.ecdsaKey.Equal(other.ecdsaKey)
	default:
		return false
	}
}

// Verify checks signature over msg, validating signature length per
// spec section 6 before attempting the cryptographic check.
func (p PublicKey) Verify(msg, signature []byte) (bool, error) {
	switch p.Algorithm {
	case Ed25519:
		if len(signature) != ed25519SigBytes {
			return false, biscuiterr.Newf(biscuiterr.InvalidSignatureSize, "ed25519 signature must be %d bytes, got %d", ed25519SigBytes, len(signature))
		}
		return ed25519.Verify(p.ed25519Key, msg, signature), nil
	case SECP256R1:
		if len(signature) < secp256r1SigMin || len(signature) > secp256r1SigMax {
			return false, biscuiterr.Newf(biscuiterr.InvalidSignatureSize, "secp256r1 signature must be %d..%d bytes, got %d", secp256r1SigMin, secp256r1SigMax, len(signature))
		}
		var parsed struct {
			R, S *big.Int
		}
		if _, err := asn1.Unmarshal(signature, &parsed); err != nil {
			return false, biscuiterr.New(biscuiterr.InvalidSignature, "secp256r1 signature is not valid DER")
		}
		h := sha512.Sum512_256(msg)
		return ecdsa.Verify(p.ecdsaKey, h[:], parsed.R, parsed.S), nil
	default:
		return false, biscuiterr.Newf(biscuiterr.InvalidKey, "unknown algorithm %d", uint32(p.Algorithm))
	}
}
