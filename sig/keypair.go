package sig

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"encoding/asn1"
	"encoding/hex"
	"io"
	"math/big"

	"rubin.dev/biscuit/biscuiterr"
)

// Signer is the abstract signing contract spec section 6 requires: produce
// a deterministic-length signature over an opaque byte payload, and expose
// the matching public key. chain.SignedBlock construction is written only
// against this interface, never against a concrete keypair type, so a
// caller-supplied HSM-backed signer works exactly like KeyPair.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	Public() PublicKey
}

// Source selects where KeyPair material comes from.
type Source int

const (
	CSPRNG Source = iota
	SeedBytes
	HexString
)

const privateKeySeedBytes = 32

// KeyPair is a concrete Signer over either curve spec section 6 names.
type KeyPair struct {
	algorithm  Algorithm
	ed25519Priv ed25519.PrivateKey
	ecdsaPriv   *ecdsa.PrivateKey
}

// GenerateKeyPair creates a new KeyPair for alg from the given source. For
// SeedBytes/HexString, the seed/hex string is the 32-byte private scalar
// (Ed25519 seed, or SECP256R1 big-endian D).
func GenerateKeyPair(alg Algorithm, source Source, material []byte) (KeyPair, error) {
	var seed []byte
	switch source {
	case CSPRNG:
		seed = make([]byte, privateKeySeedBytes)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return KeyPair{}, biscuiterr.Newf(biscuiterr.InvalidKey, "keypair: csprng read failed: %v", err)
		}
	case SeedBytes:
		if len(material) != privateKeySeedBytes {
			return KeyPair{}, biscuiterr.Newf(biscuiterr.InvalidKeySize, "keypair: seed must be %d bytes, got %d", privateKeySeedBytes, len(material))
		}
		seed = material
	case HexString:
		decoded, err := hex.DecodeString(string(material))
		if err != nil {
			return KeyPair{}, biscuiterr.Newf(biscuiterr.InvalidKey, "keypair: invalid hex seed: %v", err)
		}
		if len(decoded) != privateKeySeedBytes {
			return KeyPair{}, biscuiterr.Newf(biscuiterr.InvalidKeySize, "keypair: seed must be %d bytes, got %d", privateKeySeedBytes, len(decoded))
		}
		seed = decoded
	default:
		return KeyPair{}, biscuiterr.New(biscuiterr.InvalidKey, "keypair: unknown source")
	}

	switch alg {
	case Ed25519:
		return KeyPair{algorithm: Ed25519, ed25519Priv: ed25519.NewKeyFromSeed(seed)}, nil
	case SECP256R1:
		d := new(big.Int).SetBytes(seed)
		curve := elliptic.P256()
		priv := new(ecdsa.PrivateKey)
		priv.PublicKey.Curve = curve
		priv.D = d
		priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(seed)
		return KeyPair{algorithm: SECP256R1, ecdsaPriv: priv}, nil
	default:
		return KeyPair{}, biscuiterr.Newf(biscuiterr.InvalidKey, "keypair: unknown algorithm %d", uint32(alg))
	}
}

func (k KeyPair) Algorithm() Algorithm { return k.algorithm }

// Public returns the public half of the pair.
func (k KeyPair) Public() PublicKey {
	switch k.algorithm {
	case Ed25519:
		return PublicKey{Algorithm: Ed25519, ed25519Key: k.ed25519Priv.Public().(ed25519.PublicKey)}
	case SECP256R1:
		return PublicKey{Algorithm: SECP256R1, ecdsaKey: &k.ecdsaPriv.PublicKey}
	default:
		return PublicKey{}
	}
}

// PrivateBytes returns the raw private scalar: the Ed25519 seed, or the
// SECP256R1 big-endian D value. This is what biscuit's Proof.NextSecret
// stores across an unsealed token's lifetime.
func (k KeyPair) PrivateBytes() []byte {
	switch k.algorithm {
	case Ed25519:
		return append([]byte(nil), k.ed25519Priv.Seed()...)
	case SECP256R1:
		out := make([]byte, privateKeySeedBytes)
		k.ecdsaPriv.D.FillBytes(out)
		return out
	default:
		return nil
	}
}

// Sign produces a signature over msg: a fixed 64 bytes for Ed25519, a
// variable-length DER-encoded (r, s) pair for SECP256R1.
func (k KeyPair) Sign(msg []byte) ([]byte, error) {
	switch k.algorithm {
	case Ed25519:
		return ed25519.Sign(k.ed25519Priv, msg), nil
	case SECP256R1:
		h := sha512.Sum512_256(msg)
		r, s, err := ecdsa.Sign(rand.Reader, k.ecdsaPriv, h[:])
		if err != nil {
			return nil, biscuiterr.Newf(biscuiterr.InvalidSignature, "secp256r1 sign failed: %v", err)
		}
		der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
		if err != nil {
			return nil, biscuiterr.Newf(biscuiterr.InvalidSignature, "secp256r1 DER encode failed: %v", err)
		}
		return der, nil
	default:
		return nil, biscuiterr.Newf(biscuiterr.InvalidKey, "keypair: unknown algorithm %d", uint32(k.algorithm))
	}
}

// KeyPairFromPrivateBytes reconstructs a KeyPair from raw private bytes,
// the mirror of PrivateBytes, used when restoring an unsealed Proof's
// NextSecret from storage.
func KeyPairFromPrivateBytes(alg Algorithm, private []byte) (KeyPair, error) {
	return GenerateKeyPair(alg, SeedBytes, private)
}
