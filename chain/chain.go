// Package chain implements the signed block chain described in spec
// section 4.1: an append-only sequence of payload+nextKey+signature
// tuples, versioned signature payload encodings, optional third-party
// (externally signed) blocks, and a sealing proof.
package chain

import (
	"encoding/binary"

	"rubin.dev/biscuit/biscuiterr"
	"rubin.dev/biscuit/sig"
)

// datalogSchemaV3_3 is the Datalog schema version threshold the version
// selection rule compares a block's declared schema version against
// (spec 4.1: "the block declares Datalog schema >= 3.3"). The wire
// Block.Version field encodes schema versions as major*10+minor, so 3.3
// is 33; this encoding is an implementation choice, not specified by the
// source material, and is recorded as such in the project's design notes.
const datalogSchemaV3_3 uint32 = 33

// ExternalSignature is a third-party block's own signature over its
// payload, alongside the public key it was produced with (spec 4.1/4.6).
type ExternalSignature struct {
	Signature []byte
	PublicKey sig.PublicKey
}

// SignedBlock is one link of the chain: a serialized payload (the wire
// Block message), the public key that will sign the next block, this
// block's own signature, and -- only for third-party blocks -- an
// ExternalSignature.
type SignedBlock struct {
	Payload           []byte
	NextKey           sig.PublicKey
	Signature         []byte
	ExternalSignature *ExternalSignature
	Version           uint32
}

// Proof is either the keypair the token holder needs to append a further
// block (NextSecret, unsealed) or a terminal signature proving the chain
// is closed (FinalSignature, sealed). Exactly one is ever populated.
type Proof struct {
	NextSecret     *sig.KeyPair
	FinalSignature []byte
}

func (p Proof) Sealed() bool { return p.FinalSignature != nil }

// Token is the full signed chain (spec section 3): an optional root-key
// hint, the authority block, the ordered attenuation blocks, and a Proof.
type Token struct {
	RootKeyID *uint32
	Authority SignedBlock
	Blocks    []SignedBlock
	Proof     Proof
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// selectVersion implements spec 4.1's version selection rule, in order:
// an external signature, or a Datalog schema >= 3.3, or a non-Ed25519
// signing/next key forces version 1; otherwise the chain stays at the
// maximum version used by prior blocks (0 if none).
func selectVersion(hasExternalSig bool, blockSchemaVersion uint32, signingAlg, nextKeyAlg sig.Algorithm, maxPriorVersion uint32) uint32 {
	if hasExternalSig {
		return 1
	}
	if blockSchemaVersion >= datalogSchemaV3_3 {
		return 1
	}
	if signingAlg != sig.Ed25519 || nextKeyAlg != sig.Ed25519 {
		return 1
	}
	return maxPriorVersion
}

// signaturePayload builds the bytes actually signed/verified for a block,
// per spec 4.1's version table.
func signaturePayload(version uint32, payload []byte, externalSig []byte, algorithm sig.Algorithm, nextKey []byte, prevSig []byte) []byte {
	if version == 0 {
		var out []byte
		out = append(out, payload...)
		out = append(out, externalSig...)
		out = append(out, le32(uint32(algorithm))...)
		out = append(out, nextKey...)
		return out
	}
	var out []byte
	out = append(out, "\x00BLOCK\x00\x00VERSION\x00"...)
	out = append(out, le32(version)...)
	out = append(out, "\x00PAYLOAD\x00"...)
	out = append(out, payload...)
	out = append(out, "\x00ALGORITHM\x00"...)
	out = append(out, le32(uint32(algorithm))...)
	out = append(out, "\x00NEXTKEY\x00"...)
	out = append(out, nextKey...)
	if prevSig != nil {
		out = append(out, "\x00PREVSIG\x00"...)
		out = append(out, prevSig...)
	}
	if externalSig != nil {
		out = append(out, "\x00EXTERNALSIG\x00"...)
		out = append(out, externalSig...)
	}
	return out
}

// externalSignaturePayload builds the bytes a third-party signer signs
// over, binding the block payload to its position in the chain (spec
// 4.1/4.6).
func externalSignaturePayload(version uint32, payload []byte, algorithm sig.Algorithm, previousKey []byte, previousSignature []byte) []byte {
	if version == 0 {
		var out []byte
		out = append(out, payload...)
		out = append(out, le32(uint32(algorithm))...)
		out = append(out, previousKey...)
		return out
	}
	var out []byte
	out = append(out, "\x00EXTERNAL\x00\x00VERSION\x00"...)
	out = append(out, le32(version)...)
	out = append(out, "\x00PAYLOAD\x00"...)
	out = append(out, payload...)
	out = append(out, "\x00PREVSIG\x00"...)
	out = append(out, previousSignature...)
	return out
}

// sealingPayload builds spec 4.1's v0 sealing payload.
func sealingPayload(last SignedBlock) []byte {
	var out []byte
	out = append(out, last.Payload...)
	out = append(out, le32(uint32(last.NextKey.Algorithm))...)
	out = append(out, last.NextKey.Bytes()...)
	out = append(out, last.Signature...)
	return out
}

// NewRoot starts a chain: rootSigner produces the authority block's
// signature, next becomes the key that must sign the first appended
// block.
func NewRoot(rootSigner sig.Signer, authorityPayload []byte, blockSchemaVersion uint32, next sig.KeyPair) (Token, error) {
	version := selectVersion(false, blockSchemaVersion, rootSigner.Public().Algorithm, next.Algorithm(), 0)
	payload := signaturePayload(version, authorityPayload, nil, next.Algorithm(), next.Public().Bytes(), nil)
	signature, err := rootSigner.Sign(payload)
	if err != nil {
		return Token{}, biscuiterr.Newf(biscuiterr.InvalidSignature, "signing authority block: %v", err)
	}
	nextCopy := next
	return Token{
		Authority: SignedBlock{
			Payload:   authorityPayload,
			NextKey:   next.Public(),
			Signature: signature,
			Version:   version,
		},
		Proof: Proof{NextSecret: &nextCopy},
	}, nil
}

// lastBlock returns the most recently appended block, or the authority
// block if no attenuation blocks exist yet.
func (t Token) lastBlock() SignedBlock {
	if len(t.Blocks) == 0 {
		return t.Authority
	}
	return t.Blocks[len(t.Blocks)-1]
}

func (t Token) maxVersion() uint32 {
	v := t.Authority.Version
	for _, b := range t.Blocks {
		if b.Version > v {
			v = b.Version
		}
	}
	return v
}

// Append attaches a new block to an unsealed token, signed by the token's
// held secret; next becomes the key that must sign the following block.
func Append(t Token, blockSchemaVersion uint32, next sig.KeyPair, payload []byte) (Token, error) {
	if t.Proof.Sealed() {
		return Token{}, biscuiterr.New(biscuiterr.Sealed, "cannot append to a sealed token")
	}
	signer := t.Proof.NextSecret
	last := t.lastBlock()
	version := selectVersion(false, blockSchemaVersion, signer.Algorithm(), next.Algorithm(), t.maxVersion())
	sigPayload := signaturePayload(version, payload, nil, next.Algorithm(), next.Public().Bytes(), last.Signature)
	signature, err := signer.Sign(sigPayload)
	if err != nil {
		return Token{}, biscuiterr.Newf(biscuiterr.InvalidSignature, "signing block: %v", err)
	}
	nextCopy := next
	out := t
	out.Blocks = append(append([]SignedBlock(nil), t.Blocks...), SignedBlock{
		Payload:   payload,
		NextKey:   next.Public(),
		Signature: signature,
		Version:   version,
	})
	out.Proof = Proof{NextSecret: &nextCopy}
	return out, nil
}

// AppendThirdParty attaches a block signed by both the token's own
// secret (the outer signature) and an external signer whose signature is
// bound to the previous block's key (spec 4.6).
func AppendThirdParty(t Token, external sig.Signer, blockSchemaVersion uint32, next sig.KeyPair, payload []byte) (Token, error) {
	if t.Proof.Sealed() {
		return Token{}, biscuiterr.New(biscuiterr.Sealed, "cannot append to a sealed token")
	}
	signer := t.Proof.NextSecret
	last := t.lastBlock()
	version := selectVersion(true, blockSchemaVersion, signer.Algorithm(), next.Algorithm(), t.maxVersion())

	extPayload := externalSignaturePayload(version, payload, last.NextKey.Algorithm, last.NextKey.Bytes(), last.Signature)
	extSigBytes, err := external.Sign(extPayload)
	if err != nil {
		return Token{}, biscuiterr.Newf(biscuiterr.InvalidSignature, "signing third-party block: %v", err)
	}
	ext := &ExternalSignature{Signature: extSigBytes, PublicKey: external.Public()}

	sigPayload := signaturePayload(version, payload, extSigBytes, next.Algorithm(), next.Public().Bytes(), last.Signature)
	signature, err := signer.Sign(sigPayload)
	if err != nil {
		return Token{}, biscuiterr.Newf(biscuiterr.InvalidSignature, "signing block: %v", err)
	}
	nextCopy := next
	out := t
	out.Blocks = append(append([]SignedBlock(nil), t.Blocks...), SignedBlock{
		Payload:           payload,
		NextKey:           next.Public(),
		Signature:         signature,
		ExternalSignature: ext,
		Version:           version,
	})
	out.Proof = Proof{NextSecret: &nextCopy}
	return out, nil
}

// Seal closes the chain: no further blocks may be appended, and the
// final current key signs the sealing payload instead of exposing a
// further appendable secret.
func Seal(t Token) (Token, error) {
	if t.Proof.Sealed() {
		return Token{}, biscuiterr.New(biscuiterr.Sealed, "token is already sealed")
	}
	last := t.lastBlock()
	signature, err := t.Proof.NextSecret.Sign(sealingPayload(last))
	if err != nil {
		return Token{}, biscuiterr.Newf(biscuiterr.InvalidSignature, "signing seal: %v", err)
	}
	out := t
	out.Proof = Proof{FinalSignature: signature}
	return out, nil
}

// Verify walks the chain from root, checking every block's signature and
// (for sealed tokens) the final seal, or (for unsealed tokens) that the
// held proof's public key matches the chain's final key (spec 4.1).
func Verify(t Token, root sig.PublicKey) error {
	current := root
	var prevSig []byte

	verifyOne := func(b SignedBlock) error {
		var externalBytes []byte
		if b.ExternalSignature != nil {
			externalBytes = b.ExternalSignature.Signature
		}
		payload := signaturePayload(b.Version, b.Payload, externalBytes, b.NextKey.Algorithm, b.NextKey.Bytes(), prevSig)
		ok, err := current.Verify(payload, b.Signature)
		if err != nil {
			return biscuiterr.Newf(biscuiterr.InvalidSignature, "verifying block signature: %v", err)
		}
		if !ok {
			return biscuiterr.New(biscuiterr.InvalidSignature, "block signature does not verify against the expected key")
		}
		if b.ExternalSignature != nil {
			extPayload := externalSignaturePayload(b.Version, b.Payload, current.Algorithm, current.Bytes(), prevSig)
			ok, err := b.ExternalSignature.PublicKey.Verify(extPayload, b.ExternalSignature.Signature)
			if err != nil {
				return biscuiterr.Newf(biscuiterr.InvalidSignature, "verifying external signature: %v", err)
			}
			if !ok {
				return biscuiterr.New(biscuiterr.InvalidSignature, "external signature does not verify")
			}
		}
		return nil
	}

	if err := verifyOne(t.Authority); err != nil {
		return err
	}
	current = t.Authority.NextKey
	prevSig = t.Authority.Signature

	for _, b := range t.Blocks {
		if err := verifyOne(b); err != nil {
			return err
		}
		current = b.NextKey
		prevSig = b.Signature
	}

	if t.Proof.Sealed() {
		ok, err := current.Verify(sealingPayload(t.lastBlock()), t.Proof.FinalSignature)
		if err != nil {
			return biscuiterr.Newf(biscuiterr.InvalidSignature, "verifying seal: %v", err)
		}
		if !ok {
			return biscuiterr.New(biscuiterr.InvalidSignature, "seal signature does not verify")
		}
		return nil
	}

	if t.Proof.NextSecret == nil {
		return biscuiterr.New(biscuiterr.InvalidFormat, "unsealed token has no proof secret")
	}
	if !t.Proof.NextSecret.Public().Equal(current) {
		return biscuiterr.New(biscuiterr.InvalidFormat, "proof key does not match the chain's final key")
	}
	return nil
}

// RevocationIdentifiers returns the raw signature bytes of every block,
// authority first, in chain order (spec "External Interfaces": these
// bytes serve as per-block revocation identifiers).
func RevocationIdentifiers(t Token) [][]byte {
	out := make([][]byte, 0, len(t.Blocks)+1)
	out = append(out, append([]byte(nil), t.Authority.Signature...))
	for _, b := range t.Blocks {
		out = append(out, append([]byte(nil), b.Signature...))
	}
	return out
}
