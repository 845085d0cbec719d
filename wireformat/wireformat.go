// Package wireformat encodes and decodes the Protocol Buffers message set
// described in spec section 6: Biscuit, SignedBlock, ExternalSignature,
// PublicKey, Proof, and the inner Block message carrying a block's
// symbols/facts/rules/checks/scopes/publicKeys.
//
// Encoding uses google.golang.org/protobuf/encoding/protowire directly --
// the tag/varint/length-delimited primitives the real protobuf wire
// format is built from -- rather than a generated, reflection-based
// .pb.go stack, the same level of manual control the teacher's own
// cursor-based codecs (consensus/wire.go) operate at.
package wireformat

import (
	"google.golang.org/protobuf/encoding/protowire"

	"rubin.dev/biscuit/biscuiterr"
)

// Field numbers for the outer Biscuit message.
const (
	fieldBiscuitRootKeyID protowire.Number = 1
	fieldBiscuitAuthority protowire.Number = 2
	fieldBiscuitBlocks    protowire.Number = 3
	fieldBiscuitProof     protowire.Number = 4
)

// Field numbers for SignedBlock.
const (
	fieldSignedBlockBlock             protowire.Number = 1
	fieldSignedBlockNextKey           protowire.Number = 2
	fieldSignedBlockSignature         protowire.Number = 3
	fieldSignedBlockExternalSignature protowire.Number = 4
	fieldSignedBlockVersion           protowire.Number = 5
)

// Field numbers for ExternalSignature.
const (
	fieldExternalSignatureSignature protowire.Number = 1
	fieldExternalSignaturePublicKey protowire.Number = 2
)

// Field numbers for PublicKey.
const (
	fieldPublicKeyAlgorithm protowire.Number = 1
	fieldPublicKeyKey       protowire.Number = 2
)

// Field numbers for Proof (oneof nextSecret | finalSignature).
const (
	fieldProofNextSecret     protowire.Number = 1
	fieldProofFinalSignature protowire.Number = 2
)

// Field numbers for the inner Block message.
const (
	fieldBlockSymbols    protowire.Number = 1
	fieldBlockContext    protowire.Number = 2
	fieldBlockVersion    protowire.Number = 3
	fieldBlockFacts      protowire.Number = 4
	fieldBlockRules      protowire.Number = 5
	fieldBlockChecks     protowire.Number = 6
	fieldBlockScopes     protowire.Number = 7
	fieldBlockPublicKeys protowire.Number = 8
)

// Biscuit mirrors the top-level wire message (spec section 6).
type Biscuit struct {
	RootKeyID *uint32
	Authority SignedBlock
	Blocks    []SignedBlock
	Proof     Proof
}

// SignedBlock is one signed link in the chain (spec section 4.1/6).
type SignedBlock struct {
	Block             []byte // serialized inner Block message
	NextKey           PublicKey
	Signature         []byte
	ExternalSignature *ExternalSignature // present only on third-party blocks
	Version           uint32
}

// ExternalSignature carries a third-party block's own signature and the
// public key it was produced with (spec section 4.1).
type ExternalSignature struct {
	Signature []byte
	PublicKey PublicKey
}

// PublicKey tags a key's algorithm (spec section 4.1/6).
type PublicKey struct {
	Algorithm uint32
	Key       []byte
}

// Proof holds either the seed for a further append (NextSecret) or a
// terminal signature that proves the chain is sealed (FinalSignature);
// exactly one is ever set.
type Proof struct {
	NextSecret     []byte
	FinalSignature []byte
}

func (p Proof) IsSealed() bool { return p.FinalSignature != nil }

// EncodeBiscuit serializes b into the outer wire message.
func EncodeBiscuit(b Biscuit) []byte {
	var out []byte
	if b.RootKeyID != nil {
		out = protowire.AppendTag(out, fieldBiscuitRootKeyID, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*b.RootKeyID))
	}
	authBytes := EncodeSignedBlock(b.Authority)
	out = protowire.AppendTag(out, fieldBiscuitAuthority, protowire.BytesType)
	out = protowire.AppendBytes(out, authBytes)
	for _, blk := range b.Blocks {
		out = protowire.AppendTag(out, fieldBiscuitBlocks, protowire.BytesType)
		out = protowire.AppendBytes(out, EncodeSignedBlock(blk))
	}
	out = protowire.AppendTag(out, fieldBiscuitProof, protowire.BytesType)
	out = protowire.AppendBytes(out, encodeProof(b.Proof))
	return out
}

// DecodeBiscuit parses the output of EncodeBiscuit.
func DecodeBiscuit(data []byte) (Biscuit, error) {
	var b Biscuit
	haveAuthority := false
	haveProof := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Biscuit{}, wireErr("Biscuit", n)
		}
		data = data[n:]
		switch num {
		case fieldBiscuitRootKeyID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Biscuit{}, wireErr("Biscuit.rootKeyId", n)
			}
			id := uint32(v)
			b.RootKeyID = &id
			data = data[n:]
		case fieldBiscuitAuthority:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Biscuit{}, wireErr("Biscuit.authority", n)
			}
			sb, err := DecodeSignedBlock(v)
			if err != nil {
				return Biscuit{}, err
			}
			b.Authority = sb
			haveAuthority = true
			data = data[n:]
		case fieldBiscuitBlocks:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Biscuit{}, wireErr("Biscuit.blocks", n)
			}
			sb, err := DecodeSignedBlock(v)
			if err != nil {
				return Biscuit{}, err
			}
			b.Blocks = append(b.Blocks, sb)
			data = data[n:]
		case fieldBiscuitProof:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Biscuit{}, wireErr("Biscuit.proof", n)
			}
			p, err := decodeProof(v)
			if err != nil {
				return Biscuit{}, err
			}
			b.Proof = p
			haveProof = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Biscuit{}, wireErr("Biscuit.unknown", n)
			}
			data = data[n:]
		}
	}
	if !haveAuthority {
		return Biscuit{}, biscuiterr.New(biscuiterr.DeserializationError, "Biscuit message missing authority block")
	}
	if !haveProof {
		return Biscuit{}, biscuiterr.New(biscuiterr.DeserializationError, "Biscuit message missing proof")
	}
	return b, nil
}

func EncodeSignedBlock(sb SignedBlock) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldSignedBlockBlock, protowire.BytesType)
	out = protowire.AppendBytes(out, sb.Block)
	out = protowire.AppendTag(out, fieldSignedBlockNextKey, protowire.BytesType)
	out = protowire.AppendBytes(out, EncodePublicKey(sb.NextKey))
	out = protowire.AppendTag(out, fieldSignedBlockSignature, protowire.BytesType)
	out = protowire.AppendBytes(out, sb.Signature)
	if sb.ExternalSignature != nil {
		out = protowire.AppendTag(out, fieldSignedBlockExternalSignature, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeExternalSignature(*sb.ExternalSignature))
	}
	out = protowire.AppendTag(out, fieldSignedBlockVersion, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(sb.Version))
	return out
}

func DecodeSignedBlock(data []byte) (SignedBlock, error) {
	var sb SignedBlock
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return SignedBlock{}, wireErr("SignedBlock", n)
		}
		data = data[n:]
		switch num {
		case fieldSignedBlockBlock:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return SignedBlock{}, wireErr("SignedBlock.block", n)
			}
			sb.Block = append([]byte(nil), v...)
			data = data[n:]
		case fieldSignedBlockNextKey:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return SignedBlock{}, wireErr("SignedBlock.nextKey", n)
			}
			pk, err := DecodePublicKey(v)
			if err != nil {
				return SignedBlock{}, err
			}
			sb.NextKey = pk
			data = data[n:]
		case fieldSignedBlockSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return SignedBlock{}, wireErr("SignedBlock.signature", n)
			}
			sb.Signature = append([]byte(nil), v...)
			data = data[n:]
		case fieldSignedBlockExternalSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return SignedBlock{}, wireErr("SignedBlock.externalSignature", n)
			}
			es, err := decodeExternalSignature(v)
			if err != nil {
				return SignedBlock{}, err
			}
			sb.ExternalSignature = &es
			data = data[n:]
		case fieldSignedBlockVersion:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return SignedBlock{}, wireErr("SignedBlock.version", n)
			}
			sb.Version = uint32(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return SignedBlock{}, wireErr("SignedBlock.unknown", n)
			}
			data = data[n:]
		}
	}
	return sb, nil
}

func encodeExternalSignature(es ExternalSignature) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldExternalSignatureSignature, protowire.BytesType)
	out = protowire.AppendBytes(out, es.Signature)
	out = protowire.AppendTag(out, fieldExternalSignaturePublicKey, protowire.BytesType)
	out = protowire.AppendBytes(out, EncodePublicKey(es.PublicKey))
	return out
}

func decodeExternalSignature(data []byte) (ExternalSignature, error) {
	var es ExternalSignature
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ExternalSignature{}, wireErr("ExternalSignature", n)
		}
		data = data[n:]
		switch num {
		case fieldExternalSignatureSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ExternalSignature{}, wireErr("ExternalSignature.signature", n)
			}
			es.Signature = append([]byte(nil), v...)
			data = data[n:]
		case fieldExternalSignaturePublicKey:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ExternalSignature{}, wireErr("ExternalSignature.publicKey", n)
			}
			pk, err := DecodePublicKey(v)
			if err != nil {
				return ExternalSignature{}, err
			}
			es.PublicKey = pk
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ExternalSignature{}, wireErr("ExternalSignature.unknown", n)
			}
			data = data[n:]
		}
	}
	return es, nil
}

func EncodePublicKey(pk PublicKey) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldPublicKeyAlgorithm, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(pk.Algorithm))
	out = protowire.AppendTag(out, fieldPublicKeyKey, protowire.BytesType)
	out = protowire.AppendBytes(out, pk.Key)
	return out
}

func DecodePublicKey(data []byte) (PublicKey, error) {
	var pk PublicKey
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return PublicKey{}, wireErr("PublicKey", n)
		}
		data = data[n:]
		switch num {
		case fieldPublicKeyAlgorithm:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return PublicKey{}, wireErr("PublicKey.algorithm", n)
			}
			pk.Algorithm = uint32(v)
			data = data[n:]
		case fieldPublicKeyKey:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return PublicKey{}, wireErr("PublicKey.key", n)
			}
			pk.Key = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return PublicKey{}, wireErr("PublicKey.unknown", n)
			}
			data = data[n:]
		}
	}
	return pk, nil
}

func encodeProof(p Proof) []byte {
	var out []byte
	if p.FinalSignature != nil {
		out = protowire.AppendTag(out, fieldProofFinalSignature, protowire.BytesType)
		out = protowire.AppendBytes(out, p.FinalSignature)
		return out
	}
	out = protowire.AppendTag(out, fieldProofNextSecret, protowire.BytesType)
	out = protowire.AppendBytes(out, p.NextSecret)
	return out
}

func decodeProof(data []byte) (Proof, error) {
	var p Proof
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Proof{}, wireErr("Proof", n)
		}
		data = data[n:]
		switch num {
		case fieldProofNextSecret:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Proof{}, wireErr("Proof.nextSecret", n)
			}
			p.NextSecret = append([]byte(nil), v...)
			data = data[n:]
		case fieldProofFinalSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Proof{}, wireErr("Proof.finalSignature", n)
			}
			p.FinalSignature = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Proof{}, wireErr("Proof.unknown", n)
			}
			data = data[n:]
		}
	}
	return p, nil
}

func wireErr(where string, n int) error {
	return biscuiterr.Newf(biscuiterr.DeserializationError, "malformed wire data in %s (protowire error %d)", where, n)
}
