// Package biscuit assembles the pieces in sig, symbol, datalog,
// wireformat, and chain into the public Token type and its lifecycle
// operations (spec section 3/4.7/4.8): building a root token, attenuating
// it, serializing it to bytes or a URL-safe string, and extracting
// revocation identifiers.
package biscuit

import (
	"encoding/base64"

	"rubin.dev/biscuit/biscuiterr"
	"rubin.dev/biscuit/chain"
	"rubin.dev/biscuit/datalog"
	"rubin.dev/biscuit/sig"
	"rubin.dev/biscuit/symbol"
	"rubin.dev/biscuit/wireformat"
)

// BlockContents is the parsed, in-memory shape of one block: the local
// symbol table it declares plus its facts/rules/checks/scopes, and the
// key table of public keys its scopes and rules reference.
type BlockContents struct {
	Symbols *symbol.Table
	Context *string
	Facts   []datalog.Fact
	Rules   []datalog.Rule
	Checks  []datalog.Check
	Scopes  []datalog.Scope
	Keys    *symbol.KeyTable
}

// Block is a decoded chain link: its contents plus the chain-level
// SignedBlock it was wrapped in.
type Block struct {
	Contents BlockContents
	Signed   chain.SignedBlock
}

// schemaVersion is the Datalog schema version this implementation writes
// into every block (spec 4.1 compares it against the 3.3 threshold to
// pick a signature-payload version).
const schemaVersion uint32 = 4

// Token is the assembled, holdable credential: the signed chain plus the
// decoded contents of every block (each with its own key table), and the
// chain-wide symbol table.
type Token struct {
	chainToken chain.Token
	authority  BlockContents
	blocks     []BlockContents
	symbols    *symbol.Chain
}

func blockToWire(bc BlockContents) wireformat.Block {
	var pubKeys []wireformat.PublicKey
	if bc.Keys != nil {
		for _, k := range bc.Keys.Keys() {
			pubKeys = append(pubKeys, wireformat.PublicKey{Algorithm: uint32(k.Algorithm), Key: k.Bytes()})
		}
	}
	return wireformat.Block{
		Symbols:    bc.Symbols.Strings(),
		Context:    bc.Context,
		Version:    schemaVersion,
		Facts:      bc.Facts,
		Rules:      bc.Rules,
		Checks:     bc.Checks,
		Scopes:     bc.Scopes,
		PublicKeys: pubKeys,
	}
}

func wireToBlock(w wireformat.Block, base uint64) (BlockContents, error) {
	tbl := symbol.NewTable(base)
	for _, s := range w.Symbols {
		if _, err := tbl.Insert(s); err != nil {
			return BlockContents{}, err
		}
	}
	kt := symbol.NewKeyTable()
	for _, pk := range w.PublicKeys {
		k, err := sig.NewPublicKey(sig.Algorithm(pk.Algorithm), pk.Key)
		if err != nil {
			return BlockContents{}, err
		}
		kt.Insert(k)
	}
	return BlockContents{
		Symbols: tbl,
		Context: w.Context,
		Facts:   w.Facts,
		Rules:   w.Rules,
		Checks:  w.Checks,
		Scopes:  w.Scopes,
		Keys:    kt,
	}, nil
}

// New assembles a fresh token around an authority block, signed by
// rootSigner; next is the key that must sign the first appended block.
func New(rootSigner sig.Signer, authority BlockContents, next sig.KeyPair) (Token, error) {
	payload := wireformat.EncodeBlock(blockToWire(authority))
	ct, err := chain.NewRoot(rootSigner, payload, schemaVersion, next)
	if err != nil {
		return Token{}, err
	}
	c := symbol.NewChain()
	if err := c.Append(authority.Symbols); err != nil {
		return Token{}, err
	}
	return Token{
		chainToken: ct,
		authority:  authority,
		symbols:    c,
	}, nil
}

// Append attenuates t with a new block signed by t's held secret.
func Append(t Token, next sig.KeyPair, block BlockContents) (Token, error) {
	payload := wireformat.EncodeBlock(blockToWire(block))
	ct, err := chain.Append(t.chainToken, schemaVersion, next, payload)
	if err != nil {
		return Token{}, err
	}
	out := t
	out.chainToken = ct
	out.blocks = append(append([]BlockContents(nil), t.blocks...), block)
	if err := out.symbols.Append(block.Symbols); err != nil {
		return Token{}, err
	}
	return out, nil
}

// AppendThirdParty attenuates t with a block co-signed by an external
// key. Its symbol table extends the outer chain exactly like an
// ordinary attenuation block -- a predicate name such as "group" must
// resolve to the same id whichever block declared it first, or rules in
// one block could never unify against facts from another. What sets a
// third-party block apart is trust, not naming: a rule outside it sees
// its facts only through an explicit `trusting <its key>` scope or, in a
// later block, a `trusting previous` scope (the default trusted-origin
// set is only the authority block, the rule's own block and the
// authorizer).
func AppendThirdParty(t Token, external sig.Signer, next sig.KeyPair, block BlockContents) (Token, error) {
	payload := wireformat.EncodeBlock(blockToWire(block))
	ct, err := chain.AppendThirdParty(t.chainToken, external, schemaVersion, next, payload)
	if err != nil {
		return Token{}, err
	}
	out := t
	out.chainToken = ct
	out.blocks = append(append([]BlockContents(nil), t.blocks...), block)
	if err := out.symbols.Append(block.Symbols); err != nil {
		return Token{}, err
	}
	return out, nil
}

// Seal closes the token to further attenuation.
func Seal(t Token) (Token, error) {
	ct, err := chain.Seal(t.chainToken)
	if err != nil {
		return Token{}, err
	}
	out := t
	out.chainToken = ct
	return out, nil
}

// Verify checks every block signature and the chain's terminal proof
// against root (spec 4.1).
func Verify(t Token, root sig.PublicKey) error {
	return chain.Verify(t.chainToken, root)
}

// Authority returns the token's authority block contents.
func (t Token) Authority() BlockContents { return t.authority }

// Blocks returns the token's attenuation blocks in chain order.
func (t Token) Blocks() []BlockContents { return append([]BlockContents(nil), t.blocks...) }

// Symbols returns the token's effective symbol chain.
func (t Token) Symbols() *symbol.Chain { return t.symbols }

// ExternalSigner returns the external signing key of attenuation block i
// (0-based, matching the order Blocks() returns), and false if that
// block carries no external signature (an ordinary, non-third-party
// attenuation block).
func (t Token) ExternalSigner(i int) (sig.PublicKey, bool) {
	if i < 0 || i >= len(t.chainToken.Blocks) {
		return sig.PublicKey{}, false
	}
	es := t.chainToken.Blocks[i].ExternalSignature
	if es == nil {
		return sig.PublicKey{}, false
	}
	return es.PublicKey, true
}

// WithRootKeyID attaches a root_key_id hint to t (spec 4.1/6's optional
// field), letting a verifier holding several candidate root keys pick
// the right one through a KeyDelegate instead of being told out of band
// (spec.md section 8 scenario 7).
func WithRootKeyID(t Token, keyID uint32) Token {
	out := t
	out.chainToken.RootKeyID = &keyID
	return out
}

// RootKeyID returns t's root_key_id hint, if it carries one.
func (t Token) RootKeyID() (uint32, bool) {
	if t.chainToken.RootKeyID == nil {
		return 0, false
	}
	return *t.chainToken.RootKeyID, true
}

// KeyDelegate resolves a root_key_id hint to the public key that should
// verify a token's authority block.
type KeyDelegate func(keyID uint32) (sig.PublicKey, bool)

// FromBytesWithKeyDelegate decodes data exactly like FromBytes, then
// resolves the embedded root_key_id hint through delegate and verifies
// the decoded token against the resolved key in one step. It reports
// InvalidKey when the token carries no root_key_id hint or delegate
// can't resolve it, and otherwise returns whatever Verify itself raises
// (InvalidSignature on a key/signature mismatch).
func FromBytesWithKeyDelegate(data []byte, algorithm sig.Algorithm, delegate KeyDelegate) (Token, error) {
	t, err := FromBytes(data, algorithm)
	if err != nil {
		return Token{}, err
	}
	keyID, ok := t.RootKeyID()
	if !ok {
		return Token{}, biscuiterr.New(biscuiterr.InvalidKey, "token carries no root_key_id hint")
	}
	root, ok := delegate(keyID)
	if !ok {
		return Token{}, biscuiterr.Newf(biscuiterr.InvalidKey, "key delegate has no key for root_key_id %d", keyID)
	}
	if err := Verify(t, root); err != nil {
		return Token{}, err
	}
	return t, nil
}

// RevocationIdentifiers returns the raw signature bytes of every block,
// authority first (spec "External Interfaces").
func RevocationIdentifiers(t Token) [][]byte {
	return chain.RevocationIdentifiers(t.chainToken)
}

// RevocationIdentifierHex renders RevocationIdentifiers as lowercase hex
// strings, for fixture-tooling logging (not a revocation lookup service).
func RevocationIdentifierHex(t Token) []string {
	ids := RevocationIdentifiers(t)
	out := make([]string, len(ids))
	const hexdigits = "0123456789abcdef"
	for i, id := range ids {
		b := make([]byte, len(id)*2)
		for j, c := range id {
			b[j*2] = hexdigits[c>>4]
			b[j*2+1] = hexdigits[c&0xf]
		}
		out[i] = string(b)
	}
	return out
}

// ToBytes serializes t to its wire Biscuit message (spec section 6).
func ToBytes(t Token) ([]byte, error) {
	wb := wireformat.Biscuit{
		RootKeyID: t.chainToken.RootKeyID,
		Authority: toWireSignedBlock(t.chainToken.Authority),
		Proof:     toWireProof(t.chainToken.Proof),
	}
	for _, b := range t.chainToken.Blocks {
		wb.Blocks = append(wb.Blocks, toWireSignedBlock(b))
	}
	return wireformat.EncodeBiscuit(wb), nil
}

func toWireSignedBlock(b chain.SignedBlock) wireformat.SignedBlock {
	out := wireformat.SignedBlock{
		Block:     b.Payload,
		NextKey:   wireformat.PublicKey{Algorithm: uint32(b.NextKey.Algorithm), Key: b.NextKey.Bytes()},
		Signature: b.Signature,
		Version:   b.Version,
	}
	if b.ExternalSignature != nil {
		out.ExternalSignature = &wireformat.ExternalSignature{
			Signature: b.ExternalSignature.Signature,
			PublicKey: wireformat.PublicKey{
				Algorithm: uint32(b.ExternalSignature.PublicKey.Algorithm),
				Key:       b.ExternalSignature.PublicKey.Bytes(),
			},
		}
	}
	return out
}

func toWireProof(p chain.Proof) wireformat.Proof {
	if p.Sealed() {
		return wireformat.Proof{FinalSignature: p.FinalSignature}
	}
	return wireformat.Proof{NextSecret: p.NextSecret.PrivateBytes()}
}

// FromBytes parses a wire Biscuit message into a Token, rebuilding each
// block's decoded contents and the effective symbol chain. algorithm
// identifies which curve the embedded Proof.NextSecret (when present)
// should be interpreted under, since the wire format itself does not
// tag the proof's algorithm separately from its owning block's next key.
func FromBytes(data []byte, algorithm sig.Algorithm) (Token, error) {
	wb, err := wireformat.DecodeBiscuit(data)
	if err != nil {
		return Token{}, err
	}

	authWire, err := wireformat.DecodeBlock(wb.Authority.Block)
	if err != nil {
		return Token{}, err
	}
	authContents, err := wireToBlock(authWire, symbol.DefaultOffset)
	if err != nil {
		return Token{}, err
	}

	c := symbol.NewChain()
	if err := c.Append(authContents.Symbols); err != nil {
		return Token{}, err
	}

	authSigned, err := fromWireSignedBlock(wb.Authority)
	if err != nil {
		return Token{}, err
	}
	ct := chain.Token{
		RootKeyID: wb.RootKeyID,
		Authority: authSigned,
	}

	var blocks []BlockContents
	for _, sb := range wb.Blocks {
		w, err := wireformat.DecodeBlock(sb.Block)
		if err != nil {
			return Token{}, err
		}
		bc, err := wireToBlock(w, c.NextBase())
		if err != nil {
			return Token{}, err
		}
		if err := c.Append(bc.Symbols); err != nil {
			return Token{}, err
		}
		blocks = append(blocks, bc)
		signed, err := fromWireSignedBlock(sb)
		if err != nil {
			return Token{}, err
		}
		ct.Blocks = append(ct.Blocks, signed)
	}

	if wb.Proof.FinalSignature != nil {
		ct.Proof = chain.Proof{FinalSignature: wb.Proof.FinalSignature}
	} else {
		kp, err := sig.KeyPairFromPrivateBytes(algorithm, wb.Proof.NextSecret)
		if err != nil {
			return Token{}, err
		}
		ct.Proof = chain.Proof{NextSecret: &kp}
	}

	return Token{
		chainToken: ct,
		authority:  authContents,
		blocks:     blocks,
		symbols:    c,
	}, nil
}

func fromWireSignedBlock(sb wireformat.SignedBlock) (chain.SignedBlock, error) {
	out := chain.SignedBlock{
		Payload:   sb.Block,
		Signature: sb.Signature,
		Version:   sb.Version,
	}
	nextKey, err := sig.NewPublicKey(sig.Algorithm(sb.NextKey.Algorithm), sb.NextKey.Key)
	if err != nil {
		return chain.SignedBlock{}, err
	}
	out.NextKey = nextKey
	if sb.ExternalSignature != nil {
		pk, err := sig.NewPublicKey(sig.Algorithm(sb.ExternalSignature.PublicKey.Algorithm), sb.ExternalSignature.PublicKey.Key)
		if err != nil {
			return chain.SignedBlock{}, err
		}
		out.ExternalSignature = &chain.ExternalSignature{
			Signature: sb.ExternalSignature.Signature,
			PublicKey: pk,
		}
	}
	return out, nil
}

// ToBase64URL renders ToBytes as unpadded URL-safe base64, the
// conventional bearer-token transport encoding (spec section 6).
func ToBase64URL(t Token) (string, error) {
	b, err := ToBytes(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// FromBase64URL is the inverse of ToBase64URL.
func FromBase64URL(s string, algorithm sig.Algorithm) (Token, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, biscuiterr.Newf(biscuiterr.DeserializationError, "invalid base64: %v", err)
	}
	return FromBytes(b, algorithm)
}
