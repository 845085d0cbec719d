package biscuit

import (
	"testing"

	"rubin.dev/biscuit/biscuiterr"
	"rubin.dev/biscuit/datalog"
	"rubin.dev/biscuit/sig"
)

func genKeyPair(t *testing.T, alg sig.Algorithm) sig.KeyPair {
	t.Helper()
	kp, err := sig.GenerateKeyPair(alg, sig.CSPRNG, nil)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func newTestToken(t *testing.T) (Token, sig.KeyPair) {
	t.Helper()
	root := genKeyPair(t, sig.Ed25519)
	bb := NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("resource1")), datalog.String(bb.Intern("read")))
	authority := bb.Build()

	next := genKeyPair(t, sig.Ed25519)
	tok, err := New(root, authority, next)
	if err != nil {
		t.Fatal(err)
	}
	return tok, root
}

func TestNewTokenVerifies(t *testing.T) {
	tok, root := newTestToken(t)
	if err := Verify(tok, root.Public()); err != nil {
		t.Fatalf("expected fresh token to verify: %v", err)
	}
}

func TestAppendPreservesVerification(t *testing.T) {
	tok, root := newTestToken(t)

	bb := NextBlockBuilder(tok)
	bb.Fact("check1", datalog.String(bb.Intern("caveat")))
	block := bb.Build()

	next := genKeyPair(t, sig.Ed25519)
	tok, err := Append(tok, next, block)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(tok, root.Public()); err != nil {
		t.Fatalf("expected attenuated token to verify: %v", err)
	}
	if len(tok.Blocks()) != 1 {
		t.Fatalf("expected 1 attenuation block, got %d", len(tok.Blocks()))
	}
}

func TestSealPreservesVerification(t *testing.T) {
	tok, root := newTestToken(t)
	tok, err := Seal(tok)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(tok, root.Public()); err != nil {
		t.Fatalf("expected sealed token to verify: %v", err)
	}
	if _, err := Append(tok, genKeyPair(t, sig.Ed25519), BlockContents{Symbols: NewBlockBuilder(tok.symbols.NextBase()).intern.table}); err == nil {
		t.Fatalf("expected append on sealed token to fail")
	}
}

func TestToBytesFromBytesRoundtrip(t *testing.T) {
	tok, root := newTestToken(t)

	bb := NextBlockBuilder(tok)
	bb.Fact("check1", datalog.String(bb.Intern("caveat")))
	block := bb.Build()
	next := genKeyPair(t, sig.Ed25519)
	tok, err := Append(tok, next, block)
	if err != nil {
		t.Fatal(err)
	}

	data, err := ToBytes(tok)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(data, sig.Ed25519)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(got, root.Public()); err != nil {
		t.Fatalf("expected roundtripped token to verify: %v", err)
	}
	if len(got.Blocks()) != 1 {
		t.Fatalf("expected 1 attenuation block after roundtrip, got %d", len(got.Blocks()))
	}
	if len(got.Authority().Facts) != 1 {
		t.Fatalf("expected authority facts to survive roundtrip, got %d", len(got.Authority().Facts))
	}
}

func TestToBase64URLFromBase64URLRoundtrip(t *testing.T) {
	tok, root := newTestToken(t)
	s, err := ToBase64URL(tok)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBase64URL(s, sig.Ed25519)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(got, root.Public()); err != nil {
		t.Fatalf("expected roundtripped token to verify: %v", err)
	}
}

func TestRevocationIdentifiersSurviveRoundtrip(t *testing.T) {
	tok, _ := newTestToken(t)
	next := genKeyPair(t, sig.Ed25519)
	bb := NextBlockBuilder(tok)
	block := bb.Build()
	tok, err := Append(tok, next, block)
	if err != nil {
		t.Fatal(err)
	}
	before := RevocationIdentifierHex(tok)

	data, err := ToBytes(tok)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(data, sig.Ed25519)
	if err != nil {
		t.Fatal(err)
	}
	after := RevocationIdentifierHex(got)
	if len(before) != len(after) {
		t.Fatalf("revocation identifier count mismatch: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("revocation identifier %d mismatch: %s vs %s", i, before[i], after[i])
		}
	}
}

// TestThirdPartyBlockExtendsSymbolChain checks that a third-party block's
// new symbols join the token's outer chain exactly like an ordinary
// attenuation block would: a predicate name it declares first (e.g.
// "thirdparty_fact") must intern to the same id afterward from a later
// block's builder, or nothing could ever unify a rule against one of its
// facts. What actually sets a third-party block apart -- whether its
// facts are *trusted* by a rule with no explicit "trusting" scope -- is
// covered by the authorizer package's third-party scenario tests, since
// that requires running the solver, not just comparing symbol ids.
func TestThirdPartyBlockExtendsSymbolChain(t *testing.T) {
	tok, root := newTestToken(t)
	external := genKeyPair(t, sig.Ed25519)

	baseBefore := tok.symbols.NextBase()
	bb := NewBlockBuilder(baseBefore)
	factName := bb.Intern("thirdparty_fact")
	bb.Fact("thirdparty_fact", datalog.String(bb.Intern("external_value")))
	block := bb.Build()

	next := genKeyPair(t, sig.Ed25519)
	tok, err := AppendThirdParty(tok, external, next, block)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(tok, root.Public()); err != nil {
		t.Fatalf("expected third-party attenuated token to verify: %v", err)
	}
	if tok.symbols.NextBase() == baseBefore {
		t.Fatalf("expected third-party block's new symbols to extend the outer chain: base stayed at %d", baseBefore)
	}

	later := NextBlockBuilder(tok)
	if got := later.Intern("thirdparty_fact"); got != factName {
		t.Fatalf("expected \"thirdparty_fact\" to reintern to %d (the id the third-party block assigned it), got %d", factName, got)
	}
}

func TestFromBytesWithKeyDelegate(t *testing.T) {
	tok, root := newTestToken(t)
	tok = WithRootKeyID(tok, 1)
	data, err := ToBytes(tok)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("delegate has no key for the hint", func(t *testing.T) {
		_, err := FromBytesWithKeyDelegate(data, sig.Ed25519, func(keyID uint32) (sig.PublicKey, bool) {
			return sig.PublicKey{}, false
		})
		berr, ok := err.(*biscuiterr.Error)
		if !ok || berr.Code != biscuiterr.InvalidKey {
			t.Fatalf("expected InvalidKey, got %v", err)
		}
	})

	t.Run("delegate returns the wrong key", func(t *testing.T) {
		wrong := genKeyPair(t, sig.Ed25519)
		_, err := FromBytesWithKeyDelegate(data, sig.Ed25519, func(keyID uint32) (sig.PublicKey, bool) {
			return wrong.Public(), true
		})
		berr, ok := err.(*biscuiterr.Error)
		if !ok || berr.Code != biscuiterr.InvalidSignature {
			t.Fatalf("expected InvalidSignature, got %v", err)
		}
	})

	t.Run("delegate returns the correct key", func(t *testing.T) {
		got, err := FromBytesWithKeyDelegate(data, sig.Ed25519, func(keyID uint32) (sig.PublicKey, bool) {
			if keyID != 1 {
				t.Fatalf("expected delegate called with root_key_id 1, got %d", keyID)
			}
			return root.Public(), true
		})
		if err != nil {
			t.Fatalf("expected the correct key to verify: %v", err)
		}
		if len(got.Authority().Facts) != 1 {
			t.Fatalf("expected authority facts to survive, got %d", len(got.Authority().Facts))
		}
	})
}
