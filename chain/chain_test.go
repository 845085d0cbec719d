package chain

import (
	"testing"

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

func TestNewRootAppendVerifyRoundtrip(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	next1 := genKeyPair(t, sig.Ed25519)
	token, err := NewRoot(root, []byte("authority-payload"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}

	next2 := genKeyPair(t, sig.Ed25519)
	token, err = Append(token, 3, next2, []byte("block-1-payload"))
	if err != nil {
		t.Fatal(err)
	}

	if err := Verify(token, root.Public()); err != nil {
		t.Fatalf("expected verify to succeed: %v", err)
	}
}

func TestAppendFailsAfterSeal(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	next1 := genKeyPair(t, sig.Ed25519)
	token, err := NewRoot(root, []byte("authority"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}
	token, err = Seal(token)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(token, root.Public()); err != nil {
		t.Fatalf("expected sealed token to verify: %v", err)
	}
	if _, err := Append(token, 3, genKeyPair(t, sig.Ed25519), []byte("x")); err == nil {
		t.Fatalf("expected append on a sealed token to fail")
	}
}

func TestVerifyFailsOnTamperedPayload(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	next1 := genKeyPair(t, sig.Ed25519)
	token, err := NewRoot(root, []byte("authority-payload"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}
	token.Authority.Payload = []byte("tampered-payload")
	if err := Verify(token, root.Public()); err == nil {
		t.Fatalf("expected verify to fail after tampering with the authority payload")
	}
}

func TestVerifyFailsOnWrongRootKey(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	wrongRoot := genKeyPair(t, sig.Ed25519)
	next1 := genKeyPair(t, sig.Ed25519)
	token, err := NewRoot(root, []byte("authority-payload"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(token, wrongRoot.Public()); err == nil {
		t.Fatalf("expected verify to fail against the wrong root key")
	}
}

func TestAppendThirdPartyBlockVerifies(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	next1 := genKeyPair(t, sig.Ed25519)
	token, err := NewRoot(root, []byte("authority-payload"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}

	external := genKeyPair(t, sig.Ed25519)
	next2 := genKeyPair(t, sig.Ed25519)
	token, err = AppendThirdParty(token, external, 3, next2, []byte("third-party-payload"))
	if err != nil {
		t.Fatal(err)
	}
	if token.Blocks[0].ExternalSignature == nil {
		t.Fatalf("expected an external signature on the appended block")
	}
	if token.Blocks[0].Version != 1 {
		t.Fatalf("expected version 1 forced by external signature, got %d", token.Blocks[0].Version)
	}
	if err := Verify(token, root.Public()); err != nil {
		t.Fatalf("expected third-party block to verify: %v", err)
	}
}

func TestSECP256R1ForcesSignatureVersion1(t *testing.T) {
	root := genKeyPair(t, sig.SECP256R1)
	next1 := genKeyPair(t, sig.SECP256R1)
	token, err := NewRoot(root, []byte("authority-payload"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}
	if token.Authority.Version != 1 {
		t.Fatalf("expected non-Ed25519 keys to force signature version 1, got %d", token.Authority.Version)
	}
	if err := Verify(token, root.Public()); err != nil {
		t.Fatalf("expected verify to succeed: %v", err)
	}
}

func TestRevocationIdentifiersOneEntryPerBlock(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	next1 := genKeyPair(t, sig.Ed25519)
	token, err := NewRoot(root, []byte("authority"), 3, next1)
	if err != nil {
		t.Fatal(err)
	}
	token, err = Append(token, 3, genKeyPair(t, sig.Ed25519), []byte("b1"))
	if err != nil {
		t.Fatal(err)
	}
	ids := RevocationIdentifiers(token)
	if len(ids) != 2 {
		t.Fatalf("expected 2 revocation identifiers, got %d", len(ids))
	}
}
