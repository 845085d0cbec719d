package sig

import (
	"bytes"
	"testing"
)

func TestEd25519SignVerifyRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair(Ed25519, CSPRNG, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello biscuit")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := kp.Public().Verify(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestSECP256R1SignVerifyRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair(SECP256R1, CSPRNG, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("hello biscuit")
	sigBytes, err := kp.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(sigBytes) < secp256r1SigMin || len(sigBytes) > secp256r1SigMax {
		t.Fatalf("signature length %d out of range [%d,%d]", len(sigBytes), secp256r1SigMin, secp256r1SigMax)
	}
	ok, err := kp.Public().Verify(msg, sigBytes)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestPublicKeyBytesRoundtrip(t *testing.T) {
	for _, alg := range []Algorithm{Ed25519, SECP256R1} {
		kp, err := GenerateKeyPair(alg, CSPRNG, nil)
		if err != nil {
			t.Fatal(err)
		}
		pub := kp.Public()
		parsed, err := NewPublicKey(alg, pub.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if !parsed.Equal(pub) {
			t.Fatalf("roundtrip key mismatch for %s", alg)
		}
	}
}

func TestSignatureTamperingFailsVerification(t *testing.T) {
	for _, alg := range []Algorithm{Ed25519, SECP256R1} {
		kp, err := GenerateKeyPair(alg, CSPRNG, nil)
		if err != nil {
			t.Fatal(err)
		}
		msg := []byte("attenuate me")
		sigBytes, err := kp.Sign(msg)
		if err != nil {
			t.Fatal(err)
		}
		tampered := append([]byte(nil), sigBytes...)
		tampered[0] ^= 0xff
		ok, _ := kp.Public().Verify(msg, tampered)
		if ok {
			t.Fatalf("%s: tampered signature unexpectedly verified", alg)
		}
	}
}

func TestPrivateBytesRoundtrip(t *testing.T) {
	for _, alg := range []Algorithm{Ed25519, SECP256R1} {
		kp, err := GenerateKeyPair(alg, CSPRNG, nil)
		if err != nil {
			t.Fatal(err)
		}
		priv := kp.PrivateBytes()
		restored, err := KeyPairFromPrivateBytes(alg, priv)
		if err != nil {
			t.Fatal(err)
		}
		if !restored.Public().Equal(kp.Public()) {
			t.Fatalf("%s: restored keypair has different public key", alg)
		}
		if !bytes.Equal(restored.PrivateBytes(), priv) {
			t.Fatalf("%s: private bytes not stable", alg)
		}
	}
}

func TestKeyPairFromHexString(t *testing.T) {
	kp1, err := GenerateKeyPair(Ed25519, CSPRNG, nil)
	if err != nil {
		t.Fatal(err)
	}
	hexSeed := []byte(hexEncode(kp1.PrivateBytes()))
	kp2, err := GenerateKeyPair(Ed25519, HexString, hexSeed)
	if err != nil {
		t.Fatal(err)
	}
	if !kp1.Public().Equal(kp2.Public()) {
		t.Fatalf("hex-seeded keypair differs from original")
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
