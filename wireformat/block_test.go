package wireformat

import (
	"testing"

	"rubin.dev/biscuit/datalog"
)

func termRoundtrip(t *testing.T, term datalog.Term) datalog.Term {
	t.Helper()
	got, err := decodeTerm(encodeTerm(term))
	if err != nil {
		t.Fatalf("roundtrip error for %+v: %v", term, err)
	}
	if !got.Equal(term) {
		t.Fatalf("roundtrip mismatch: sent %+v got %+v", term, got)
	}
	return got
}

func TestTermRoundtripAllPrimitiveKinds(t *testing.T) {
	termRoundtrip(t, datalog.Integer(-42))
	termRoundtrip(t, datalog.Integer(42))
	termRoundtrip(t, datalog.String(7))
	termRoundtrip(t, datalog.Date(1700000000))
	termRoundtrip(t, datalog.Bytes([]byte{1, 2, 3}))
	termRoundtrip(t, datalog.Bool(true))
	termRoundtrip(t, datalog.Bool(false))
	termRoundtrip(t, datalog.Null())
	termRoundtrip(t, datalog.Variable(5))
}

func TestTermRoundtripSetArrayMap(t *testing.T) {
	set, err := datalog.NewSet([]datalog.Term{datalog.Integer(1), datalog.Integer(2)})
	if err != nil {
		t.Fatal(err)
	}
	termRoundtrip(t, set)

	arr, err := datalog.NewArray([]datalog.Term{datalog.String(1), datalog.String(2)})
	if err != nil {
		t.Fatal(err)
	}
	termRoundtrip(t, arr)

	m, err := datalog.NewMap(map[datalog.MapKey]datalog.Term{
		{IsString: true, Str: 3}: datalog.Integer(9),
		{Int: 4}:                 datalog.Bool(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	termRoundtrip(t, m)
}

func TestPredicateAndRuleRoundtrip(t *testing.T) {
	pred := datalog.NewPredicate(10, datalog.String(1), datalog.Variable(0))
	got, err := decodePredicate(encodePredicate(pred))
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != pred.Name || len(got.Terms) != len(pred.Terms) {
		t.Fatalf("predicate mismatch: %+v vs %+v", got, pred)
	}

	head := datalog.NewPredicate(20, datalog.Variable(0))
	body := []datalog.Predicate{datalog.NewPredicate(10, datalog.Variable(0))}
	rule, err := datalog.NewRule(head, body, nil, []datalog.Scope{datalog.AuthorityScope()})
	if err != nil {
		t.Fatal(err)
	}
	gotRule, err := decodeRule(encodeRule(rule))
	if err != nil {
		t.Fatal(err)
	}
	if gotRule.Head.Name != rule.Head.Name || len(gotRule.Body) != 1 || len(gotRule.Scopes) != 1 {
		t.Fatalf("rule mismatch: %+v vs %+v", gotRule, rule)
	}
}

func TestCheckAndScopeRoundtrip(t *testing.T) {
	head := datalog.NewPredicate(30)
	body := []datalog.Predicate{datalog.NewPredicate(10, datalog.Variable(0))}
	rule, err := datalog.NewRule(head, body, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	check := datalog.Check{Kind: datalog.CheckAll, Queries: []datalog.Rule{rule}}
	got, err := decodeCheck(encodeCheck(check))
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != check.Kind || len(got.Queries) != 1 {
		t.Fatalf("check mismatch: %+v vs %+v", got, check)
	}

	scope := datalog.PublicKeyScope(3)
	gotScope, err := decodeScope(encodeScope(scope))
	if err != nil {
		t.Fatal(err)
	}
	if gotScope.Kind != scope.Kind || gotScope.KeyIndex != scope.KeyIndex {
		t.Fatalf("scope mismatch: %+v vs %+v", gotScope, scope)
	}
}

func TestBlockRoundtrip(t *testing.T) {
	fact, err := datalog.NewFact(10, datalog.String(1))
	if err != nil {
		t.Fatal(err)
	}
	ctx := "test-context"
	block := Block{
		Symbols: []string{"custom1", "custom2"},
		Context: &ctx,
		Version: 4,
		Facts:   []datalog.Fact{fact},
	}
	got, err := DecodeBlock(EncodeBlock(block))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Symbols) != 2 || got.Symbols[0] != "custom1" {
		t.Fatalf("symbols mismatch: %+v", got.Symbols)
	}
	if got.Context == nil || *got.Context != ctx {
		t.Fatalf("context mismatch: %+v", got.Context)
	}
	if got.Version != 4 || len(got.Facts) != 1 {
		t.Fatalf("block mismatch: %+v", got)
	}
}

func TestBiscuitRoundtrip(t *testing.T) {
	authority := SignedBlock{
		Block:     []byte("authority-block-bytes"),
		NextKey:   PublicKey{Algorithm: 0, Key: []byte("next-key-32-bytes-padding-000000")},
		Signature: []byte("authority-signature"),
		Version:   1,
	}
	b := Biscuit{
		Authority: authority,
		Blocks: []SignedBlock{
			{
				Block:     []byte("block-1-bytes"),
				NextKey:   PublicKey{Algorithm: 0, Key: []byte("block-1-next-key-32-bytes-0000000")},
				Signature: []byte("block-1-signature"),
				Version:   1,
			},
		},
		Proof: Proof{NextSecret: []byte("seed-bytes")},
	}
	got, err := DecodeBiscuit(EncodeBiscuit(b))
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Authority.Block) != string(authority.Block) {
		t.Fatalf("authority block mismatch")
	}
	if len(got.Blocks) != 1 || string(got.Blocks[0].Block) != "block-1-bytes" {
		t.Fatalf("attenuation block mismatch: %+v", got.Blocks)
	}
	if string(got.Proof.NextSecret) != "seed-bytes" {
		t.Fatalf("proof mismatch: %+v", got.Proof)
	}
}

func TestExternalSignatureRoundtripOnSignedBlock(t *testing.T) {
	sb := SignedBlock{
		Block:     []byte("third-party-block"),
		NextKey:   PublicKey{Algorithm: 1, Key: []byte("nextkey")},
		Signature: []byte("sig"),
		ExternalSignature: &ExternalSignature{
			Signature: []byte("external-sig"),
			PublicKey: PublicKey{Algorithm: 0, Key: []byte("external-pubkey")},
		},
		Version: 1,
	}
	got, err := DecodeSignedBlock(EncodeSignedBlock(sb))
	if err != nil {
		t.Fatal(err)
	}
	if got.ExternalSignature == nil {
		t.Fatalf("expected external signature to survive roundtrip")
	}
	if string(got.ExternalSignature.Signature) != "external-sig" {
		t.Fatalf("external signature mismatch: %+v", got.ExternalSignature)
	}
}
