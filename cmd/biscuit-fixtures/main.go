// Command biscuit-fixtures is ambient test tooling, not a product CLI:
// it generates and checks the golden vectors the test suite uses for
// the worked scenarios in spec.md section 8, the way
// cmd/gen-conformance-fixtures bakes real signatures into its own
// gate's conformance vectors. "-mode=gen" builds each scenario with the
// library's own builder/authorizer API and writes it as JSON; "-mode
// =check" reads those files back, replays the scenario, and reports any
// mismatch against the recorded expectation.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"rubin.dev/biscuit"
	"rubin.dev/biscuit/authorizer"
	"rubin.dev/biscuit/biscuiterr"
	"rubin.dev/biscuit/datalog"
	"rubin.dev/biscuit/sig"
)

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// termJSON is a ground Datalog term restricted to the shapes the worked
// scenarios need: a single interned string, or an array of them.
type termJSON struct {
	Kind    string   `json:"kind"` // "string" or "string_array"
	String  string   `json:"string,omitempty"`
	Strings []string `json:"strings,omitempty"`
}

type factJSON struct {
	Predicate string      `json:"predicate"`
	Terms     []termJSON  `json:"terms"`
}

type failedCheckJSON struct {
	BlockID  *uint32 `json:"block_id,omitempty"`
	CheckID  uint32  `json:"check_id"`
	RuleText string  `json:"rule_text"`
}

type expectJSON struct {
	Outcome      string            `json:"outcome"` // "allow", "unauthorized", "no_matching_policy"
	PolicyIndex  *int              `json:"policy_index,omitempty"`
	FailedChecks []failedCheckJSON `json:"failed_checks,omitempty"`
}

// scenarioFixture is the JSON shape for spec.md section 8 scenarios 1-4:
// a fully built, serialized token plus the authorizer-local facts to add
// before running, and the decision that replay must reproduce.
type scenarioFixture struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	TokenB64        string     `json:"token_b64"`
	RootPublicKeyHex string    `json:"root_public_key_hex"`
	Algorithm       string     `json:"algorithm"`
	AuthorizerFacts []factJSON `json:"authorizer_facts"`
	Expect          expectJSON `json:"expect"`
}

// delegateFixture is the JSON shape for scenario 7: a token carrying a
// root_key_id hint, and the two candidate keys a KeyDelegate might map
// that id to.
type delegateFixture struct {
	ID                    string `json:"id"`
	Description           string `json:"description"`
	TokenB64              string `json:"token_b64"`
	Algorithm             string `json:"algorithm"`
	RootKeyID             uint32 `json:"root_key_id"`
	CorrectRootPublicKeyHex string `json:"correct_root_public_key_hex"`
	WrongRootPublicKeyHex string `json:"wrong_root_public_key_hex"`
}

func main() {
	mode := flag.String("mode", "check", "gen or check")
	dir := flag.String("dir", "testdata/fixtures", "fixture directory")
	flag.Parse()

	switch *mode {
	case "gen":
		if err := generate(*dir); err != nil {
			fatalf("generate: %v", err)
		}
		fmt.Println("ok: wrote fixtures to", *dir)
	case "check":
		if err := check(*dir); err != nil {
			fatalf("check: %v", err)
		}
		fmt.Println("ok: all fixtures replayed as expected")
	default:
		fatalf("unknown -mode %q, want gen or check", *mode)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}

func mustKeyPair() sig.KeyPair {
	kp, err := sig.GenerateKeyPair(sig.Ed25519, sig.CSPRNG, nil)
	if err != nil {
		fatalf("keygen: %v", err)
	}
	return kp
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// generate builds the spec.md section 8 fixtures (scenarios 1, 2, 3
// (both branches), 4 (both branches), and 7) and writes them under dir.
func generate(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := genScenario1(dir); err != nil {
		return fmt.Errorf("scenario1: %w", err)
	}
	if err := genScenario2(dir); err != nil {
		return fmt.Errorf("scenario2: %w", err)
	}
	if err := genScenario3(dir); err != nil {
		return fmt.Errorf("scenario3: %w", err)
	}
	if err := genScenario4(dir); err != nil {
		return fmt.Errorf("scenario4: %w", err)
	}
	if err := genScenario7(dir); err != nil {
		return fmt.Errorf("scenario7: %w", err)
	}
	return nil
}

func stringTerm(s string) termJSON { return termJSON{Kind: "string", String: s} }
func stringArrayTerm(ss []string) termJSON {
	return termJSON{Kind: "string_array", Strings: ss}
}

// genScenario1: authority right("file1","read"); authorizer adds
// resource("file1"), operation("read"), allow if true => Allow(0).
func genScenario1(dir string) error {
	root := mustKeyPair()
	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("file1")), datalog.String(bb.Intern("read")))
	authority := bb.Build()
	tok, err := biscuit.New(root, authority, mustKeyPair())
	if err != nil {
		return err
	}
	tokB64, err := biscuit.ToBase64URL(tok)
	if err != nil {
		return err
	}
	f := scenarioFixture{
		ID:               "scenario1",
		Description:      "authority right(file1,read); authorizer resource(file1), operation(read) => Allow(0)",
		TokenB64:         tokB64,
		RootPublicKeyHex: hexString(root.Public().Bytes()),
		Algorithm:        "ed25519",
		AuthorizerFacts: []factJSON{
			{Predicate: "resource", Terms: []termJSON{stringTerm("file1")}},
			{Predicate: "operation", Terms: []termJSON{stringTerm("read")}},
		},
		Expect: expectJSON{Outcome: "allow", PolicyIndex: intPtr(0)},
	}
	return writeJSON(filepath.Join(dir, "scenario1.json"), f)
}

// genScenario2: same authority, an attenuation block restricts access to
// /folder1/, authorizer requests file2/write => Unauthorized.
func genScenario2(dir string) error {
	root := mustKeyPair()
	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("file1")), datalog.String(bb.Intern("read")))
	authority := bb.Build()
	tok, err := biscuit.New(root, authority, mustKeyPair())
	if err != nil {
		return err
	}

	ab := biscuit.NextBlockBuilder(tok)
	rVar := datalog.Variable(ab.Intern("r"))
	resourceName := ab.Intern("resource")
	checkRule := ab.RuleBuilder(datalog.NewPredicate(0)).
		Body(datalog.NewPredicate(resourceName, rVar)).
		Where(datalog.Expression{
			datalog.ValueOp(rVar),
			datalog.ValueOp(datalog.String(ab.Intern("/folder1/"))),
			datalog.BinaryOpInstr(datalog.BinaryPrefix),
		})
	rule, err := checkRule.Build()
	if err != nil {
		return err
	}
	ab.AddCheck(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{rule}})
	attenuation := ab.Build()

	tok, err = biscuit.Append(tok, mustKeyPair(), attenuation)
	if err != nil {
		return err
	}
	tokB64, err := biscuit.ToBase64URL(tok)
	if err != nil {
		return err
	}

	blockID := uint32(1)
	f := scenarioFixture{
		ID:               "scenario2",
		Description:      "attenuation restricts to /folder1/; authorizer requests file2/write => Unauthorized",
		TokenB64:         tokB64,
		RootPublicKeyHex: hexString(root.Public().Bytes()),
		Algorithm:        "ed25519",
		AuthorizerFacts: []factJSON{
			{Predicate: "resource", Terms: []termJSON{stringTerm("file2")}},
			{Predicate: "operation", Terms: []termJSON{stringTerm("write")}},
		},
		Expect: expectJSON{
			Outcome: "unauthorized",
			FailedChecks: []failedCheckJSON{
				{BlockID: &blockID, CheckID: 0, RuleText: `check if resource($r), $r.starts_with("/folder1/")`},
			},
		},
	}
	return writeJSON(filepath.Join(dir, "scenario2.json"), f)
}

// genScenario3 builds the third-party block scenario and writes both
// outcome branches (matching and mismatching resource).
func genScenario3(dir string) error {
	root := mustKeyPair()
	external := mustKeyPair()

	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("read")))
	keyIdx := bb.TrustKey(external.Public())
	groupName := bb.Intern("group")
	checkRule := bb.RuleBuilder(datalog.NewPredicate(0)).
		Body(datalog.NewPredicate(groupName, datalog.String(bb.Intern("admin")))).
		Scope(datalog.PublicKeyScope(keyIdx))
	rule, err := checkRule.Build()
	if err != nil {
		return err
	}
	bb.AddCheck(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{rule}})
	authority := bb.Build()

	tok, err := biscuit.New(root, authority, mustKeyPair())
	if err != nil {
		return err
	}

	tpb := biscuit.NextBlockBuilder(tok)
	tpb.Fact("group", datalog.String(tpb.Intern("admin")))
	resourceName := tpb.Intern("resource")
	checkFile1 := tpb.RuleBuilder(datalog.NewPredicate(0)).
		Body(datalog.NewPredicate(resourceName, datalog.String(tpb.Intern("file1"))))
	ruleFile1, err := checkFile1.Build()
	if err != nil {
		return err
	}
	tpb.AddCheck(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{ruleFile1}})
	thirdParty := tpb.Build()

	tok, err = biscuit.AppendThirdParty(tok, external, mustKeyPair(), thirdParty)
	if err != nil {
		return err
	}
	tokB64, err := biscuit.ToBase64URL(tok)
	if err != nil {
		return err
	}
	rootHex := hexString(root.Public().Bytes())

	matching := scenarioFixture{
		ID:               "scenario3-matching",
		Description:      "third-party block, matching resource => Allow(0)",
		TokenB64:         tokB64,
		RootPublicKeyHex: rootHex,
		Algorithm:        "ed25519",
		AuthorizerFacts: []factJSON{
			{Predicate: "resource", Terms: []termJSON{stringTerm("file1")}},
		},
		Expect: expectJSON{Outcome: "allow", PolicyIndex: intPtr(0)},
	}
	if err := writeJSON(filepath.Join(dir, "scenario3-matching.json"), matching); err != nil {
		return err
	}

	blockID := uint32(1)
	mismatching := scenarioFixture{
		ID:               "scenario3-mismatching",
		Description:      "third-party block, mismatching resource => Unauthorized",
		TokenB64:         tokB64,
		RootPublicKeyHex: rootHex,
		Algorithm:        "ed25519",
		AuthorizerFacts: []factJSON{
			{Predicate: "resource", Terms: []termJSON{stringTerm("file2")}},
		},
		Expect: expectJSON{
			Outcome: "unauthorized",
			FailedChecks: []failedCheckJSON{
				{BlockID: &blockID, CheckID: 0, RuleText: `check if resource("file1")`},
			},
		},
	}
	return writeJSON(filepath.Join(dir, "scenario3-mismatching.json"), mismatching)
}

// genScenario4 builds the check-all/contains scenario, both branches.
func genScenario4(dir string) error {
	root := mustKeyPair()
	bb := biscuit.NewBlockBuilder(1024)
	authority := bb.Build()
	tok, err := biscuit.New(root, authority, mustKeyPair())
	if err != nil {
		return err
	}
	tokB64, err := biscuit.ToBase64URL(tok)
	if err != nil {
		return err
	}
	rootHex := hexString(root.Public().Bytes())

	failing := scenarioFixture{
		ID:               "scenario4-write-missing",
		Description:      "check all operation($op), allowed_operations($a), $a.contains($op); allowed=[write] => fails",
		TokenB64:         tokB64,
		RootPublicKeyHex: rootHex,
		Algorithm:        "ed25519",
		AuthorizerFacts: []factJSON{
			{Predicate: "operation", Terms: []termJSON{stringTerm("read")}},
			{Predicate: "operation", Terms: []termJSON{stringTerm("write")}},
			{Predicate: "allowed_operations", Terms: []termJSON{stringArrayTerm([]string{"write"})}},
		},
		Expect: expectJSON{Outcome: "unauthorized"},
	}
	if err := writeJSON(filepath.Join(dir, "scenario4-write-missing.json"), failing); err != nil {
		return err
	}

	passing := scenarioFixture{
		ID:               "scenario4-both-present",
		Description:      "same check with allowed=[read,write] => passes",
		TokenB64:         tokB64,
		RootPublicKeyHex: rootHex,
		Algorithm:        "ed25519",
		AuthorizerFacts: []factJSON{
			{Predicate: "operation", Terms: []termJSON{stringTerm("read")}},
			{Predicate: "operation", Terms: []termJSON{stringTerm("write")}},
			{Predicate: "allowed_operations", Terms: []termJSON{stringArrayTerm([]string{"read", "write"})}},
		},
		Expect: expectJSON{Outcome: "allow", PolicyIndex: intPtr(0)},
	}
	return writeJSON(filepath.Join(dir, "scenario4-both-present.json"), passing)
}

// genScenario7 builds the rootKeyId-delegate scenario.
func genScenario7(dir string) error {
	root := mustKeyPair()
	wrong := mustKeyPair()
	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("resource1")), datalog.String(bb.Intern("read")))
	authority := bb.Build()
	tok, err := biscuit.New(root, authority, mustKeyPair())
	if err != nil {
		return err
	}
	tok = biscuit.WithRootKeyID(tok, 1)
	tokB64, err := biscuit.ToBase64URL(tok)
	if err != nil {
		return err
	}
	f := delegateFixture{
		ID:                      "scenario7",
		Description:             "root_key_id=1; delegate returning no key => InvalidKey, wrong key => InvalidSignature, correct key => success",
		TokenB64:                tokB64,
		Algorithm:                "ed25519",
		RootKeyID:               1,
		CorrectRootPublicKeyHex: hexString(root.Public().Bytes()),
		WrongRootPublicKeyHex:   hexString(wrong.Public().Bytes()),
	}
	return writeJSON(filepath.Join(dir, "scenario7.json"), f)
}

func intPtr(i int) *int { return &i }

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}

func parsePublicKeyHex(alg sig.Algorithm, hx string) (sig.PublicKey, error) {
	raw, err := decodeHex(hx)
	if err != nil {
		return sig.PublicKey{}, err
	}
	return sig.NewPublicKey(alg, raw)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// check reads every fixture under dir and replays it, failing loudly on
// the first mismatch.
func check(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	checked := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if e.Name() == "scenario7.json" {
			if err := checkDelegateFixture(path); err != nil {
				return fmt.Errorf("%s: %w", e.Name(), err)
			}
			checked++
			continue
		}
		if err := checkScenarioFixture(path); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		checked++
	}
	if checked == 0 {
		return fmt.Errorf("no fixtures found under %s (run -mode=gen first)", dir)
	}
	return nil
}

func checkScenarioFixture(path string) error {
	var f scenarioFixture
	if err := readJSON(path, &f); err != nil {
		return err
	}
	alg, err := algorithmFromString(f.Algorithm)
	if err != nil {
		return err
	}
	tok, err := biscuit.FromBase64URL(f.TokenB64, alg)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	rootKey, err := parsePublicKeyHex(alg, f.RootPublicKeyHex)
	if err != nil {
		return err
	}
	if err := biscuit.Verify(tok, rootKey); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	az := authorizer.New(tok)
	for _, fact := range f.AuthorizerFacts {
		terms := make([]datalog.Term, len(fact.Terms))
		for i, tj := range fact.Terms {
			switch tj.Kind {
			case "string":
				terms[i] = datalog.String(az.Intern(tj.String))
			case "string_array":
				elems := make([]datalog.Term, len(tj.Strings))
				for j, s := range tj.Strings {
					elems[j] = datalog.String(az.Intern(s))
				}
				arr, err := datalog.NewArray(elems)
				if err != nil {
					return err
				}
				terms[i] = arr
			default:
				return fmt.Errorf("unknown term kind %q", tj.Kind)
			}
		}
		az.Fact(fact.Predicate, terms...)
	}
	allowRule, err := az.RuleBuilder(datalog.NewPredicate(0)).Build()
	if err != nil {
		return err
	}
	az.Allow(allowRule)

	decision, runErr := az.Run()
	return compareOutcome(f.Expect, decision, runErr)
}

func compareOutcome(want expectJSON, decision authorizer.Decision, runErr error) error {
	switch want.Outcome {
	case "allow":
		if runErr != nil {
			return fmt.Errorf("expected allow, got error: %v", runErr)
		}
		if want.PolicyIndex != nil && decision.PolicyIndex != *want.PolicyIndex {
			return fmt.Errorf("expected policy index %d, got %d", *want.PolicyIndex, decision.PolicyIndex)
		}
	case "unauthorized":
		berr, ok := runErr.(*biscuiterr.Error)
		if !ok || berr.Code != biscuiterr.Unauthorized {
			return fmt.Errorf("expected Unauthorized, got %v", runErr)
		}
		for _, wantFC := range want.FailedChecks {
			found := false
			for _, gotFC := range berr.FailedChecks {
				if failedCheckMatches(wantFC, gotFC) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("expected failed check %+v not found in %+v", wantFC, berr.FailedChecks)
			}
		}
	case "no_matching_policy":
		berr, ok := runErr.(*biscuiterr.Error)
		if !ok || berr.Code != biscuiterr.NoMatchingPolicy {
			return fmt.Errorf("expected NoMatchingPolicy, got %v", runErr)
		}
	default:
		return fmt.Errorf("unknown expected outcome %q", want.Outcome)
	}
	return nil
}

func failedCheckMatches(want failedCheckJSON, got biscuiterr.FailedCheck) bool {
	if want.CheckID != got.CheckID || want.RuleText != got.RuleText {
		return false
	}
	if (want.BlockID == nil) != (got.BlockID == nil) {
		return false
	}
	if want.BlockID != nil && got.BlockID != nil && *want.BlockID != *got.BlockID {
		return false
	}
	return true
}

func checkDelegateFixture(path string) error {
	var f delegateFixture
	if err := readJSON(path, &f); err != nil {
		return err
	}
	alg, err := algorithmFromString(f.Algorithm)
	if err != nil {
		return err
	}
	correct, err := parsePublicKeyHex(alg, f.CorrectRootPublicKeyHex)
	if err != nil {
		return err
	}
	wrong, err := parsePublicKeyHex(alg, f.WrongRootPublicKeyHex)
	if err != nil {
		return err
	}

	data, err := decodeBase64URL(f.TokenB64)
	if err != nil {
		return err
	}

	if _, err := biscuit.FromBytesWithKeyDelegate(data, alg, func(uint32) (sig.PublicKey, bool) {
		return sig.PublicKey{}, false
	}); err == nil {
		return fmt.Errorf("expected InvalidKey when delegate has no key")
	} else if berr, ok := err.(*biscuiterr.Error); !ok || berr.Code != biscuiterr.InvalidKey {
		return fmt.Errorf("expected InvalidKey, got %v", err)
	}

	if _, err := biscuit.FromBytesWithKeyDelegate(data, alg, func(uint32) (sig.PublicKey, bool) {
		return wrong, true
	}); err == nil {
		return fmt.Errorf("expected InvalidSignature when delegate returns the wrong key")
	} else if berr, ok := err.(*biscuiterr.Error); !ok || berr.Code != biscuiterr.InvalidSignature {
		return fmt.Errorf("expected InvalidSignature, got %v", err)
	}

	if _, err := biscuit.FromBytesWithKeyDelegate(data, alg, func(keyID uint32) (sig.PublicKey, bool) {
		if keyID != f.RootKeyID {
			return sig.PublicKey{}, false
		}
		return correct, true
	}); err != nil {
		return fmt.Errorf("expected success with the correct key: %v", err)
	}
	return nil
}

func algorithmFromString(s string) (sig.Algorithm, error) {
	switch s {
	case "ed25519":
		return sig.Ed25519, nil
	case "secp256r1":
		return sig.SECP256R1, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", s)
	}
}
