package authorizer

import (
	"testing"

	"rubin.dev/biscuit"
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

// alwaysTrue builds a zero-body rule: its single (empty) solution always
// matches, the shape "allow if true" / "check if true" collapse to under
// a builder API with no parser.
func alwaysTrue(intern datalog.Intern) datalog.Rule {
	rb := datalog.NewRuleBuilder(intern, datalog.NewPredicate(0))
	r, err := rb.Build()
	if err != nil {
		panic(err)
	}
	return r
}

func TestScenario1AllowOnMatchingRight(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("file1")), datalog.String(bb.Intern("read")))
	authority := bb.Build()
	next := genKeyPair(t, sig.Ed25519)
	tok, err := biscuit.New(root, authority, next)
	if err != nil {
		t.Fatal(err)
	}

	az := New(tok)
	az.Fact("resource", datalog.String(az.Intern("file1")))
	az.Fact("operation", datalog.String(az.Intern("read")))
	az.Allow(alwaysTrue(az))

	decision, err := az.Run()
	if err != nil {
		t.Fatalf("expected Allow, got error: %v", err)
	}
	if decision.PolicyIndex != 0 {
		t.Fatalf("expected policy index 0, got %d", decision.PolicyIndex)
	}
	if len(decision.FailedChecks) != 0 {
		t.Fatalf("expected no failed checks, got %v", decision.FailedChecks)
	}
}

func TestScenario2UnauthorizedOnAttenuationCheck(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("file1")), datalog.String(bb.Intern("read")))
	authority := bb.Build()
	next1 := genKeyPair(t, sig.Ed25519)
	tok, err := biscuit.New(root, authority, next1)
	if err != nil {
		t.Fatal(err)
	}

	ab := biscuit.NextBlockBuilder(tok)
	rVar := datalog.Variable(100)
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
		t.Fatal(err)
	}
	ab.AddCheck(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{rule}})
	attenuation := ab.Build()

	next2 := genKeyPair(t, sig.Ed25519)
	tok, err = biscuit.Append(tok, next2, attenuation)
	if err != nil {
		t.Fatal(err)
	}

	az := New(tok)
	az.Fact("resource", datalog.String(az.Intern("file2")))
	az.Fact("operation", datalog.String(az.Intern("write")))
	az.Allow(alwaysTrue(az))

	_, err = az.Run()
	if err == nil {
		t.Fatalf("expected Unauthorized, got Allow")
	}
	berr, ok := err.(*biscuiterr.Error)
	if !ok {
		t.Fatalf("expected *biscuiterr.Error, got %T", err)
	}
	if berr.Code != biscuiterr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %s", berr.Code)
	}
	if len(berr.FailedChecks) != 1 {
		t.Fatalf("expected exactly 1 failed check, got %d", len(berr.FailedChecks))
	}
	fc := berr.FailedChecks[0]
	if fc.IsAuthorizer() || *fc.BlockID != 1 || fc.CheckID != 0 {
		t.Fatalf("expected FailedBlock(1,0,...), got %+v", fc)
	}
}

func TestScenario4CheckAllContainsSemantics(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	bb := biscuit.NewBlockBuilder(1024)
	authority := bb.Build()
	next := genKeyPair(t, sig.Ed25519)
	tok, err := biscuit.New(root, authority, next)
	if err != nil {
		t.Fatal(err)
	}

	buildAuthorizer := func(allowed []string) *Authorizer {
		az := New(tok)
		az.Fact("operation", datalog.String(az.Intern("read")))
		az.Fact("operation", datalog.String(az.Intern("write")))
		elems := make([]datalog.Term, len(allowed))
		for i, s := range allowed {
			elems[i] = datalog.String(az.Intern(s))
		}
		set, err := datalog.NewArray(elems)
		if err != nil {
			t.Fatal(err)
		}
		az.Fact("allowed_operations", set)

		op := datalog.Variable(200)
		a := datalog.Variable(201)
		opName := az.Intern("operation")
		allowedName := az.Intern("allowed_operations")
		checkRule := az.RuleBuilder(datalog.NewPredicate(0)).
			Body(
				datalog.NewPredicate(opName, op),
				datalog.NewPredicate(allowedName, a),
			).
			Where(datalog.Expression{
				datalog.ValueOp(a),
				datalog.ValueOp(op),
				datalog.BinaryOpInstr(datalog.BinaryContains),
			})
		rule, err := checkRule.Build()
		if err != nil {
			t.Fatal(err)
		}
		az.AddCheck(datalog.Check{Kind: datalog.CheckAll, Queries: []datalog.Rule{rule}})
		az.Allow(alwaysTrue(az))
		return az
	}

	t.Run("write missing fails", func(t *testing.T) {
		az := buildAuthorizer([]string{"write"})
		_, err := az.Run()
		if err == nil {
			t.Fatalf("expected failure when read is not in allowed_operations")
		}
	})

	t.Run("both present passes", func(t *testing.T) {
		az := buildAuthorizer([]string{"read", "write"})
		decision, err := az.Run()
		if err != nil {
			t.Fatalf("expected Allow, got error: %v", err)
		}
		if decision.PolicyIndex != 0 {
			t.Fatalf("expected policy index 0, got %d", decision.PolicyIndex)
		}
	})
}

func TestNoMatchingPolicyWhenNothingMatches(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	bb := biscuit.NewBlockBuilder(1024)
	authority := bb.Build()
	next := genKeyPair(t, sig.Ed25519)
	tok, err := biscuit.New(root, authority, next)
	if err != nil {
		t.Fatal(err)
	}

	az := New(tok)
	never := az.RuleBuilder(datalog.NewPredicate(0)).
		Body(datalog.NewPredicate(az.Intern("nonexistent_fact")))
	rule, err := never.Build()
	if err != nil {
		t.Fatal(err)
	}
	az.Allow(rule)

	_, err = az.Run()
	if err == nil {
		t.Fatalf("expected NoMatchingPolicy")
	}
	berr, ok := err.(*biscuiterr.Error)
	if !ok || berr.Code != biscuiterr.NoMatchingPolicy {
		t.Fatalf("expected NoMatchingPolicy, got %v", err)
	}
}

func TestThirdPartyBlockScenario(t *testing.T) {
	root := genKeyPair(t, sig.Ed25519)
	external := genKeyPair(t, sig.Ed25519)

	bb := biscuit.NewBlockBuilder(1024)
	bb.Fact("right", datalog.String(bb.Intern("read")))
	keyIdx := bb.TrustKey(external.Public())
	groupName := bb.Intern("group")
	checkRule := bb.RuleBuilder(datalog.NewPredicate(0)).
		Body(datalog.NewPredicate(groupName, datalog.String(bb.Intern("admin")))).
		Scope(datalog.PublicKeyScope(keyIdx))
	rule, err := checkRule.Build()
	if err != nil {
		t.Fatal(err)
	}
	bb.AddCheck(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{rule}})
	authority := bb.Build()

	next1 := genKeyPair(t, sig.Ed25519)
	tok, err := biscuit.New(root, authority, next1)
	if err != nil {
		t.Fatal(err)
	}

	tpb := biscuit.NextBlockBuilder(tok)
	tpb.Fact("group", datalog.String(tpb.Intern("admin")))
	resourceName := tpb.Intern("resource")
	checkFile1 := tpb.RuleBuilder(datalog.NewPredicate(0)).
		Body(datalog.NewPredicate(resourceName, datalog.String(tpb.Intern("file1"))))
	ruleFile1, err := checkFile1.Build()
	if err != nil {
		t.Fatal(err)
	}
	tpb.AddCheck(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{ruleFile1}})
	thirdParty := tpb.Build()

	next2 := genKeyPair(t, sig.Ed25519)
	tok, err = biscuit.AppendThirdParty(tok, external, next2, thirdParty)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("matching resource allows", func(t *testing.T) {
		az := New(tok)
		az.Fact("resource", datalog.String(az.Intern("file1")))
		az.Allow(alwaysTrue(az))
		decision, err := az.Run()
		if err != nil {
			t.Fatalf("expected Allow: %v", err)
		}
		if decision.PolicyIndex != 0 {
			t.Fatalf("expected policy 0, got %d", decision.PolicyIndex)
		}
	})

	t.Run("mismatching resource denies", func(t *testing.T) {
		az := New(tok)
		az.Fact("resource", datalog.String(az.Intern("file2")))
		az.Allow(alwaysTrue(az))
		_, err := az.Run()
		if err == nil {
			t.Fatalf("expected Unauthorized")
		}
		berr, ok := err.(*biscuiterr.Error)
		if !ok || berr.Code != biscuiterr.Unauthorized {
			t.Fatalf("expected Unauthorized, got %v", err)
		}
		if len(berr.FailedChecks) != 1 {
			t.Fatalf("expected 1 failed check, got %d", len(berr.FailedChecks))
		}
		fc := berr.FailedChecks[0]
		if fc.IsAuthorizer() || *fc.BlockID != 1 {
			t.Fatalf("expected failure attributed to block 1, got %+v", fc)
		}
	})
}
