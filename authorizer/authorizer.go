// Package authorizer implements spec section 4.5: assembling a token's
// blocks and authorizer-local facts/rules/checks/policies into a single
// Datalog world, running the solver to fixed point, then evaluating
// checks and policies in the declared order to reach a single
// allow/deny decision with a complete failure report.
//
// Grounded on node/policy_core_ext.go's accumulate-then-report shape: a
// block's policy check there returns (reject bool, reason string, err
// error) and keeps evaluating; this generalizes that to the full
// FailedCheck list spec section 4.5/7 call for, stopping only once a
// policy has matched.
package authorizer

import (
	"fmt"
	"strings"

	"rubin.dev/biscuit"
	"rubin.dev/biscuit/biscuiterr"
	"rubin.dev/biscuit/datalog"
	"rubin.dev/biscuit/sig"
	"rubin.dev/biscuit/symbol"
)

// Decision is the outcome of a completed Run.
type Decision struct {
	// PolicyIndex is the index of the Allow policy that fixed the
	// decision. Only meaningful when the Run returned a nil error.
	PolicyIndex int
	// FailedChecks accumulates every check that failed while evaluating
	// block checks and authorizer checks (spec 4.5: accumulated "even
	// after the decision is known").
	FailedChecks []biscuiterr.FailedCheck
}

// Authorizer evaluates one token against authorizer-supplied state. Each
// value is single-use: call Run once after adding all local facts, rules,
// checks and policies.
type Authorizer struct {
	token  biscuit.Token
	intern authorizerIntern
	facts  []datalog.Fact
	rules  []datalog.Rule
	checks []datalog.Check
	policies []datalog.Policy
	limits datalog.Limits
}

// authorizerIntern resolves a name against the token's full symbol chain
// first, so an authorizer-local fact referencing a predicate name a
// block already declared (e.g. "resource") interns to the very same id
// that block's rules and checks use -- without this, cross-block
// matching against authorizer-supplied facts could never succeed.
type authorizerIntern struct {
	chain *symbol.Chain
	table *symbol.Table
}

func (a authorizerIntern) InternOrInsert(name string) uint64 {
	if id, ok := a.chain.Intern(name); ok {
		return id
	}
	return a.table.InternOrInsert(name)
}

// New starts an authorizer over t, with default resource limits (spec 5).
func New(t biscuit.Token) *Authorizer {
	return &Authorizer{
		token: t,
		intern: authorizerIntern{
			chain: t.Symbols(),
			table: symbol.NewTable(t.Symbols().NextBase()),
		},
		limits: datalog.DefaultLimits(),
	}
}

// SetLimits overrides the solver's resource limits.
func (a *Authorizer) SetLimits(l datalog.Limits) *Authorizer {
	a.limits = l
	return a
}

// Intern resolves name to a symbol id: an existing id from the token's
// symbol chain if any block already declared it, else a fresh entry in
// the authorizer's own local table.
func (a *Authorizer) Intern(name string) uint64 { return a.intern.InternOrInsert(name) }

// Fact interns name and adds a ground authorizer-local fact.
func (a *Authorizer) Fact(name string, terms ...datalog.Term) *Authorizer {
	fb := datalog.NewFactBuilder(a.intern)
	f, err := fb.Fact(name, terms...)
	if err != nil {
		panic(err)
	}
	a.facts = append(a.facts, f)
	return a
}

// AddRule appends an authorizer-local rule.
func (a *Authorizer) AddRule(r datalog.Rule) *Authorizer {
	a.rules = append(a.rules, r)
	return a
}

// AddCheck appends an authorizer-local check.
func (a *Authorizer) AddCheck(c datalog.Check) *Authorizer {
	a.checks = append(a.checks, c)
	return a
}

// Allow appends an allow policy evaluated in the order added, relative to
// any Deny policies also added.
func (a *Authorizer) Allow(queries ...datalog.Rule) *Authorizer {
	a.policies = append(a.policies, datalog.Policy{Kind: datalog.PolicyAllow, Queries: queries})
	return a
}

// Deny appends a deny policy.
func (a *Authorizer) Deny(queries ...datalog.Rule) *Authorizer {
	a.policies = append(a.policies, datalog.Policy{Kind: datalog.PolicyDeny, Queries: queries})
	return a
}

// RuleBuilder returns a datalog.RuleBuilder wired to the authorizer's own
// chain-aware interning, for building check/policy/rule queries.
func (a *Authorizer) RuleBuilder(head datalog.Predicate) *datalog.RuleBuilder {
	return datalog.NewRuleBuilder(a.intern, head)
}

// Predicate interns name and builds a predicate from terms.
func (a *Authorizer) Predicate(name string, terms ...datalog.Term) datalog.Predicate {
	return datalog.NewPredicate(a.intern.InternOrInsert(name), terms...)
}

// keyCacheKey mirrors symbol.KeyTable's private cache key: an
// algorithm-tagged byte encoding usable as a Go map key.
func keyCacheKey(k sig.PublicKey) string {
	return string(append([]byte{byte(k.Algorithm)}, k.Bytes()...))
}

// buildKeyBlocks cross-references every block's local key table against
// every attenuation block's external signing key, producing, per block
// id, a map from that block's local key index to the origin (singleton
// block id set) of whichever third-party block was signed with that key
// (spec 4.3 scope resolution / 4.6 third-party blocks).
func (a *Authorizer) buildKeyBlocks(blocks []biscuit.BlockContents) map[uint32]map[uint64]datalog.Origin {
	signerToBlock := make(map[string]uint32)
	for i := range a.token.Blocks() {
		if pk, ok := a.token.ExternalSigner(i); ok {
			signerToBlock[keyCacheKey(pk)] = uint32(i + 1) // +1: block 0 is authority
		}
	}

	out := make(map[uint32]map[uint64]datalog.Origin, len(blocks))
	for bi, bc := range blocks {
		if bc.Keys == nil || bc.Keys.Len() == 0 {
			continue
		}
		local := make(map[uint64]datalog.Origin)
		for idx, k := range bc.Keys.Keys() {
			if blockID, ok := signerToBlock[keyCacheKey(k)]; ok {
				local[uint64(idx)] = datalog.NewOrigin(blockID)
			}
		}
		out[uint32(bi)] = local
	}
	return out
}

// resolver adapts the token's symbol chain plus the authorizer's own
// local table into a single datalog.Interner, used by expressions that
// compare against string terms (Contains/Prefix/Suffix/Regex) and by
// TypeOf, which interns its canonical type name into the authorizer's
// own local table -- scratch space that lives only for this Run, the
// "temporary symbol table" spec 4.4 calls for.
type resolver struct {
	chain *symbol.Chain
	local *symbol.Table
}

func (r resolver) ResolveString(id uint64) (string, bool) {
	if name, ok := r.local.Name(id); ok {
		return name, true
	}
	s, err := r.chain.Resolve(id)
	if err != nil {
		return "", false
	}
	return s, true
}

func (r resolver) InternOrInsert(name string) uint64 {
	return r.local.InternOrInsert(name)
}

func (a *Authorizer) resolveName(id uint64) string {
	if s, ok := resolver{chain: a.token.Symbols(), local: a.intern.table}.ResolveString(id); ok {
		return s
	}
	return fmt.Sprintf("#%d", id)
}

// allBlocks returns the authority block followed by every attenuation
// block, so callers can index them by block id directly.
func (a *Authorizer) allBlocks() []biscuit.BlockContents {
	return append([]biscuit.BlockContents{a.token.Authority()}, a.token.Blocks()...)
}

// evalCheckPerQuery evaluates check one query at a time, each under its
// own query's scope-derived trusted origins (rather than one trust set
// shared by the whole check), combining per-query results with check's
// Kind the same way datalog.World.CheckPasses combines multiple queries
// under a single trust set.
func evalCheckPerQuery(w *datalog.World, check datalog.Check, blockID uint32, keyBlocks map[uint64]datalog.Origin) (bool, error) {
	switch check.Kind {
	case datalog.CheckOne:
		for _, q := range check.Queries {
			trusted := datalog.ComputeTrustedOrigins(blockID, q.Scopes, keyBlocks)
			ok, err := w.CheckPasses(datalog.Check{Kind: datalog.CheckOne, Queries: []datalog.Rule{q}}, trusted)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case datalog.CheckAll:
		for _, q := range check.Queries {
			trusted := datalog.ComputeTrustedOrigins(blockID, q.Scopes, keyBlocks)
			ok, err := w.CheckPasses(datalog.Check{Kind: datalog.CheckAll, Queries: []datalog.Rule{q}}, trusted)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case datalog.CheckReject:
		for _, q := range check.Queries {
			trusted := datalog.ComputeTrustedOrigins(blockID, q.Scopes, keyBlocks)
			ok, err := w.CheckPasses(datalog.Check{Kind: datalog.CheckReject, Queries: []datalog.Rule{q}}, trusted)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

func evalPolicyPerQuery(w *datalog.World, policy datalog.Policy, blockID uint32, keyBlocks map[uint64]datalog.Origin) (bool, error) {
	for _, q := range policy.Queries {
		trusted := datalog.ComputeTrustedOrigins(blockID, q.Scopes, keyBlocks)
		ok, err := w.PolicyMatches(datalog.Policy{Kind: policy.Kind, Queries: []datalog.Rule{q}}, trusted)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Run evaluates the assembled world against checks and policies in the
// sequence spec 4.5 lays out, and returns either a successful Decision
// or an *biscuiterr.Error of code Unauthorized/NoMatchingPolicy (plus
// whatever resource or execution error the solver itself raised).
func (a *Authorizer) Run() (Decision, error) {
	res := resolver{chain: a.token.Symbols(), local: a.intern.table}
	w := datalog.NewWorld(res)

	blocks := a.allBlocks()
	keyBlocks := a.buildKeyBlocks(blocks)

	for bi, bc := range blocks {
		blockID := uint32(bi)
		for _, f := range bc.Facts {
			w.AddFact(f, datalog.NewOrigin(blockID))
		}
		for _, r := range bc.Rules {
			trusted := datalog.ComputeTrustedOrigins(blockID, r.Scopes, keyBlocks[blockID])
			w.AddRule(r, blockID, trusted)
		}
	}
	for _, f := range a.facts {
		w.AddFact(f, datalog.NewOrigin(datalog.AuthorizerOrigin))
	}
	for _, r := range a.rules {
		trusted := datalog.ComputeTrustedOrigins(datalog.AuthorizerOrigin, r.Scopes, keyBlocks[datalog.AuthorizerOrigin])
		w.AddRule(r, datalog.AuthorizerOrigin, trusted)
	}

	if err := datalog.Run(w, a.limits); err != nil {
		return Decision{}, err
	}

	var failed []biscuiterr.FailedCheck

	for bi, bc := range blocks {
		blockID := uint32(bi)
		for ci, chk := range bc.Checks {
			ok, err := evalCheckPerQuery(w, chk, blockID, keyBlocks[blockID])
			if err != nil {
				return Decision{}, err
			}
			if !ok {
				failed = append(failed, biscuiterr.FailedBlock(blockID, uint32(ci), a.formatCheck(chk)))
			}
		}
	}
	for ci, chk := range a.checks {
		ok, err := evalCheckPerQuery(w, chk, datalog.AuthorizerOrigin, keyBlocks[datalog.AuthorizerOrigin])
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			failed = append(failed, biscuiterr.FailedAuthorizer(uint32(ci), a.formatCheck(chk)))
		}
	}

	for pi, p := range a.policies {
		ok, err := evalPolicyPerQuery(w, p, datalog.AuthorizerOrigin, keyBlocks[datalog.AuthorizerOrigin])
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			continue
		}
		if p.Kind == datalog.PolicyAllow {
			if len(failed) > 0 {
				return Decision{PolicyIndex: pi, FailedChecks: failed}, biscuiterr.Newf(biscuiterr.Unauthorized, "policy %d allowed the request but %d check(s) failed", pi, len(failed)).
					WithPolicy(pi).WithFailedChecks(failed)
			}
			return Decision{PolicyIndex: pi, FailedChecks: failed}, nil
		}
		return Decision{FailedChecks: failed}, biscuiterr.Newf(biscuiterr.Unauthorized, "policy %d denied the request", pi).
			WithPolicy(pi).WithFailedChecks(failed)
	}
	return Decision{FailedChecks: failed}, biscuiterr.New(biscuiterr.NoMatchingPolicy, "no policy matched").WithFailedChecks(failed)
}

// formatCheck renders a debug-only textual approximation of check, for
// FailedCheck.RuleText -- not the accepted parser syntax (out of scope),
// just enough to identify which query failed in test output and logs.
func (a *Authorizer) formatCheck(check datalog.Check) string {
	var kw string
	switch check.Kind {
	case datalog.CheckAll:
		kw = "check all"
	case datalog.CheckReject:
		kw = "reject if"
	default:
		kw = "check if"
	}
	parts := make([]string, len(check.Queries))
	for i, q := range check.Queries {
		parts[i] = a.formatRuleBody(q)
	}
	return kw + " " + strings.Join(parts, " or ")
}

func (a *Authorizer) formatRuleBody(r datalog.Rule) string {
	parts := make([]string, 0, len(r.Body)+len(r.Expressions))
	for _, p := range r.Body {
		parts = append(parts, a.formatPredicate(p))
	}
	for _, expr := range r.Expressions {
		parts = append(parts, a.formatExpression(expr))
	}
	return strings.Join(parts, ", ")
}

// formatExpression renders a debug-only textual approximation of expr by
// replaying its postfix op sequence over a string stack, mirroring
// datalog.Eval's own stack machine but building text instead of Terms.
func (a *Authorizer) formatExpression(expr datalog.Expression) string {
	var stack []string
	pop := func() string {
		if len(stack) == 0 {
			return "?"
		}
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return s
	}
	for _, op := range expr {
		switch op.Kind {
		case datalog.OpValue:
			stack = append(stack, a.formatTerm(op.Value))
		case datalog.OpUnary:
			v := pop()
			switch op.Unary {
			case datalog.UnaryParens:
				stack = append(stack, "("+v+")")
			case datalog.UnaryNegate:
				stack = append(stack, "!"+v)
			case datalog.UnaryLength:
				stack = append(stack, v+".length()")
			case datalog.UnaryTypeOf:
				stack = append(stack, v+".type()")
			default:
				stack = append(stack, v)
			}
		case datalog.OpBinary:
			b := pop()
			operandA := pop()
			stack = append(stack, formatBinaryExpr(op.Binary, operandA, b))
		case datalog.OpClosure:
			v := pop()
			stack = append(stack, a.formatClosureExpr(op, v))
		}
	}
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

func formatBinaryExpr(op datalog.BinaryOp, a, b string) string {
	switch op {
	case datalog.BinaryLessThan:
		return a + " < " + b
	case datalog.BinaryGreaterThan:
		return a + " > " + b
	case datalog.BinaryLessOrEqual:
		return a + " <= " + b
	case datalog.BinaryGreaterOrEqual:
		return a + " >= " + b
	case datalog.BinaryEqual:
		return a + " == " + b
	case datalog.BinaryNotEqual:
		return a + " != " + b
	case datalog.BinaryHeterogeneousEqual:
		return a + " === " + b
	case datalog.BinaryHeterogeneousNotEqual:
		return a + " !== " + b
	case datalog.BinaryContains:
		return a + ".contains(" + b + ")"
	case datalog.BinaryPrefix:
		return a + ".starts_with(" + b + ")"
	case datalog.BinarySuffix:
		return a + ".ends_with(" + b + ")"
	case datalog.BinaryRegex:
		return a + ".matches(" + b + ")"
	case datalog.BinaryAdd:
		return a + " + " + b
	case datalog.BinarySub:
		return a + " - " + b
	case datalog.BinaryMul:
		return a + " * " + b
	case datalog.BinaryDiv:
		return a + " / " + b
	case datalog.BinaryAnd:
		return a + " && " + b
	case datalog.BinaryOr:
		return a + " || " + b
	case datalog.BinaryIntersection:
		return a + ".intersection(" + b + ")"
	case datalog.BinaryUnion:
		return a + ".union(" + b + ")"
	case datalog.BinaryBitwiseAnd:
		return a + " & " + b
	case datalog.BinaryBitwiseOr:
		return a + " | " + b
	case datalog.BinaryBitwiseXor:
		return a + " ^ " + b
	case datalog.BinaryGet:
		return a + ".get(" + b + ")"
	default:
		return a + " ? " + b
	}
}

func (a *Authorizer) formatClosureExpr(op datalog.Op, popped string) string {
	param := "$" + a.resolveName(op.Param)
	body := a.formatExpression(op.Body)
	switch op.Closure {
	case datalog.ClosureAny:
		return popped + ".any(" + param + " -> " + body + ")"
	case datalog.ClosureAll:
		return popped + ".all(" + param + " -> " + body + ")"
	case datalog.ClosureTryOr:
		return popped + ".try_or(" + param + " -> " + body + ")"
	case datalog.ClosureLazyAnd:
		return popped + " && (" + param + " -> " + body + ")"
	case datalog.ClosureLazyOr:
		return popped + " || (" + param + " -> " + body + ")"
	default:
		return popped
	}
}

func (a *Authorizer) formatPredicate(p datalog.Predicate) string {
	terms := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		terms[i] = a.formatTerm(t)
	}
	return fmt.Sprintf("%s(%s)", a.resolveName(p.Name), strings.Join(terms, ", "))
}

func (a *Authorizer) formatTerm(t datalog.Term) string {
	switch t.Kind {
	case datalog.KindVariable:
		return "$" + a.resolveName(t.Variable)
	case datalog.KindInteger:
		return fmt.Sprintf("%d", t.Integer)
	case datalog.KindString:
		return fmt.Sprintf("%q", a.resolveName(t.String))
	case datalog.KindBool:
		return fmt.Sprintf("%t", t.Bool)
	default:
		return fmt.Sprintf("%+v", t)
	}
}
