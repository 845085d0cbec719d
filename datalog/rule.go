package datalog

import "rubin.dev/biscuit/biscuiterr"

// Rule derives Head whenever Body unifies against the fact store and every
// Expression evaluates to true (spec section 3/4.3). Scopes restrict which
// origins the body predicates may be matched against.
type Rule struct {
	Head        Predicate
	Body        []Predicate
	Expressions []Expression
	Scopes      []Scope
}

func NewRule(head Predicate, body []Predicate, exprs []Expression, scopes []Scope) (Rule, error) {
	r := Rule{
		Head:        head,
		Body:        append([]Predicate(nil), body...),
		Expressions: append([]Expression(nil), exprs...),
		Scopes:      append([]Scope(nil), scopes...),
	}
	if err := r.validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// validate enforces the head-variable-safety invariant (spec section 3,
// 6): every variable occurring in Head must also occur in at least one
// Body predicate, so the solver can never produce an unbound head.
func (r Rule) validate() error {
	bound := make(map[uint64]bool)
	for _, p := range r.Body {
		for _, t := range p.Terms {
			if t.Kind == KindVariable {
				bound[t.Variable] = true
			}
		}
	}
	for _, t := range r.Head.Terms {
		if t.Kind == KindVariable && !bound[t.Variable] {
			return biscuiterr.Newf(biscuiterr.InvalidVariables, "rule head uses unbound variable %d", t.Variable)
		}
	}
	return nil
}

// CheckKind tags a Check's evaluation mode (spec section 3/4.5).
type CheckKind uint8

const (
	CheckOne CheckKind = iota
	CheckAll
	CheckReject
)

// Check is a sequence of rule-shaped queries evaluated against a world at
// a given trust level; its Kind controls how the per-query results combine
// into a single pass/fail (spec section 3/4.5).
type Check struct {
	Kind    CheckKind
	Queries []Rule
}

// PolicyKind tags whether a matching Policy allows or denies the request.
type PolicyKind uint8

const (
	PolicyAllow PolicyKind = iota
	PolicyDeny
)

// Policy is an authorizer-only ordered alternative: the first Policy whose
// Queries produce a match decides the authorization outcome (spec 4.5/4.6).
type Policy struct {
	Kind    PolicyKind
	Queries []Rule
}
