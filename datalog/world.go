package datalog

// FactWithOrigin pairs a ground Fact with the set of block ids that
// contributed to its presence (spec section 3/4.3).
type FactWithOrigin struct {
	Fact   Fact
	Origin Origin
}

// World holds the full fact store built up while running the solver, plus
// the rules contributed by every block and the authorizer.
type World struct {
	facts   []FactWithOrigin
	factSet map[string]bool // dedup key: fact key + origin key

	rules []ruleEntry

	strings Interner
}

type ruleEntry struct {
	Rule    Rule
	BlockID uint32
	Trusted TrustedOrigins
}

func NewWorld(strings_ Interner) *World {
	return &World{factSet: make(map[string]bool), strings: strings_}
}

// AddFact inserts a fact tagged with origin if not already present
// (exact (fact, origin) duplicates are no-ops). Reports whether a new
// entry was added.
func (w *World) AddFact(f Fact, origin Origin) bool {
	key := f.key() + "|" + origin.key()
	if w.factSet[key] {
		return false
	}
	w.factSet[key] = true
	w.facts = append(w.facts, FactWithOrigin{Fact: f, Origin: origin})
	return true
}

// AddRule registers a rule belonging to blockID with precomputed trusted
// origins (spec 4.3's per-rule scope resolution, computed once up front
// by the caller via ComputeTrustedOrigins).
func (w *World) AddRule(r Rule, blockID uint32, trusted TrustedOrigins) {
	w.rules = append(w.rules, ruleEntry{Rule: r, BlockID: blockID, Trusted: trusted})
}

func (w *World) Facts() []FactWithOrigin {
	return append([]FactWithOrigin(nil), w.facts...)
}

func (w *World) FactCount() int { return len(w.facts) }

// eligible returns the facts whose name matches name and whose origin is
// a subset of trusted (spec 4.3: "apply a rule against all facts whose
// origin is in the rule's trusted-origin set").
func (w *World) eligible(name uint64, trusted TrustedOrigins) []FactWithOrigin {
	var out []FactWithOrigin
	for _, f := range w.facts {
		if f.Fact.Predicate.Name == name && f.Origin.Subset(trusted) {
			out = append(out, f)
		}
	}
	return out
}

// unifyTerm attempts to unify a rule term (possibly a Variable) against a
// ground fact term, extending bindings. Returns the extended bindings (a
// fresh copy) and whether unification succeeded.
func unifyTerm(ruleTerm, factTerm Term, bindings Bindings) (Bindings, bool) {
	if ruleTerm.Kind == KindVariable {
		if existing, ok := bindings[ruleTerm.Variable]; ok {
			return bindings, existing.Equal(factTerm)
		}
		next := cloneBindings(bindings)
		next[ruleTerm.Variable] = factTerm
		return next, true
	}
	return bindings, ruleTerm.Equal(factTerm)
}

func unifyPredicate(p Predicate, f Fact, bindings Bindings) (Bindings, bool) {
	if len(p.Terms) != len(f.Predicate.Terms) {
		return bindings, false
	}
	cur := bindings
	for i, t := range p.Terms {
		next, ok := unifyTerm(t, f.Predicate.Terms[i], cur)
		if !ok {
			return bindings, false
		}
		cur = next
	}
	return cur, true
}

// solution is one complete way of matching every body predicate: the
// resulting bindings and the union of all matched facts' origins.
type solution struct {
	bindings Bindings
	origin   Origin
}

// enumerate performs the backtracking join across rule.Body, invoking
// emit for every complete binding (before expression filtering).
func (w *World) enumerate(body []Predicate, trusted TrustedOrigins, emit func(solution)) {
	var rec func(idx int, bindings Bindings, origin Origin)
	rec = func(idx int, bindings Bindings, origin Origin) {
		if idx == len(body) {
			emit(solution{bindings: bindings, origin: origin})
			return
		}
		pred := body[idx]
		for _, cand := range w.eligible(pred.Name, trusted) {
			next, ok := unifyPredicate(pred, cand.Fact, bindings)
			if !ok {
				continue
			}
			rec(idx+1, next, origin.Union(cand.Origin))
		}
	}
	rec(0, Bindings{}, Origin{})
}

func substitute(p Predicate, bindings Bindings) (Predicate, bool) {
	out := Predicate{Name: p.Name, Terms: make([]Term, len(p.Terms))}
	for i, t := range p.Terms {
		if t.Kind == KindVariable {
			v, ok := bindings[t.Variable]
			if !ok {
				return Predicate{}, false
			}
			out.Terms[i] = v
		} else {
			out.Terms[i] = t
		}
	}
	return out, true
}

// queryRule evaluates one rule's body+expressions against the world and
// returns the facts it derives, each tagged with its contributing origin
// unioned with blockID.
func (w *World) queryRule(entry ruleEntry) ([]FactWithOrigin, error) {
	var derived []FactWithOrigin
	var evalErr error
	w.enumerate(entry.Rule.Body, entry.Trusted, func(s solution) {
		if evalErr != nil {
			return
		}
		for _, expr := range entry.Rule.Expressions {
			r, err := Eval(expr, s.bindings, w.strings)
			if err != nil {
				evalErr = err
				return
			}
			if r.Kind != KindBool || !r.Bool {
				return
			}
		}
		head, ok := substitute(entry.Rule.Head, s.bindings)
		if !ok {
			return
		}
		derived = append(derived, FactWithOrigin{
			Fact:   Fact{Predicate: head},
			Origin: s.origin.Union(NewOrigin(entry.BlockID)),
		})
	})
	return derived, evalErr
}

// queryMatch reports whether rule has at least one solution whose
// expressions all evaluate true (used by Check kind One/Reject and by
// Policy matching).
func (w *World) queryMatch(rule Rule, trusted TrustedOrigins) (bool, error) {
	matched := false
	var evalErr error
	w.enumerate(rule.Body, trusted, func(s solution) {
		if matched || evalErr != nil {
			return
		}
		for _, expr := range rule.Expressions {
			r, err := Eval(expr, s.bindings, w.strings)
			if err != nil {
				evalErr = err
				return
			}
			if r.Kind != KindBool || !r.Bool {
				return
			}
		}
		matched = true
	})
	return matched, evalErr
}

// checkMatchAll implements Check kind All: every body unification (not
// filtered by expressions) must satisfy every expression. Vacuously true
// when the body has zero unifications.
func (w *World) checkMatchAll(rule Rule, trusted TrustedOrigins) (bool, error) {
	ok := true
	var evalErr error
	w.enumerate(rule.Body, trusted, func(s solution) {
		if !ok || evalErr != nil {
			return
		}
		for _, expr := range rule.Expressions {
			r, err := Eval(expr, s.bindings, w.strings)
			if err != nil {
				evalErr = err
				return
			}
			if r.Kind != KindBool || !r.Bool {
				ok = false
				return
			}
		}
	})
	return ok, evalErr
}

// CheckPasses evaluates check against the world using trusted as the
// trust boundary for every one of its queries (spec 4.5).
func (w *World) CheckPasses(check Check, trusted TrustedOrigins) (bool, error) {
	switch check.Kind {
	case CheckOne:
		for _, q := range check.Queries {
			ok, err := w.queryMatch(q, trusted)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case CheckAll:
		for _, q := range check.Queries {
			ok, err := w.checkMatchAll(q, trusted)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case CheckReject:
		for _, q := range check.Queries {
			ok, err := w.queryMatch(q, trusted)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

// PolicyMatches reports whether any of policy's queries has a match,
// using trusted as the policy's trust boundary.
func (w *World) PolicyMatches(policy Policy, trusted TrustedOrigins) (bool, error) {
	for _, q := range policy.Queries {
		ok, err := w.queryMatch(q, trusted)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
