package datalog

// Intern resolves a string to a symbol id, inserting it into the active
// block's local symbol table when not already known. Implemented by
// *symbol.Table at the call site; kept as an interface here so datalog
// never imports symbol (the dependency runs the other way).
type Intern interface {
	InternOrInsert(name string) uint64
}

// FactBuilder assembles ground facts from native Go values plus a symbol
// interner, mirroring the programmatic construction style of biscuit
// client libraries (build predicates by name and value, not by parsing
// Datalog text -- a textual parser is out of scope here).
type FactBuilder struct {
	intern Intern
}

func NewFactBuilder(intern Intern) *FactBuilder { return &FactBuilder{intern: intern} }

func (b *FactBuilder) Str(s string) Term { return String(b.intern.InternOrInsert(s)) }
func (b *FactBuilder) Int(v int64) Term  { return Integer(v) }
func (b *FactBuilder) Bool(v bool) Term  { return Bool(v) }

func (b *FactBuilder) Fact(predicateName string, terms ...Term) (Fact, error) {
	return NewFact(b.intern.InternOrInsert(predicateName), terms...)
}

// RuleBuilder assembles Rule values from a head predicate, body
// predicates, and optional expressions/scopes.
type RuleBuilder struct {
	intern Intern
	head   Predicate
	body   []Predicate
	exprs  []Expression
	scopes []Scope
}

func NewRuleBuilder(intern Intern, head Predicate) *RuleBuilder {
	return &RuleBuilder{intern: intern, head: head}
}

func (b *RuleBuilder) Body(preds ...Predicate) *RuleBuilder {
	b.body = append(b.body, preds...)
	return b
}

func (b *RuleBuilder) Where(exprs ...Expression) *RuleBuilder {
	b.exprs = append(b.exprs, exprs...)
	return b
}

func (b *RuleBuilder) Scope(scopes ...Scope) *RuleBuilder {
	b.scopes = append(b.scopes, scopes...)
	return b
}

func (b *RuleBuilder) Predicate(name string, terms ...Term) Predicate {
	return NewPredicate(b.intern.InternOrInsert(name), terms...)
}

func (b *RuleBuilder) Build() (Rule, error) {
	return NewRule(b.head, b.body, b.exprs, b.scopes)
}

// CheckBuilder assembles a Check from one or more query rules.
type CheckBuilder struct {
	kind    CheckKind
	queries []Rule
}

func NewCheckBuilder(kind CheckKind) *CheckBuilder { return &CheckBuilder{kind: kind} }

func (b *CheckBuilder) Query(r Rule) *CheckBuilder {
	b.queries = append(b.queries, r)
	return b
}

func (b *CheckBuilder) Build() Check { return Check{Kind: b.kind, Queries: b.queries} }

// PolicyBuilder assembles a Policy from one or more query rules.
type PolicyBuilder struct {
	kind    PolicyKind
	queries []Rule
}

func NewPolicyBuilder(kind PolicyKind) *PolicyBuilder { return &PolicyBuilder{kind: kind} }

func (b *PolicyBuilder) Query(r Rule) *PolicyBuilder {
	b.queries = append(b.queries, r)
	return b
}

func (b *PolicyBuilder) Build() Policy { return Policy{Kind: b.kind, Queries: b.queries} }
