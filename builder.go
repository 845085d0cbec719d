package biscuit

import (
	"rubin.dev/biscuit/datalog"
	"rubin.dev/biscuit/sig"
	"rubin.dev/biscuit/symbol"
)

// chainedIntern resolves a name against a token's already-accumulated
// symbol chain before falling back to a block's own local table, so a
// predicate name declared in an earlier block (e.g. "group") interns to
// the very same id when a later block's rule references it -- without
// this, two blocks' independently-numbered local tables would never
// agree on an id for the same string and nothing could ever unify
// across block boundaries.
type chainedIntern struct {
	chain *symbol.Chain // nil for a from-scratch authority block
	table *symbol.Table
}

func (c chainedIntern) InternOrInsert(name string) uint64 {
	if c.chain != nil {
		if id, ok := c.chain.Intern(name); ok {
			return id
		}
	}
	return c.table.InternOrInsert(name)
}

// BlockBuilder assembles one block's contents against a symbol table
// whose base has already been fixed by the caller (spec section 4.7):
// NewBlockBuilder for a from-scratch authority block, or
// NextBlockBuilder for an attenuation block appended to an existing
// token. It wraps datalog's programmatic builders so callers never
// touch symbol ids directly.
type BlockBuilder struct {
	intern chainedIntern
	keys   *symbol.KeyTable
	facts  []datalog.Fact
	rules  []datalog.Rule
	checks []datalog.Check
	scopes []datalog.Scope
	ctx    *string
}

// NewBlockBuilder starts a block builder whose local symbol table begins
// at base (use symbol.DefaultOffset for a fresh authority block).
func NewBlockBuilder(base uint64) *BlockBuilder {
	return &BlockBuilder{
		intern: chainedIntern{table: symbol.NewTable(base)},
		keys:   symbol.NewKeyTable(),
	}
}

// Context sets the block's free-form context string (spec 4.1's Block
// message carries an optional context field for tooling/debugging).
func (b *BlockBuilder) Context(ctx string) *BlockBuilder {
	b.ctx = &ctx
	return b
}

// Intern resolves name to a symbol id: an existing id from the token's
// symbol chain if one was already assigned by an earlier block, the
// default table, or else a fresh entry in this block's local table.
func (b *BlockBuilder) Intern(name string) uint64 {
	return b.intern.InternOrInsert(name)
}

// Fact interns predicateName and adds a ground fact built from terms.
func (b *BlockBuilder) Fact(predicateName string, terms ...datalog.Term) *BlockBuilder {
	fb := datalog.NewFactBuilder(b.intern)
	f, err := fb.Fact(predicateName, terms...)
	if err != nil {
		// Terms are caller-supplied and already ground by construction
		// (datalog.Term constructors reject non-ground values); a
		// caller violating that is a programming error, not a runtime
		// condition worth propagating through every builder method.
		panic(err)
	}
	b.facts = append(b.facts, f)
	return b
}

// AddRule appends a fully constructed rule (built with a RuleBuilder
// against this block's Intern method).
func (b *BlockBuilder) AddRule(r datalog.Rule) *BlockBuilder {
	b.rules = append(b.rules, r)
	return b
}

// AddCheck appends a check.
func (b *BlockBuilder) AddCheck(c datalog.Check) *BlockBuilder {
	b.checks = append(b.checks, c)
	return b
}

// Scope appends trust scopes (spec 4.3's authority/previous/public key
// scopes) restricting which facts this block's rules may read.
func (b *BlockBuilder) Scope(scopes ...datalog.Scope) *BlockBuilder {
	b.scopes = append(b.scopes, scopes...)
	return b
}

// TrustKey registers an external public key this block's scopes may
// reference by index (third-party block verification keys, spec 4.6).
func (b *BlockBuilder) TrustKey(k sig.PublicKey) uint64 {
	return b.keys.Insert(k)
}

// RuleBuilder returns a datalog.RuleBuilder wired to this block's
// chain-aware interning, so rule heads/bodies resolve predicate names
// identically to Fact.
func (b *BlockBuilder) RuleBuilder(head datalog.Predicate) *datalog.RuleBuilder {
	return datalog.NewRuleBuilder(b.intern, head)
}

// Predicate interns name and builds a predicate from terms, for use in
// rule bodies or check/policy queries.
func (b *BlockBuilder) Predicate(name string, terms ...datalog.Term) datalog.Predicate {
	return datalog.NewPredicate(b.intern.InternOrInsert(name), terms...)
}

// Build finalizes the block's contents.
func (b *BlockBuilder) Build() BlockContents {
	return BlockContents{
		Symbols: b.intern.table,
		Context: b.ctx,
		Facts:   append([]datalog.Fact(nil), b.facts...),
		Rules:   append([]datalog.Rule(nil), b.rules...),
		Checks:  append([]datalog.Check(nil), b.checks...),
		Scopes:  append([]datalog.Scope(nil), b.scopes...),
		Keys:    b.keys,
	}
}

// NextBlockBuilder starts a BlockBuilder for the next block to be
// appended to t (ordinary or third-party), with its symbol table base
// set correctly and reads against t's accumulated symbol chain so
// repeated predicate names resolve to the ids already in use.
func NextBlockBuilder(t Token) *BlockBuilder {
	return &BlockBuilder{
		intern: chainedIntern{
			chain: t.symbols,
			table: symbol.NewTable(t.symbols.NextBase()),
		},
		keys: symbol.NewKeyTable(),
	}
}
