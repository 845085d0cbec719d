// Package symbol implements the per-token string and public-key interning
// described in spec section 4.2: a small integer id namespace below a
// fixed offset is reserved for a hard-coded default table; everything at
// or above the offset is assigned by the blocks that introduce it, in
// block order.
package symbol

import "rubin.dev/biscuit/biscuiterr"

// DefaultOffset is the first id available to caller-introduced strings.
// Ids below this value resolve through DefaultTable and must never be
// redefined by a block (spec section 3 invariants).
const DefaultOffset uint64 = 1024

// defaultSymbols is the protocol's fixed default table (spec section 4.2,
// 9): a published, version-independent list of well-known predicate and
// value names every verifier agrees on without any block needing to
// declare them. Order is part of the wire format -- never reorder or
// insert in the middle of this slice; only ever append new protocol
// symbols after it in a future revision, at a new fixed id.
var defaultSymbols = []string{
	"read",
	"write",
	"resource",
	"operation",
	"right",
	"time",
	"role",
	"owner",
	"tenant",
	"namespace",
	"user",
	"team",
	"authority",
	"ambient",
	"previous",
	"current_time",
	"revocation_id",
	"expired",
	"unbound",
	"allow",
	"deny",
	"check",
	"policy",
	"query",
}

// DefaultTable returns the index of name in the fixed default table, or
// (0, false) if name is not a default symbol.
func DefaultTable(name string) (uint64, bool) {
	for i, s := range defaultSymbols {
		if s == name {
			return uint64(i), true
		}
	}
	return 0, false
}

// DefaultSymbolName returns the default-table string for id, or
// ("", false) if id is outside the default table's range.
func DefaultSymbolName(id uint64) (string, bool) {
	if id >= uint64(len(defaultSymbols)) {
		return "", false
	}
	return defaultSymbols[id], true
}

// Table is a block-local symbol table: the strings newly introduced by
// one block, along with the ids assigned to them starting at DefaultOffset
// plus the running total of symbols from earlier blocks.
type Table struct {
	byID   []string
	byName map[string]uint64
	base   uint64 // id of the first entry in this table
}

// NewTable creates an empty table whose first assigned id is base.
func NewTable(base uint64) *Table {
	return &Table{byName: make(map[string]uint64), base: base}
}

// Insert adds name if absent and returns its id. If name is already present
// in the default table, Insert returns SymbolTableOverlap -- builder-stage
// construction must not redefine a symbol (spec 4.2). If name is already in
// this table, Insert returns its existing id without error.
func (t *Table) Insert(name string) (uint64, error) {
	if _, ok := DefaultTable(name); ok {
		return 0, biscuiterr.Newf(biscuiterr.SymbolTableOverlap, "symbol %q is already in the default table", name)
	}
	if id, ok := t.byName[name]; ok {
		return id, nil
	}
	id := t.base + uint64(len(t.byID))
	t.byID = append(t.byID, name)
	t.byName[name] = id
	return id, nil
}

// InsertShadowing behaves like Insert but never errors on collision: later
// ids simply shadow earlier ones for in-block references, matching the
// deserialization behavior spec 4.2 calls out ("later ids simply shadow
// earlier ones for in-block references while outer resolution uses the
// earliest id").
func (t *Table) InsertShadowing(name string) uint64 {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := t.base + uint64(len(t.byID))
	t.byID = append(t.byID, name)
	t.byName[name] = id
	return id
}

// InternOrInsert satisfies datalog.Intern: it resolves name against the
// default table first, then this table, inserting a new local entry only
// when neither already has it.
func (t *Table) InternOrInsert(name string) uint64 {
	if id, ok := DefaultTable(name); ok {
		return id
	}
	if id, ok := t.byName[name]; ok {
		return id
	}
	id, err := t.Insert(name)
	if err != nil {
		// Insert only fails on default-table overlap, already excluded above.
		return 0
	}
	return id
}

// Strings returns the strings introduced by this table, in declaration order.
func (t *Table) Strings() []string {
	return append([]string(nil), t.byID...)
}

// ID looks up the id for name within this table only (not the default table).
func (t *Table) ID(name string) (uint64, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Name looks up the string for a local id (>= t.base).
func (t *Table) Name(id uint64) (string, bool) {
	if id < t.base || id-t.base >= uint64(len(t.byID)) {
		return "", false
	}
	return t.byID[id-t.base], true
}

// Chain is the effective, read-only symbol table of a whole token: the
// default table concatenated with every block's local strings in block
// order, third-party blocks included. A third-party block's Table is not
// resolved separately from the rest of the token: it is appended to the
// Chain like any other block's.
type Chain struct {
	blocks []*Table
}

// NewChain builds the accumulated view over blocks in chain order. Each
// Table's base must equal DefaultOffset plus the sum of prior tables'
// lengths; callers assemble blocks with NewTable(chain.NextBase()).
func NewChain() *Chain {
	return &Chain{}
}

// NextBase returns the base id the next appended block's Table must use.
func (c *Chain) NextBase() uint64 {
	total := DefaultOffset
	for _, b := range c.blocks {
		total += uint64(len(b.byID))
	}
	return total
}

// Append adds a block's local table to the chain. The caller is
// responsible for having built it with base == c.NextBase().
func (c *Chain) Append(t *Table) error {
	if t.base != c.NextBase() {
		return biscuiterr.Newf(biscuiterr.MissingSymbols, "symbol table block base %d does not follow chain (expected %d)", t.base, c.NextBase())
	}
	c.blocks = append(c.blocks, t)
	return nil
}

// Resolve returns the string for any id, whether it falls in the default
// table or in one of the chained blocks.
func (c *Chain) Resolve(id uint64) (string, error) {
	if id < DefaultOffset {
		name, ok := DefaultSymbolName(id)
		if !ok {
			return "", biscuiterr.Newf(biscuiterr.MissingSymbols, "no default symbol for id %d", id)
		}
		return name, nil
	}
	for _, b := range c.blocks {
		if name, ok := b.Name(id); ok {
			return name, nil
		}
	}
	return "", biscuiterr.Newf(biscuiterr.MissingSymbols, "no symbol for id %d", id)
}

// Intern returns the id for name, consulting the default table first and
// then each chained block in order -- the earliest declaration wins, per
// spec 4.2's shadowing rule.
func (c *Chain) Intern(name string) (uint64, bool) {
	if id, ok := DefaultTable(name); ok {
		return id, true
	}
	for _, b := range c.blocks {
		if id, ok := b.ID(name); ok {
			return id, true
		}
	}
	return 0, false
}
