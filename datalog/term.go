// Package datalog implements the restricted Datalog dialect described in
// spec section 3/4.3/4.4: terms, predicates, facts, rules, the expression
// VM, and the origin-aware fixed-point solver.
package datalog

import (
	"fmt"
	"sort"

	"rubin.dev/biscuit/biscuiterr"
)

// Kind tags a Term's variant.
type Kind uint8

const (
	KindVariable Kind = iota
	KindInteger
	KindString
	KindDate
	KindBytes
	KindBool
	KindSet
	KindArray
	KindMap
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	case KindSet:
		return "set"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MapKey is the restricted subset of Term kinds valid as map keys:
// Integer or String only.
type MapKey struct {
	IsString bool
	Str      uint64 // symbol id, valid when IsString
	Int      int64  // valid when !IsString
}

func (k MapKey) Less(other MapKey) bool {
	if k.IsString != other.IsString {
		return !k.IsString // integers sort before strings, arbitrary but stable
	}
	if k.IsString {
		return k.Str < other.Str
	}
	return k.Int < other.Int
}

func (k MapKey) Equal(other MapKey) bool {
	return k.IsString == other.IsString && k.Str == other.Str && k.Int == other.Int
}

// Term is a tagged variant over the seven primitive kinds plus the three
// composite kinds (spec section 3). Only one of the payload fields is
// meaningful, selected by Kind.
type Term struct {
	Kind Kind

	Variable uint64 // KindVariable: variable id
	Integer  int64  // KindInteger
	String   uint64 // KindString: interned symbol id
	Date     uint64 // KindDate: seconds since epoch
	Bytes    []byte // KindBytes
	Bool     bool   // KindBool

	Set   []Term           // KindSet: unordered, deduplicated, no variables/sets inside
	Array []Term           // KindArray: ordered
	Map   map[MapKey]Term // KindMap
}

func Variable(id uint64) Term    { return Term{Kind: KindVariable, Variable: id} }
func Integer(v int64) Term       { return Term{Kind: KindInteger, Integer: v} }
func String(symbolID uint64) Term { return Term{Kind: KindString, String: symbolID} }
func Date(secs uint64) Term      { return Term{Kind: KindDate, Date: secs} }
func Bytes(b []byte) Term        { return Term{Kind: KindBytes, Bytes: append([]byte(nil), b...)} }
func Bool(b bool) Term           { return Term{Kind: KindBool, Bool: b} }
func Null() Term                 { return Term{Kind: KindNull} }

// NewSet builds a Set term after validating that every element is ground
// (no Variable) and not itself a Set (spec 3: "set ... may only contain
// ground terms (no variables inside collections)"), then deduplicates and
// sorts for a canonical, order-independent representation.
func NewSet(elems []Term) (Term, error) {
	seen := make([]Term, 0, len(elems))
	for _, e := range elems {
		if e.Kind == KindVariable {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "set elements must be ground")
		}
		if e.Kind == KindSet {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "sets may not contain sets")
		}
		if !containsTerm(seen, e) {
			seen = append(seen, e)
		}
	}
	sort.Slice(seen, func(i, j int) bool { return termLess(seen[i], seen[j]) })
	return Term{Kind: KindSet, Set: seen}, nil
}

// NewArray builds an Array term, validating groundness of every element.
func NewArray(elems []Term) (Term, error) {
	for _, e := range elems {
		if e.Kind == KindVariable {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "array elements must be ground")
		}
	}
	return Term{Kind: KindArray, Array: append([]Term(nil), elems...)}, nil
}

// NewMap builds a Map term, validating groundness of every value.
func NewMap(m map[MapKey]Term) (Term, error) {
	out := make(map[MapKey]Term, len(m))
	for k, v := range m {
		if v.Kind == KindVariable {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "map values must be ground")
		}
		out[k] = v
	}
	return Term{Kind: KindMap, Map: out}, nil
}

// IsGround reports whether t contains no Variable (directly; composite
// terms are always ground by construction per NewSet/NewArray/NewMap).
func (t Term) IsGround() bool { return t.Kind != KindVariable }

// Equal is strict, type-matching equality: it is only ever true for two
// terms of the same Kind, and returns false (never an error) for terms of
// different Kinds. The InvalidType error for == and != on mismatched
// Kinds is raised by the expression VM in expr.go, not here.
func (t Term) Equal(other Term) bool {
	if t.Kind != other.Kind {
		return false
	}
	return t.equalSameKind(other)
}

func (t Term) equalSameKind(other Term) bool {
	switch t.Kind {
	case KindVariable:
		return t.Variable == other.Variable
	case KindInteger:
		return t.Integer == other.Integer
	case KindString:
		return t.String == other.String
	case KindDate:
		return t.Date == other.Date
	case KindBytes:
		return string(t.Bytes) == string(other.Bytes)
	case KindBool:
		return t.Bool == other.Bool
	case KindNull:
		return true
	case KindSet:
		if len(t.Set) != len(other.Set) {
			return false
		}
		for i := range t.Set {
			if !t.Set[i].Equal(other.Set[i]) {
				return false
			}
		}
		return true
	case KindArray:
		if len(t.Array) != len(other.Array) {
			return false
		}
		for i := range t.Array {
			if !t.Array[i].Equal(other.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(t.Map) != len(other.Map) {
			return false
		}
		for k, v := range t.Map {
			ov, ok := other.Map[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func containsTerm(haystack []Term, needle Term) bool {
	for _, h := range haystack {
		if h.Equal(needle) {
			return true
		}
	}
	return false
}

// termLess gives Set a canonical, deterministic element order. Ordering
// is by Kind first (stable but otherwise arbitrary), then by payload.
func termLess(a, b Term) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	switch a.Kind {
	case KindInteger:
		return a.Integer < b.Integer
	case KindString:
		return a.String < b.String
	case KindDate:
		return a.Date < b.Date
	case KindBytes:
		return string(a.Bytes) < string(b.Bytes)
	case KindBool:
		return !a.Bool && b.Bool
	default:
		return false
	}
}

// SetEqual reports whether two sets contain the same elements (both are
// already canonicalized by NewSet, so this is a direct slice compare).
func SetEqual(a, b Term) bool { return a.Equal(b) }

// SetIntersection returns the set of elements present in both a and b.
func SetIntersection(a, b Term) (Term, error) {
	if a.Kind != KindSet || b.Kind != KindSet {
		return Term{}, biscuiterr.New(biscuiterr.InvalidType, "intersection requires two sets")
	}
	var out []Term
	for _, e := range a.Set {
		if containsTerm(b.Set, e) {
			out = append(out, e)
		}
	}
	return NewSet(out)
}

// SetUnion returns the set of elements present in either a or b.
func SetUnion(a, b Term) (Term, error) {
	if a.Kind != KindSet || b.Kind != KindSet {
		return Term{}, biscuiterr.New(biscuiterr.InvalidType, "union requires two sets")
	}
	out := append([]Term(nil), a.Set...)
	out = append(out, b.Set...)
	return NewSet(out)
}
