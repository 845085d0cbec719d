package datalog

import (
	"fmt"
	"strconv"
	"strings"

	"rubin.dev/biscuit/biscuiterr"
)

var errNotGround = biscuiterr.New(biscuiterr.InvalidType, "fact terms must be ground (no variables)")

// termKey renders a canonical string encoding of t, used for set/map
// membership keys and as a stable fingerprint in dedup and memoization.
// It is intentionally not a wire format -- only equality and hashing
// need to agree.
func termKey(t Term) string {
	var b strings.Builder
	writeTermKey(&b, t)
	return b.String()
}

func writeTermKey(b *strings.Builder, t Term) {
	switch t.Kind {
	case KindVariable:
		b.WriteString("v:")
		b.WriteString(strconv.FormatUint(t.Variable, 10))
	case KindInteger:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(t.Integer, 10))
	case KindString:
		b.WriteString("s:")
		b.WriteString(strconv.FormatUint(t.String, 10))
	case KindDate:
		b.WriteString("d:")
		b.WriteString(strconv.FormatUint(t.Date, 10))
	case KindBytes:
		b.WriteString("y:")
		b.WriteString(fmt.Sprintf("%x", t.Bytes))
	case KindBool:
		if t.Bool {
			b.WriteString("b:1")
		} else {
			b.WriteString("b:0")
		}
	case KindNull:
		b.WriteString("n:")
	case KindSet:
		b.WriteString("S[")
		for i, e := range t.Set {
			if i > 0 {
				b.WriteByte(',')
			}
			writeTermKey(b, e)
		}
		b.WriteByte(']')
	case KindArray:
		b.WriteString("A[")
		for i, e := range t.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			writeTermKey(b, e)
		}
		b.WriteByte(']')
	case KindMap:
		b.WriteString("M[")
		keys := make([]MapKey, 0, len(t.Map))
		for k := range t.Map {
			keys = append(keys, k)
		}
		sortMapKeys(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			if k.IsString {
				b.WriteString("s:")
				b.WriteString(strconv.FormatUint(k.Str, 10))
			} else {
				b.WriteString("i:")
				b.WriteString(strconv.FormatInt(k.Int, 10))
			}
			b.WriteByte('=')
			writeTermKey(b, t.Map[k])
		}
		b.WriteByte(']')
	}
}

func sortMapKeys(keys []MapKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].Less(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

// predicateKey renders a canonical key for a ground predicate.
func predicateKey(p Predicate) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(p.Name, 10))
	b.WriteByte('(')
	for i, t := range p.Terms {
		if i > 0 {
			b.WriteByte(',')
		}
		writeTermKey(&b, t)
	}
	b.WriteByte(')')
	return b.String()
}
