package wireformat

import (
	"google.golang.org/protobuf/encoding/protowire"

	"rubin.dev/biscuit/biscuiterr"
	"rubin.dev/biscuit/datalog"
)

// Block mirrors the inner message carried by SignedBlock.Block (spec
// section 6): the symbols a block introduces, its facts/rules/checks,
// the key-table entries its scopes reference, and the schema version it
// was written against.
type Block struct {
	Symbols    []string
	Context    *string
	Version    uint32
	Facts      []datalog.Fact
	Rules      []datalog.Rule
	Checks     []datalog.Check
	Scopes     []datalog.Scope
	PublicKeys []PublicKey
}

const (
	fieldBlockEntrySymbols protowire.Number = iota + 1
	fieldBlockEntryContext
	fieldBlockEntryVersion
	fieldBlockEntryFacts
	fieldBlockEntryRules
	fieldBlockEntryChecks
	fieldBlockEntryScopes
	fieldBlockEntryPublicKeys
)

func EncodeBlock(b Block) []byte {
	var out []byte
	for _, s := range b.Symbols {
		out = protowire.AppendTag(out, fieldBlockSymbols, protowire.BytesType)
		out = protowire.AppendString(out, s)
	}
	if b.Context != nil {
		out = protowire.AppendTag(out, fieldBlockContext, protowire.BytesType)
		out = protowire.AppendString(out, *b.Context)
	}
	out = protowire.AppendTag(out, fieldBlockVersion, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.Version))
	for _, f := range b.Facts {
		out = protowire.AppendTag(out, fieldBlockFacts, protowire.BytesType)
		out = protowire.AppendBytes(out, encodePredicate(f.Predicate))
	}
	for _, r := range b.Rules {
		out = protowire.AppendTag(out, fieldBlockRules, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeRule(r))
	}
	for _, c := range b.Checks {
		out = protowire.AppendTag(out, fieldBlockChecks, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeCheck(c))
	}
	for _, s := range b.Scopes {
		out = protowire.AppendTag(out, fieldBlockScopes, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeScope(s))
	}
	for _, pk := range b.PublicKeys {
		out = protowire.AppendTag(out, fieldBlockPublicKeys, protowire.BytesType)
		out = protowire.AppendBytes(out, EncodePublicKey(pk))
	}
	return out
}

func DecodeBlock(data []byte) (Block, error) {
	var b Block
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Block{}, wireErr("Block", n)
		}
		data = data[n:]
		switch num {
		case fieldBlockSymbols:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Block{}, wireErr("Block.symbols", n)
			}
			b.Symbols = append(b.Symbols, v)
			data = data[n:]
		case fieldBlockContext:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Block{}, wireErr("Block.context", n)
			}
			ctx := v
			b.Context = &ctx
			data = data[n:]
		case fieldBlockVersion:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Block{}, wireErr("Block.version", n)
			}
			b.Version = uint32(v)
			data = data[n:]
		case fieldBlockFacts:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Block{}, wireErr("Block.facts", n)
			}
			p, err := decodePredicate(v)
			if err != nil {
				return Block{}, err
			}
			b.Facts = append(b.Facts, datalog.Fact{Predicate: p})
			data = data[n:]
		case fieldBlockRules:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Block{}, wireErr("Block.rules", n)
			}
			r, err := decodeRule(v)
			if err != nil {
				return Block{}, err
			}
			b.Rules = append(b.Rules, r)
			data = data[n:]
		case fieldBlockChecks:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Block{}, wireErr("Block.checks", n)
			}
			c, err := decodeCheck(v)
			if err != nil {
				return Block{}, err
			}
			b.Checks = append(b.Checks, c)
			data = data[n:]
		case fieldBlockScopes:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Block{}, wireErr("Block.scopes", n)
			}
			s, err := decodeScope(v)
			if err != nil {
				return Block{}, err
			}
			b.Scopes = append(b.Scopes, s)
			data = data[n:]
		case fieldBlockPublicKeys:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Block{}, wireErr("Block.publicKeys", n)
			}
			pk, err := DecodePublicKey(v)
			if err != nil {
				return Block{}, err
			}
			b.PublicKeys = append(b.PublicKeys, pk)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Block{}, wireErr("Block.unknown", n)
			}
			data = data[n:]
		}
	}
	return b, nil
}

// --- Term ---

const (
	fieldTermVariable protowire.Number = iota + 1
	fieldTermInteger
	fieldTermString
	fieldTermDate
	fieldTermBytes
	fieldTermBool
	fieldTermSet
	fieldTermArray
	fieldTermMap
	fieldTermNull
)

const listEntryField protowire.Number = 1

func encodeTerm(t datalog.Term) []byte {
	var out []byte
	switch t.Kind {
	case datalog.KindVariable:
		out = protowire.AppendTag(out, fieldTermVariable, protowire.VarintType)
		out = protowire.AppendVarint(out, t.Variable)
	case datalog.KindInteger:
		out = protowire.AppendTag(out, fieldTermInteger, protowire.VarintType)
		out = protowire.AppendVarint(out, protowire.EncodeZigZag(t.Integer))
	case datalog.KindString:
		out = protowire.AppendTag(out, fieldTermString, protowire.VarintType)
		out = protowire.AppendVarint(out, t.String)
	case datalog.KindDate:
		out = protowire.AppendTag(out, fieldTermDate, protowire.VarintType)
		out = protowire.AppendVarint(out, t.Date)
	case datalog.KindBytes:
		out = protowire.AppendTag(out, fieldTermBytes, protowire.BytesType)
		out = protowire.AppendBytes(out, t.Bytes)
	case datalog.KindBool:
		out = protowire.AppendTag(out, fieldTermBool, protowire.VarintType)
		v := uint64(0)
		if t.Bool {
			v = 1
		}
		out = protowire.AppendVarint(out, v)
	case datalog.KindSet:
		out = protowire.AppendTag(out, fieldTermSet, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeTermList(t.Set))
	case datalog.KindArray:
		out = protowire.AppendTag(out, fieldTermArray, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeTermList(t.Array))
	case datalog.KindMap:
		out = protowire.AppendTag(out, fieldTermMap, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeMapEntries(t.Map))
	case datalog.KindNull:
		out = protowire.AppendTag(out, fieldTermNull, protowire.VarintType)
		out = protowire.AppendVarint(out, 1)
	}
	return out
}

func decodeTerm(data []byte) (datalog.Term, error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return datalog.Term{}, wireErr("Term", n)
	}
	data = data[n:]
	switch num {
	case fieldTermVariable:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.variable", n)
		}
		return datalog.Variable(v), nil
	case fieldTermInteger:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.integer", n)
		}
		return datalog.Integer(protowire.DecodeZigZag(v)), nil
	case fieldTermString:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.string", n)
		}
		return datalog.String(v), nil
	case fieldTermDate:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.date", n)
		}
		return datalog.Date(v), nil
	case fieldTermBytes:
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.bytes", n)
		}
		return datalog.Bytes(v), nil
	case fieldTermBool:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.bool", n)
		}
		return datalog.Bool(v != 0), nil
	case fieldTermSet:
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.set", n)
		}
		elems, err := decodeTermList(v)
		if err != nil {
			return datalog.Term{}, err
		}
		return datalog.NewSet(elems)
	case fieldTermArray:
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.array", n)
		}
		elems, err := decodeTermList(v)
		if err != nil {
			return datalog.Term{}, err
		}
		return datalog.NewArray(elems)
	case fieldTermMap:
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return datalog.Term{}, wireErr("Term.map", n)
		}
		m, err := decodeMapEntries(v)
		if err != nil {
			return datalog.Term{}, err
		}
		return datalog.NewMap(m)
	case fieldTermNull:
		if _, n := protowire.ConsumeVarint(data); n < 0 {
			return datalog.Term{}, wireErr("Term.null", n)
		}
		return datalog.Null(), nil
	default:
		return datalog.Term{}, biscuiterr.Newf(biscuiterr.DeserializationError, "unknown term field %d", num)
	}
}

func encodeTermList(terms []datalog.Term) []byte {
	var out []byte
	for _, t := range terms {
		out = protowire.AppendTag(out, listEntryField, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeTerm(t))
	}
	return out
}

func decodeTermList(data []byte) ([]datalog.Term, error) {
	var out []datalog.Term
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, wireErr("TermList", n)
		}
		data = data[n:]
		if num != listEntryField {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, wireErr("TermList.unknown", n)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, wireErr("TermList.entry", n)
		}
		t, err := decodeTerm(v)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		data = data[n:]
	}
	return out, nil
}

const (
	fieldMapEntryIsString protowire.Number = iota + 1
	fieldMapEntryKeyInt
	fieldMapEntryKeyStr
	fieldMapEntryValue
)

func encodeMapEntries(m map[datalog.MapKey]datalog.Term) []byte {
	var out []byte
	for k, v := range m {
		var entry []byte
		if k.IsString {
			entry = protowire.AppendTag(entry, fieldMapEntryIsString, protowire.VarintType)
			entry = protowire.AppendVarint(entry, 1)
			entry = protowire.AppendTag(entry, fieldMapEntryKeyStr, protowire.VarintType)
			entry = protowire.AppendVarint(entry, k.Str)
		} else {
			entry = protowire.AppendTag(entry, fieldMapEntryKeyInt, protowire.VarintType)
			entry = protowire.AppendVarint(entry, protowire.EncodeZigZag(k.Int))
		}
		entry = protowire.AppendTag(entry, fieldMapEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, encodeTerm(v))

		out = protowire.AppendTag(out, listEntryField, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

func decodeMapEntries(data []byte) (map[datalog.MapKey]datalog.Term, error) {
	out := make(map[datalog.MapKey]datalog.Term)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, wireErr("MapEntries", n)
		}
		data = data[n:]
		if num != listEntryField {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, wireErr("MapEntries.unknown", n)
			}
			data = data[n:]
			continue
		}
		entryBytes, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, wireErr("MapEntries.entry", n)
		}
		data = data[n:]

		var key datalog.MapKey
		var value datalog.Term
		haveValue := false
		e := entryBytes
		for len(e) > 0 {
			fnum, ftyp, fn := protowire.ConsumeTag(e)
			if fn < 0 {
				return nil, wireErr("MapEntry", fn)
			}
			e = e[fn:]
			switch fnum {
			case fieldMapEntryIsString:
				v, fn := protowire.ConsumeVarint(e)
				if fn < 0 {
					return nil, wireErr("MapEntry.isString", fn)
				}
				key.IsString = v != 0
				e = e[fn:]
			case fieldMapEntryKeyInt:
				v, fn := protowire.ConsumeVarint(e)
				if fn < 0 {
					return nil, wireErr("MapEntry.keyInt", fn)
				}
				key.Int = protowire.DecodeZigZag(v)
				e = e[fn:]
			case fieldMapEntryKeyStr:
				v, fn := protowire.ConsumeVarint(e)
				if fn < 0 {
					return nil, wireErr("MapEntry.keyStr", fn)
				}
				key.Str = v
				e = e[fn:]
			case fieldMapEntryValue:
				v, fn := protowire.ConsumeBytes(e)
				if fn < 0 {
					return nil, wireErr("MapEntry.value", fn)
				}
				t, err := decodeTerm(v)
				if err != nil {
					return nil, err
				}
				value = t
				haveValue = true
				e = e[fn:]
			default:
				fn := protowire.ConsumeFieldValue(fnum, ftyp, e)
				if fn < 0 {
					return nil, wireErr("MapEntry.unknown", fn)
				}
				e = e[fn:]
			}
		}
		if !haveValue {
			return nil, biscuiterr.New(biscuiterr.DeserializationError, "map entry missing value")
		}
		out[key] = value
	}
	return out, nil
}

// --- Predicate / Rule / Check / Scope ---

const (
	fieldPredicateName protowire.Number = iota + 1
	fieldPredicateTerms
)

func encodePredicate(p datalog.Predicate) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldPredicateName, protowire.VarintType)
	out = protowire.AppendVarint(out, p.Name)
	for _, t := range p.Terms {
		out = protowire.AppendTag(out, fieldPredicateTerms, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeTerm(t))
	}
	return out
}

func decodePredicate(data []byte) (datalog.Predicate, error) {
	var p datalog.Predicate
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return datalog.Predicate{}, wireErr("Predicate", n)
		}
		data = data[n:]
		switch num {
		case fieldPredicateName:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return datalog.Predicate{}, wireErr("Predicate.name", n)
			}
			p.Name = v
			data = data[n:]
		case fieldPredicateTerms:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Predicate{}, wireErr("Predicate.terms", n)
			}
			t, err := decodeTerm(v)
			if err != nil {
				return datalog.Predicate{}, err
			}
			p.Terms = append(p.Terms, t)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return datalog.Predicate{}, wireErr("Predicate.unknown", n)
			}
			data = data[n:]
		}
	}
	return p, nil
}

const (
	fieldRuleHead protowire.Number = iota + 1
	fieldRuleBody
	fieldRuleExpressions
	fieldRuleScopes
)

func encodeRule(r datalog.Rule) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldRuleHead, protowire.BytesType)
	out = protowire.AppendBytes(out, encodePredicate(r.Head))
	for _, p := range r.Body {
		out = protowire.AppendTag(out, fieldRuleBody, protowire.BytesType)
		out = protowire.AppendBytes(out, encodePredicate(p))
	}
	for _, expr := range r.Expressions {
		out = protowire.AppendTag(out, fieldRuleExpressions, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeExpression(expr))
	}
	for _, s := range r.Scopes {
		out = protowire.AppendTag(out, fieldRuleScopes, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeScope(s))
	}
	return out
}

func decodeRule(data []byte) (datalog.Rule, error) {
	var head datalog.Predicate
	var body []datalog.Predicate
	var exprs []datalog.Expression
	var scopes []datalog.Scope
	haveHead := false
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return datalog.Rule{}, wireErr("Rule", n)
		}
		data = data[n:]
		switch num {
		case fieldRuleHead:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Rule{}, wireErr("Rule.head", n)
			}
			p, err := decodePredicate(v)
			if err != nil {
				return datalog.Rule{}, err
			}
			head = p
			haveHead = true
			data = data[n:]
		case fieldRuleBody:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Rule{}, wireErr("Rule.body", n)
			}
			p, err := decodePredicate(v)
			if err != nil {
				return datalog.Rule{}, err
			}
			body = append(body, p)
			data = data[n:]
		case fieldRuleExpressions:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Rule{}, wireErr("Rule.expressions", n)
			}
			expr, err := decodeExpression(v)
			if err != nil {
				return datalog.Rule{}, err
			}
			exprs = append(exprs, expr)
			data = data[n:]
		case fieldRuleScopes:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Rule{}, wireErr("Rule.scopes", n)
			}
			s, err := decodeScope(v)
			if err != nil {
				return datalog.Rule{}, err
			}
			scopes = append(scopes, s)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return datalog.Rule{}, wireErr("Rule.unknown", n)
			}
			data = data[n:]
		}
	}
	if !haveHead {
		return datalog.Rule{}, biscuiterr.New(biscuiterr.DeserializationError, "rule missing head predicate")
	}
	return datalog.NewRule(head, body, exprs, scopes)
}

const (
	fieldCheckKind protowire.Number = iota + 1
	fieldCheckQueries
)

func encodeCheck(c datalog.Check) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldCheckKind, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.Kind))
	for _, q := range c.Queries {
		out = protowire.AppendTag(out, fieldCheckQueries, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeRule(q))
	}
	return out
}

func decodeCheck(data []byte) (datalog.Check, error) {
	var c datalog.Check
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return datalog.Check{}, wireErr("Check", n)
		}
		data = data[n:]
		switch num {
		case fieldCheckKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return datalog.Check{}, wireErr("Check.kind", n)
			}
			c.Kind = datalog.CheckKind(v)
			data = data[n:]
		case fieldCheckQueries:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Check{}, wireErr("Check.queries", n)
			}
			r, err := decodeRule(v)
			if err != nil {
				return datalog.Check{}, err
			}
			c.Queries = append(c.Queries, r)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return datalog.Check{}, wireErr("Check.unknown", n)
			}
			data = data[n:]
		}
	}
	return c, nil
}

const (
	fieldScopeKind protowire.Number = iota + 1
	fieldScopeKeyIndex
)

func encodeScope(s datalog.Scope) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldScopeKind, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(s.Kind))
	if s.Kind == datalog.ScopePublicKey {
		out = protowire.AppendTag(out, fieldScopeKeyIndex, protowire.VarintType)
		out = protowire.AppendVarint(out, s.KeyIndex)
	}
	return out
}

func decodeScope(data []byte) (datalog.Scope, error) {
	var s datalog.Scope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return datalog.Scope{}, wireErr("Scope", n)
		}
		data = data[n:]
		switch num {
		case fieldScopeKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return datalog.Scope{}, wireErr("Scope.kind", n)
			}
			s.Kind = datalog.ScopeKind(v)
			data = data[n:]
		case fieldScopeKeyIndex:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return datalog.Scope{}, wireErr("Scope.keyIndex", n)
			}
			s.KeyIndex = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return datalog.Scope{}, wireErr("Scope.unknown", n)
			}
			data = data[n:]
		}
	}
	return s, nil
}

// --- Expression / Op ---

const (
	fieldOpValue protowire.Number = iota + 1
	fieldOpUnary
	fieldOpBinary
	fieldOpClosure
)

const (
	fieldClosureKind protowire.Number = iota + 1
	fieldClosureParam
	fieldClosureBody
	fieldClosureFallback
)

func encodeOp(op datalog.Op) []byte {
	var out []byte
	switch op.Kind {
	case datalog.OpValue:
		out = protowire.AppendTag(out, fieldOpValue, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeTerm(op.Value))
	case datalog.OpUnary:
		out = protowire.AppendTag(out, fieldOpUnary, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(op.Unary))
	case datalog.OpBinary:
		out = protowire.AppendTag(out, fieldOpBinary, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(op.Binary))
	case datalog.OpClosure:
		var c []byte
		c = protowire.AppendTag(c, fieldClosureKind, protowire.VarintType)
		c = protowire.AppendVarint(c, uint64(op.Closure))
		c = protowire.AppendTag(c, fieldClosureParam, protowire.VarintType)
		c = protowire.AppendVarint(c, op.Param)
		c = protowire.AppendTag(c, fieldClosureBody, protowire.BytesType)
		c = protowire.AppendBytes(c, encodeExpression(op.Body))
		c = protowire.AppendTag(c, fieldClosureFallback, protowire.BytesType)
		c = protowire.AppendBytes(c, encodeTerm(op.Value))

		out = protowire.AppendTag(out, fieldOpClosure, protowire.BytesType)
		out = protowire.AppendBytes(out, c)
	}
	return out
}

func decodeOp(data []byte) (datalog.Op, error) {
	num, _, n := protowire.ConsumeTag(data)
	if n < 0 {
		return datalog.Op{}, wireErr("Op", n)
	}
	data = data[n:]
	switch num {
	case fieldOpValue:
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return datalog.Op{}, wireErr("Op.value", n)
		}
		t, err := decodeTerm(v)
		if err != nil {
			return datalog.Op{}, err
		}
		return datalog.ValueOp(t), nil
	case fieldOpUnary:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Op{}, wireErr("Op.unary", n)
		}
		return datalog.UnaryOpInstr(datalog.UnaryOp(v)), nil
	case fieldOpBinary:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return datalog.Op{}, wireErr("Op.binary", n)
		}
		return datalog.BinaryOpInstr(datalog.BinaryOp(v)), nil
	case fieldOpClosure:
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return datalog.Op{}, wireErr("Op.closure", n)
		}
		return decodeClosure(v)
	default:
		return datalog.Op{}, biscuiterr.Newf(biscuiterr.DeserializationError, "unknown op field %d", num)
	}
}

func decodeClosure(data []byte) (datalog.Op, error) {
	var kind datalog.ClosureOp
	var param uint64
	var body datalog.Expression
	var fallback datalog.Term
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return datalog.Op{}, wireErr("Closure", n)
		}
		data = data[n:]
		switch num {
		case fieldClosureKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return datalog.Op{}, wireErr("Closure.kind", n)
			}
			kind = datalog.ClosureOp(v)
			data = data[n:]
		case fieldClosureParam:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return datalog.Op{}, wireErr("Closure.param", n)
			}
			param = v
			data = data[n:]
		case fieldClosureBody:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Op{}, wireErr("Closure.body", n)
			}
			e, err := decodeExpression(v)
			if err != nil {
				return datalog.Op{}, err
			}
			body = e
			data = data[n:]
		case fieldClosureFallback:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return datalog.Op{}, wireErr("Closure.fallback", n)
			}
			t, err := decodeTerm(v)
			if err != nil {
				return datalog.Op{}, err
			}
			fallback = t
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return datalog.Op{}, wireErr("Closure.unknown", n)
			}
			data = data[n:]
		}
	}
	return datalog.ClosureOpInstr(kind, param, body, fallback), nil
}

func encodeExpression(expr datalog.Expression) []byte {
	var out []byte
	for _, op := range expr {
		out = protowire.AppendTag(out, listEntryField, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeOp(op))
	}
	return out
}

func decodeExpression(data []byte) (datalog.Expression, error) {
	var out datalog.Expression
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, wireErr("Expression", n)
		}
		data = data[n:]
		if num != listEntryField {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, wireErr("Expression.unknown", n)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, wireErr("Expression.op", n)
		}
		op, err := decodeOp(v)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
		data = data[n:]
	}
	return out, nil
}
