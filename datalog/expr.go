package datalog

import (
	"regexp"
	"strings"

	"rubin.dev/biscuit/biscuiterr"
)

// OpKind tags an expression-VM instruction (spec section 4.4: the
// restricted expression language compiles to a flat op sequence evaluated
// over a stack machine).
type OpKind uint8

const (
	OpValue OpKind = iota
	OpUnary
	OpBinary
	OpClosure
)

type UnaryOp uint8

const (
	UnaryNegate UnaryOp = iota
	UnaryParens
	UnaryLength
	UnaryTypeOf
)

type BinaryOp uint8

const (
	BinaryLessThan BinaryOp = iota
	BinaryGreaterThan
	BinaryLessOrEqual
	BinaryGreaterOrEqual
	BinaryEqual
	BinaryNotEqual
	BinaryHeterogeneousEqual
	BinaryHeterogeneousNotEqual
	BinaryContains
	BinaryPrefix
	BinarySuffix
	BinaryRegex
	BinaryAdd
	BinarySub
	BinaryMul
	BinaryDiv
	BinaryAnd
	BinaryOr
	BinaryIntersection
	BinaryUnion
	BinaryBitwiseAnd
	BinaryBitwiseOr
	BinaryBitwiseXor
	BinaryGet
)

type ClosureOp uint8

const (
	ClosureAny ClosureOp = iota
	ClosureAll
	ClosureTryOr
	ClosureLazyAnd
	ClosureLazyOr
)

// Op is one instruction of an Expression. Only the field(s) matching Kind
// are meaningful.
type Op struct {
	Kind OpKind

	Value Term

	Unary UnaryOp

	Binary BinaryOp

	Closure ClosureOp
	Param   uint64     // closure-bound variable id
	Body    Expression // closure sub-expression
}

func ValueOp(t Term) Op           { return Op{Kind: OpValue, Value: t} }
func UnaryOpInstr(u UnaryOp) Op   { return Op{Kind: OpUnary, Unary: u} }
func BinaryOpInstr(b BinaryOp) Op { return Op{Kind: OpBinary, Binary: b} }
func ClosureOpInstr(c ClosureOp, param uint64, body Expression, fallback Term) Op {
	return Op{Kind: OpClosure, Closure: c, Param: param, Body: body, Value: fallback}
}

// LazyOpInstr builds a LazyAnd/LazyOr instruction: the already-evaluated
// left Bool is on the stack, body is the right-hand closure evaluated only
// when short-circuiting doesn't decide the result (spec 4.4: "left Bool,
// right Closure; short-circuit; closure evaluated only if needed").
func LazyOpInstr(c ClosureOp, param uint64, body Expression) Op {
	return Op{Kind: OpClosure, Closure: c, Param: param, Body: body}
}

// Expression is a postfix instruction sequence evaluated left to right
// over an operand stack.
type Expression []Op

// Bindings maps a variable id to the term bound to it. Eval substitutes a
// bound Variable term for its value; all other term kinds pass through
// unchanged.
type Bindings map[uint64]Term

type StringResolver interface {
	ResolveString(symbolID uint64) (string, bool)
}

// Interner is a StringResolver that can also register a new string,
// needed only by TypeOf to register the canonical type name it returns
// (spec 4.4: "canonical type name interned into temporary symbol table").
type Interner interface {
	StringResolver
	InternOrInsert(name string) uint64
}

// Eval runs expr to completion and returns its single resulting Term.
// Every Variable encountered must already be present in bindings --
// expressions only ever run after the body predicates that bind their
// variables have been matched.
func Eval(expr Expression, bindings Bindings, strings_ Interner) (Term, error) {
	var stack []Term
	push := func(t Term) { stack = append(stack, t) }
	pop := func() (Term, error) {
		if len(stack) == 0 {
			return Term{}, biscuiterr.New(biscuiterr.Execution, "expression stack underflow")
		}
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return t, nil
	}

	for _, op := range expr {
		switch op.Kind {
		case OpValue:
			t := op.Value
			if t.Kind == KindVariable {
				bound, ok := bindings[t.Variable]
				if !ok {
					return Term{}, biscuiterr.Newf(biscuiterr.UnknownVariable, "unbound variable %d in expression", t.Variable)
				}
				t = bound
			}
			push(t)
		case OpUnary:
			a, err := pop()
			if err != nil {
				return Term{}, err
			}
			r, err := evalUnary(op.Unary, a, strings_)
			if err != nil {
				return Term{}, err
			}
			push(r)
		case OpBinary:
			b, err := pop()
			if err != nil {
				return Term{}, err
			}
			a, err := pop()
			if err != nil {
				return Term{}, err
			}
			r, err := evalBinary(op.Binary, a, b, strings_)
			if err != nil {
				return Term{}, err
			}
			push(r)
		case OpClosure:
			a, err := pop()
			if err != nil {
				return Term{}, err
			}
			r, err := evalClosure(op, a, bindings, strings_)
			if err != nil {
				return Term{}, err
			}
			push(r)
		}
	}
	if len(stack) != 1 {
		return Term{}, biscuiterr.Newf(biscuiterr.Execution, "expression left %d values on the stack, expected 1", len(stack))
	}
	return stack[0], nil
}

func evalUnary(op UnaryOp, a Term, strings_ Interner) (Term, error) {
	switch op {
	case UnaryParens:
		return a, nil
	case UnaryNegate:
		if a.Kind != KindBool {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "negate requires a bool")
		}
		return Bool(!a.Bool), nil
	case UnaryLength:
		switch a.Kind {
		case KindString:
			if strings_ == nil {
				return Term{}, biscuiterr.New(biscuiterr.Execution, "length of a string requires a string resolver")
			}
			s, ok := strings_.ResolveString(a.String)
			if !ok {
				return Term{}, biscuiterr.New(biscuiterr.Execution, "unresolvable interned string")
			}
			return Integer(int64(len(s))), nil
		case KindBytes:
			return Integer(int64(len(a.Bytes))), nil
		case KindSet:
			return Integer(int64(len(a.Set))), nil
		case KindArray:
			return Integer(int64(len(a.Array))), nil
		case KindMap:
			return Integer(int64(len(a.Map))), nil
		default:
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "length is not defined for this type")
		}
	case UnaryTypeOf:
		if strings_ == nil {
			return Term{}, biscuiterr.New(biscuiterr.Execution, "type_of requires an interner")
		}
		id := strings_.InternOrInsert(a.Kind.String())
		return Term{Kind: KindString, String: id}, nil
	default:
		return Term{}, biscuiterr.New(biscuiterr.InvalidType, "unknown unary operator")
	}
}

func requireSameNumericKind(a, b Term) error {
	if a.Kind != KindInteger || b.Kind != KindInteger {
		return biscuiterr.New(biscuiterr.InvalidType, "arithmetic and ordering operators require integers")
	}
	return nil
}

func addOverflow(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func subOverflow(a, b int64) (int64, bool) {
	r := a - b
	if (b < 0 && r < a) || (b > 0 && r > a) {
		return 0, false
	}
	return r, true
}

func mulOverflow(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

func evalBinary(op BinaryOp, a, b Term, strings_ StringResolver) (Term, error) {
	switch op {
	case BinaryLessThan, BinaryGreaterThan, BinaryLessOrEqual, BinaryGreaterOrEqual:
		if err := requireSameNumericKind(a, b); err != nil {
			return Term{}, err
		}
		switch op {
		case BinaryLessThan:
			return Bool(a.Integer < b.Integer), nil
		case BinaryGreaterThan:
			return Bool(a.Integer > b.Integer), nil
		case BinaryLessOrEqual:
			return Bool(a.Integer <= b.Integer), nil
		default:
			return Bool(a.Integer >= b.Integer), nil
		}
	case BinaryEqual:
		if a.Kind != b.Kind {
			return Term{}, biscuiterr.Newf(biscuiterr.InvalidType, "== requires matching types, got %s and %s", a.Kind, b.Kind)
		}
		return Bool(a.Equal(b)), nil
	case BinaryNotEqual:
		if a.Kind != b.Kind {
			return Term{}, biscuiterr.Newf(biscuiterr.InvalidType, "!= requires matching types, got %s and %s", a.Kind, b.Kind)
		}
		return Bool(!a.Equal(b)), nil
	case BinaryHeterogeneousEqual:
		return Bool(a.Kind == b.Kind && a.Equal(b)), nil
	case BinaryHeterogeneousNotEqual:
		return Bool(!(a.Kind == b.Kind && a.Equal(b))), nil
	case BinaryContains:
		switch a.Kind {
		case KindSet:
			return Bool(containsTerm(a.Set, b)), nil
		case KindArray:
			return Bool(containsTerm(a.Array, b)), nil
		case KindMap:
			k, ok := termToMapKey(b)
			if !ok {
				return Term{}, biscuiterr.New(biscuiterr.InvalidType, "contains on a map requires an integer or string key")
			}
			_, ok = a.Map[k]
			return Bool(ok), nil
		case KindString:
			if strings_ == nil {
				return Term{}, biscuiterr.New(biscuiterr.Execution, "contains on strings requires a string resolver")
			}
			sa, ok1 := strings_.ResolveString(a.String)
			sb, ok2 := strings_.ResolveString(b.String)
			if !ok1 || !ok2 {
				return Term{}, biscuiterr.New(biscuiterr.Execution, "unresolvable interned string")
			}
			return Bool(strings.Contains(sa, sb)), nil
		default:
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "contains is not defined for this type")
		}
	case BinaryPrefix, BinarySuffix:
		if a.Kind != KindString || b.Kind != KindString || strings_ == nil {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "prefix/suffix require strings")
		}
		sa, ok1 := strings_.ResolveString(a.String)
		sb, ok2 := strings_.ResolveString(b.String)
		if !ok1 || !ok2 {
			return Term{}, biscuiterr.New(biscuiterr.Execution, "unresolvable interned string")
		}
		if op == BinaryPrefix {
			return Bool(strings.HasPrefix(sa, sb)), nil
		}
		return Bool(strings.HasSuffix(sa, sb)), nil
	case BinaryRegex:
		if a.Kind != KindString || b.Kind != KindString || strings_ == nil {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "matches requires strings")
		}
		sa, ok1 := strings_.ResolveString(a.String)
		pattern, ok2 := strings_.ResolveString(b.String)
		if !ok1 || !ok2 {
			return Term{}, biscuiterr.New(biscuiterr.Execution, "unresolvable interned string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Term{}, biscuiterr.Newf(biscuiterr.Execution, "invalid regex: %v", err)
		}
		return Bool(re.MatchString(sa)), nil
	case BinaryAdd, BinarySub, BinaryMul, BinaryDiv:
		if err := requireSameNumericKind(a, b); err != nil {
			return Term{}, err
		}
		switch op {
		case BinaryAdd:
			r, ok := addOverflow(a.Integer, b.Integer)
			if !ok {
				return Term{}, biscuiterr.New(biscuiterr.Overflow, "integer addition overflow")
			}
			return Integer(r), nil
		case BinarySub:
			r, ok := subOverflow(a.Integer, b.Integer)
			if !ok {
				return Term{}, biscuiterr.New(biscuiterr.Overflow, "integer subtraction overflow")
			}
			return Integer(r), nil
		case BinaryMul:
			r, ok := mulOverflow(a.Integer, b.Integer)
			if !ok {
				return Term{}, biscuiterr.New(biscuiterr.Overflow, "integer multiplication overflow")
			}
			return Integer(r), nil
		default:
			if b.Integer == 0 {
				return Term{}, biscuiterr.New(biscuiterr.Execution, "division by zero")
			}
			return Integer(a.Integer / b.Integer), nil
		}
	case BinaryAnd, BinaryOr:
		if a.Kind != KindBool || b.Kind != KindBool {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "boolean operators require bools")
		}
		if op == BinaryAnd {
			return Bool(a.Bool && b.Bool), nil
		}
		return Bool(a.Bool || b.Bool), nil
	case BinaryIntersection:
		return SetIntersection(a, b)
	case BinaryUnion:
		return SetUnion(a, b)
	case BinaryBitwiseAnd, BinaryBitwiseOr, BinaryBitwiseXor:
		if err := requireSameNumericKind(a, b); err != nil {
			return Term{}, err
		}
		switch op {
		case BinaryBitwiseAnd:
			return Integer(a.Integer & b.Integer), nil
		case BinaryBitwiseOr:
			return Integer(a.Integer | b.Integer), nil
		default:
			return Integer(a.Integer ^ b.Integer), nil
		}
	case BinaryGet:
		switch a.Kind {
		case KindArray:
			if b.Kind != KindInteger {
				return Term{}, biscuiterr.New(biscuiterr.InvalidType, "array get requires an integer index")
			}
			if b.Integer < 0 || int(b.Integer) >= len(a.Array) {
				return Null(), nil
			}
			return a.Array[b.Integer], nil
		case KindMap:
			k, ok := termToMapKey(b)
			if !ok {
				return Term{}, biscuiterr.New(biscuiterr.InvalidType, "map get requires an integer or string key")
			}
			v, ok := a.Map[k]
			if !ok {
				return Null(), nil
			}
			return v, nil
		default:
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "get is only defined for arrays and maps")
		}
	default:
		return Term{}, biscuiterr.New(biscuiterr.InvalidType, "unknown binary operator")
	}
}

func termToMapKey(t Term) (MapKey, bool) {
	switch t.Kind {
	case KindInteger:
		return MapKey{Int: t.Integer}, true
	case KindString:
		return MapKey{IsString: true, Str: t.String}, true
	default:
		return MapKey{}, false
	}
}

// bindClosureParam extends bindings with param bound to value, rejecting a
// param that shadows a binding already in scope (spec 4.4: "Closure
// parameters must not shadow existing bindings (ShadowedVariable)").
func bindClosureParam(bindings Bindings, param uint64, value Term) (Bindings, error) {
	if _, exists := bindings[param]; exists {
		return nil, biscuiterr.Newf(biscuiterr.ShadowedVariable, "closure parameter %d shadows an existing binding", param)
	}
	inner := cloneBindings(bindings)
	inner[param] = value
	return inner, nil
}

// evalClosure implements Any/All/TryOr/LazyAnd/LazyOr (spec 4.4). Any/All
// iterate over an Array or Set, binding op.Param to each element and
// evaluating op.Body, which must yield a Bool. TryOr evaluates op.Body once
// (Param bound to the popped operand) and substitutes op.Value if
// evaluation errors. LazyAnd/LazyOr take the already-evaluated left Bool as
// the popped operand and only evaluate op.Body (bound via op.Param) when
// short-circuiting can't decide the result on the left operand alone.
func evalClosure(op Op, popped Term, bindings Bindings, strings_ Interner) (Term, error) {
	switch op.Closure {
	case ClosureTryOr:
		inner, err := bindClosureParam(bindings, op.Param, popped)
		if err != nil {
			return Term{}, err
		}
		r, err := Eval(op.Body, inner, strings_)
		if err != nil {
			return op.Value, nil
		}
		return r, nil
	case ClosureLazyAnd, ClosureLazyOr:
		if popped.Kind != KindBool {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "lazy and/or require a bool left operand")
		}
		if op.Closure == ClosureLazyAnd && !popped.Bool {
			return Bool(false), nil
		}
		if op.Closure == ClosureLazyOr && popped.Bool {
			return Bool(true), nil
		}
		inner, err := bindClosureParam(bindings, op.Param, popped)
		if err != nil {
			return Term{}, err
		}
		r, err := Eval(op.Body, inner, strings_)
		if err != nil {
			return Term{}, err
		}
		if r.Kind != KindBool {
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "lazy and/or closure body must yield a bool")
		}
		return r, nil
	case ClosureAny, ClosureAll:
		var elems []Term
		switch popped.Kind {
		case KindArray:
			elems = popped.Array
		case KindSet:
			elems = popped.Set
		default:
			return Term{}, biscuiterr.New(biscuiterr.InvalidType, "any/all require an array or set")
		}
		wantBool := op.Closure == ClosureAny
		for _, e := range elems {
			inner, err := bindClosureParam(bindings, op.Param, e)
			if err != nil {
				return Term{}, err
			}
			r, err := Eval(op.Body, inner, strings_)
			if err != nil {
				return Term{}, err
			}
			if r.Kind != KindBool {
				return Term{}, biscuiterr.New(biscuiterr.InvalidType, "any/all closure body must yield a bool")
			}
			if r.Bool == wantBool {
				return Bool(wantBool), nil
			}
		}
		return Bool(!wantBool), nil
	default:
		return Term{}, biscuiterr.New(biscuiterr.InvalidType, "unknown closure operator")
	}
}

func cloneBindings(b Bindings) Bindings {
	out := make(Bindings, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}
