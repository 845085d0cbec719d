package datalog

import "testing"

func TestEvalArithmeticAndComparison(t *testing.T) {
	expr := Expression{
		ValueOp(Integer(3)),
		ValueOp(Integer(4)),
		BinaryOpInstr(BinaryAdd),
		ValueOp(Integer(6)),
		BinaryOpInstr(BinaryGreaterThan),
	}
	r, err := Eval(expr, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindBool || !r.Bool {
		t.Fatalf("expected 3+4 > 6 to be true, got %+v", r)
	}
}

func TestEvalAdditionOverflow(t *testing.T) {
	expr := Expression{
		ValueOp(Integer(1<<63 - 1)),
		ValueOp(Integer(1)),
		BinaryOpInstr(BinaryAdd),
	}
	if _, err := Eval(expr, nil, nil); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestEvalUnboundVariableErrors(t *testing.T) {
	expr := Expression{ValueOp(Variable(7))}
	if _, err := Eval(expr, Bindings{}, nil); err == nil {
		t.Fatalf("expected unbound variable error")
	}
}

func TestEvalEqualRequiresMatchingTypes(t *testing.T) {
	expr := Expression{
		ValueOp(Integer(1)),
		ValueOp(Bool(true)),
		BinaryOpInstr(BinaryEqual),
	}
	if _, err := Eval(expr, nil, nil); err == nil {
		t.Fatalf("expected InvalidType comparing integer and bool with ==")
	}
}

func TestEvalHeterogeneousEqualNeverErrors(t *testing.T) {
	expr := Expression{
		ValueOp(Integer(1)),
		ValueOp(Bool(true)),
		BinaryOpInstr(BinaryHeterogeneousEqual),
	}
	r, err := Eval(expr, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindBool || r.Bool {
		t.Fatalf("expected mismatched kinds to compare unequal, got %+v", r)
	}
}

func TestEvalAnyClosure(t *testing.T) {
	set, err := NewSet([]Term{Integer(1), Integer(2), Integer(3)})
	if err != nil {
		t.Fatal(err)
	}
	body := Expression{
		ValueOp(Variable(99)),
		ValueOp(Integer(2)),
		BinaryOpInstr(BinaryEqual),
	}
	expr := Expression{
		ValueOp(set),
		ClosureOpInstr(ClosureAny, 99, body, Bool(false)),
	}
	r, err := Eval(expr, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindBool || !r.Bool {
		t.Fatalf("expected any() to find the value 2 in the set")
	}
}

func TestEvalTryOrFallsBackOnError(t *testing.T) {
	body := Expression{
		ValueOp(Integer(1)),
		ValueOp(Integer(0)),
		BinaryOpInstr(BinaryDiv),
	}
	expr := Expression{
		ValueOp(Null()),
		ClosureOpInstr(ClosureTryOr, 1, body, Integer(-1)),
	}
	r, err := Eval(expr, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindInteger || r.Integer != -1 {
		t.Fatalf("expected try_or fallback -1, got %+v", r)
	}
}

func TestEvalGetOnArrayAndMap(t *testing.T) {
	arr, err := NewArray([]Term{Integer(10), Integer(20)})
	if err != nil {
		t.Fatal(err)
	}
	expr := Expression{
		ValueOp(arr),
		ValueOp(Integer(1)),
		BinaryOpInstr(BinaryGet),
	}
	r, err := Eval(expr, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindInteger || r.Integer != 20 {
		t.Fatalf("expected arr[1] == 20, got %+v", r)
	}

	m, err := NewMap(map[MapKey]Term{{IsString: true, Str: 5}: Integer(42)})
	if err != nil {
		t.Fatal(err)
	}
	expr2 := Expression{
		ValueOp(m),
		ValueOp(String(5)),
		BinaryOpInstr(BinaryGet),
	}
	r2, err := Eval(expr2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Kind != KindInteger || r2.Integer != 42 {
		t.Fatalf("expected map[5] == 42, got %+v", r2)
	}
}
