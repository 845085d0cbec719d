package datalog

import "testing"

// TestParenthesizedPrecedenceMatchesSourceExamples checks the two worked
// arithmetic examples straight from the expression VM's design notes:
// (1+2)*3 = 9, and 1+2*3 = 7 when the multiplication is grouped first
// instead (a hand-built op sequence stands in for operator-precedence
// parsing, which is out of scope).
func TestParenthesizedPrecedenceMatchesSourceExamples(t *testing.T) {
	grouped, err := Eval(Expression{
		ValueOp(Integer(1)),
		ValueOp(Integer(2)),
		BinaryOpInstr(BinaryAdd),
		ValueOp(Integer(3)),
		BinaryOpInstr(BinaryMul),
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if grouped.Kind != KindInteger || grouped.Integer != 9 {
		t.Fatalf("expected (1+2)*3 = 9, got %+v", grouped)
	}

	ungrouped, err := Eval(Expression{
		ValueOp(Integer(2)),
		ValueOp(Integer(3)),
		BinaryOpInstr(BinaryMul),
		ValueOp(Integer(1)),
		BinaryOpInstr(BinaryAdd),
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ungrouped.Kind != KindInteger || ungrouped.Integer != 7 {
		t.Fatalf("expected 1+2*3 = 7, got %+v", ungrouped)
	}
}

// TestSetIntersectionThenLengthMatchesSourceExample checks
// {1,2,3}.intersection({1,2}).length() === 2 evaluates to Bool true, the
// other worked expression example.
func TestSetIntersectionThenLengthMatchesSourceExample(t *testing.T) {
	a, err := NewSet([]Term{Integer(1), Integer(2), Integer(3)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSet([]Term{Integer(1), Integer(2)})
	if err != nil {
		t.Fatal(err)
	}

	r, err := Eval(Expression{
		ValueOp(a),
		ValueOp(b),
		BinaryOpInstr(BinaryIntersection),
		UnaryOpInstr(UnaryLength),
		ValueOp(Integer(2)),
		BinaryOpInstr(BinaryHeterogeneousEqual),
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindBool || !r.Bool {
		t.Fatalf("expected {1,2,3}.intersection({1,2}).length() === 2 to be true, got %+v", r)
	}
}
