package datalog

import "testing"

func TestNewSetDeduplicatesAndOrdersCanonically(t *testing.T) {
	a, err := NewSet([]Term{Integer(3), Integer(1), Integer(1), Integer(2)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSet([]Term{Integer(2), Integer(3), Integer(1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Set) != 3 {
		t.Fatalf("expected 3 deduplicated elements, got %d", len(a.Set))
	}
	if !a.Equal(b) {
		t.Fatalf("expected sets built from different insertion orders to compare equal")
	}
}

func TestNewSetRejectsVariablesAndNestedSets(t *testing.T) {
	if _, err := NewSet([]Term{Variable(1)}); err == nil {
		t.Fatalf("expected error inserting a variable into a set")
	}
	inner, _ := NewSet([]Term{Integer(1)})
	if _, err := NewSet([]Term{inner}); err == nil {
		t.Fatalf("expected error nesting a set inside a set")
	}
}

func TestFactRequiresGroundTerms(t *testing.T) {
	if _, err := NewFact(1, Variable(0)); err == nil {
		t.Fatalf("expected NewFact to reject a variable term")
	}
	if _, err := NewFact(1, Integer(5), String(2)); err != nil {
		t.Fatal(err)
	}
}

func TestSetIntersectionAndUnion(t *testing.T) {
	a, _ := NewSet([]Term{Integer(1), Integer(2), Integer(3)})
	b, _ := NewSet([]Term{Integer(2), Integer(3), Integer(4)})
	inter, err := SetIntersection(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(inter.Set) != 2 {
		t.Fatalf("expected intersection {2,3}, got %+v", inter.Set)
	}
	union, err := SetUnion(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(union.Set) != 4 {
		t.Fatalf("expected union of size 4, got %+v", union.Set)
	}
}
