package symbol

import "testing"

func TestDefaultTableLookupRoundtrip(t *testing.T) {
	id, ok := DefaultTable("read")
	if !ok {
		t.Fatalf("expected \"read\" in default table")
	}
	name, ok := DefaultSymbolName(id)
	if !ok || name != "read" {
		t.Fatalf("roundtrip mismatch: got %q ok=%v", name, ok)
	}
}

func TestInsertRejectsDefaultOverlap(t *testing.T) {
	tbl := NewTable(DefaultOffset)
	if _, err := tbl.Insert("read"); err == nil {
		t.Fatalf("expected SymbolTableOverlap inserting a default symbol")
	}
}

func TestInsertIsIdempotentWithinBlock(t *testing.T) {
	tbl := NewTable(DefaultOffset)
	id1, err := tbl.Insert("custom")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := tbl.Insert("custom")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id, got %d then %d", id1, id2)
	}
}

func TestChainAppendRequiresSequentialBase(t *testing.T) {
	chain := NewChain()
	t1 := NewTable(chain.NextBase())
	if _, err := t1.Insert("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := t1.Insert("b"); err != nil {
		t.Fatal(err)
	}
	if err := chain.Append(t1); err != nil {
		t.Fatal(err)
	}

	badBase := NewTable(chain.NextBase() + 1)
	if err := chain.Append(badBase); err == nil {
		t.Fatalf("expected error appending a table with wrong base")
	}

	t2 := NewTable(chain.NextBase())
	if _, err := t2.Insert("c"); err != nil {
		t.Fatal(err)
	}
	if err := chain.Append(t2); err != nil {
		t.Fatal(err)
	}

	id, ok := chain.Intern("c")
	if !ok {
		t.Fatalf("expected to resolve \"c\"")
	}
	name, err := chain.Resolve(id)
	if err != nil || name != "c" {
		t.Fatalf("resolve mismatch: %q %v", name, err)
	}
}

func TestChainInternPrefersEarliestDeclaration(t *testing.T) {
	chain := NewChain()
	t1 := NewTable(chain.NextBase())
	id1, _ := t1.Insert("dup")
	_ = chain.Append(t1)

	t2 := NewTable(chain.NextBase())
	t2.InsertShadowing("dup") // shadows within t2's own local view only
	_ = chain.Append(t2)

	id, ok := chain.Intern("dup")
	if !ok || id != id1 {
		t.Fatalf("expected chain.Intern to return earliest id %d, got %d ok=%v", id1, id, ok)
	}
}
