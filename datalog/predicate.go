package datalog

// Predicate is a symbol-table name applied to an ordered list of terms,
// e.g. right(#authority, "/file1", "read") (spec section 3).
type Predicate struct {
	Name  uint64
	Terms []Term
}

func NewPredicate(name uint64, terms ...Term) Predicate {
	return Predicate{Name: name, Terms: append([]Term(nil), terms...)}
}

// IsGround reports whether every term in the predicate is ground.
func (p Predicate) IsGround() bool {
	for _, t := range p.Terms {
		if !t.IsGround() {
			return false
		}
	}
	return true
}

// Fact is a ground Predicate: every term must be a concrete value, never a
// Variable (spec section 3).
type Fact struct {
	Predicate Predicate
}

func NewFact(name uint64, terms ...Term) (Fact, error) {
	p := NewPredicate(name, terms...)
	if !p.IsGround() {
		return Fact{}, errNotGround
	}
	return Fact{Predicate: p}, nil
}

// Equal compares two facts structurally (same name, same terms in order).
func (f Fact) Equal(other Fact) bool {
	if f.Predicate.Name != other.Predicate.Name {
		return false
	}
	if len(f.Predicate.Terms) != len(other.Predicate.Terms) {
		return false
	}
	for i := range f.Predicate.Terms {
		if !f.Predicate.Terms[i].Equal(other.Predicate.Terms[i]) {
			return false
		}
	}
	return true
}

// key returns a comparable string encoding used for set/map membership
// (dedup within the World's fact store).
func (f Fact) key() string {
	return predicateKey(f.Predicate)
}
