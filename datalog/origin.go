package datalog

import "sort"

// AuthorityBlockID is the reserved block id for the authority block's own
// facts (spec section 3/4.3).
const AuthorityBlockID uint32 = 0

// AuthorizerOrigin is the sentinel origin id for facts loaded directly by
// the authorizer (never a real block index).
const AuthorizerOrigin uint32 = ^uint32(0)

// Origin is a set of contributing block ids (spec section 3: "every fact
// carries an Origin: the set of block ids whose facts contributed to its
// derivation, unioned with the rule's own block id when derived"). The
// same type doubles as a rule's TrustedOrigins (the set of origins a rule
// is permitted to read facts from).
type Origin map[uint32]struct{}

// TrustedOrigins is an alias for Origin used where the set plays the role
// of "origins a rule trusts" rather than "origins a fact carries".
type TrustedOrigins = Origin

func NewOrigin(ids ...uint32) Origin {
	o := make(Origin, len(ids))
	for _, id := range ids {
		o[id] = struct{}{}
	}
	return o
}

func (o Origin) Add(id uint32) Origin {
	if o == nil {
		o = Origin{}
	}
	o[id] = struct{}{}
	return o
}

func (o Origin) Contains(id uint32) bool {
	_, ok := o[id]
	return ok
}

// Subset reports whether every id in o is also in other -- the
// eligibility test a fact's Origin must pass against a rule's
// TrustedOrigins (spec 4.3).
func (o Origin) Subset(other Origin) bool {
	for id := range o {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Union returns a new Origin containing every id from both sets.
func (o Origin) Union(other Origin) Origin {
	out := make(Origin, len(o)+len(other))
	for id := range o {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

func (o Origin) Clone() Origin { return o.Union(nil) }

func (o Origin) Equal(other Origin) bool {
	if len(o) != len(other) {
		return false
	}
	for id := range o {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Sorted returns the member ids in ascending order, with AuthorizerOrigin
// (the max uint32) naturally sorting last.
func (o Origin) Sorted() []uint32 {
	out := make([]uint32, 0, len(o))
	for id := range o {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (o Origin) key() string {
	var buf []byte
	for _, id := range o.Sorted() {
		buf = append(buf, byte(id), byte(id>>8), byte(id>>16), byte(id>>24), ',')
	}
	return string(buf)
}
