package symbol

import "rubin.dev/biscuit/sig"

// KeyTable interns public keys identically to Table, mapping indices used
// by scope references (spec 4.2 "Scope references use indices into this
// table"). Unlike string symbols there is no default table: every entry is
// caller-supplied.
type KeyTable struct {
	keys []sig.PublicKey
	ids  map[string]uint64 // keyed by algorithm-tagged byte encoding
}

func NewKeyTable() *KeyTable {
	return &KeyTable{ids: make(map[string]uint64)}
}

func keyCacheKey(k sig.PublicKey) string {
	return string(append([]byte{byte(k.Algorithm)}, k.Bytes()...))
}

// Insert interns k, returning its (possibly pre-existing) index.
func (kt *KeyTable) Insert(k sig.PublicKey) uint64 {
	ck := keyCacheKey(k)
	if id, ok := kt.ids[ck]; ok {
		return id
	}
	id := uint64(len(kt.keys))
	kt.keys = append(kt.keys, k)
	kt.ids[ck] = id
	return id
}

// Get returns the key at index id.
func (kt *KeyTable) Get(id uint64) (sig.PublicKey, bool) {
	if id >= uint64(len(kt.keys)) {
		return sig.PublicKey{}, false
	}
	return kt.keys[id], true
}

// Index returns the index of k if already interned.
func (kt *KeyTable) Index(k sig.PublicKey) (uint64, bool) {
	id, ok := kt.ids[keyCacheKey(k)]
	return id, ok
}

// Keys returns all interned keys in insertion order.
func (kt *KeyTable) Keys() []sig.PublicKey {
	return append([]sig.PublicKey(nil), kt.keys...)
}

func (kt *KeyTable) Len() int { return len(kt.keys) }
