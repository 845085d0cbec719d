package datalog

// ScopeKind tags a Scope's variant (spec section 3: rule scopes restrict
// which origins a rule is permitted to read facts from).
type ScopeKind uint8

const (
	ScopeAuthority ScopeKind = iota
	ScopePrevious
	ScopePublicKey
)

// Scope restricts a rule, check query, or policy query's trusted origins.
// KeyIndex is only meaningful when Kind is ScopePublicKey, and indexes
// into the token's key table (spec 4.2).
type Scope struct {
	Kind     ScopeKind
	KeyIndex uint64
}

func AuthorityScope() Scope           { return Scope{Kind: ScopeAuthority} }
func PreviousScope() Scope            { return Scope{Kind: ScopePrevious} }
func PublicKeyScope(index uint64) Scope { return Scope{Kind: ScopePublicKey, KeyIndex: index} }

// ComputeTrustedOrigins implements spec 4.3's trusted-origin computation
// for a rule belonging to blockID, given its scopes and a resolver from
// key-table index to the set of block ids whose external signature uses
// that key (keyBlocks is typically produced once per authorization run
// by scanning every third-party block's signing key).
//
// Defaults (empty scopes) trust the authority block (0) plus the rule's
// own block and the authorizer sentinel. Any explicit scope list starts
// from {blockID, AuthorizerOrigin} and adds exactly what each scope names.
func ComputeTrustedOrigins(blockID uint32, scopes []Scope, keyBlocks map[uint64]Origin) TrustedOrigins {
	base := NewOrigin(blockID, AuthorizerOrigin)
	if len(scopes) == 0 {
		base.Add(AuthorityBlockID)
		return base
	}
	for _, s := range scopes {
		switch s.Kind {
		case ScopeAuthority:
			base.Add(AuthorityBlockID)
		case ScopePrevious:
			if blockID != AuthorizerOrigin {
				for i := uint32(0); i <= blockID; i++ {
					base.Add(i)
				}
			}
		case ScopePublicKey:
			base = base.Union(keyBlocks[s.KeyIndex])
		}
	}
	return base
}
