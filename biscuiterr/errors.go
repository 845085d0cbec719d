// Package biscuiterr defines the error taxonomy shared by every package in
// this module: crypto verification, block-chain assembly, Datalog
// evaluation, and authorization.
package biscuiterr

import "fmt"

// Code identifies one error kind. Codes are grouped below by the phase of
// the pipeline that raises them (format, structural, logic, runtime,
// execution, language/builder).
type Code string

const (
	// --- format errors: chain.SignedBlock / biscuit.Token (de)serialization ---
	InvalidFormat            Code = "INVALID_FORMAT"
	InvalidSignature         Code = "INVALID_SIGNATURE"
	SealedSignature          Code = "SEALED_SIGNATURE"
	EmptyKeys                Code = "EMPTY_KEYS"
	UnknownPublicKey         Code = "UNKNOWN_PUBLIC_KEY"
	DeserializationError     Code = "DESERIALIZATION_ERROR"
	SerializationError       Code = "SERIALIZATION_ERROR"
	BlockDeserializationError Code = "BLOCK_DESERIALIZATION_ERROR"
	BlockSerializationError  Code = "BLOCK_SERIALIZATION_ERROR"
	Version                  Code = "VERSION"
	InvalidSignatureSize     Code = "INVALID_SIGNATURE_SIZE"
	InvalidKeySize           Code = "INVALID_KEY_SIZE"
	InvalidKey               Code = "INVALID_KEY"

	// --- structural errors: chain/token assembly invariants ---
	InvalidAuthorityIndex Code = "INVALID_AUTHORITY_INDEX"
	InvalidBlockIndex     Code = "INVALID_BLOCK_INDEX"
	SymbolTableOverlap    Code = "SYMBOL_TABLE_OVERLAP"
	MissingSymbols        Code = "MISSING_SYMBOLS"
	Sealed                Code = "SEALED"

	// --- logic errors: authorizer / Datalog semantics ---
	InvalidAuthorityFact Code = "INVALID_AUTHORITY_FACT"
	InvalidAmbientFact   Code = "INVALID_AMBIENT_FACT"
	InvalidBlockFact     Code = "INVALID_BLOCK_FACT"
	InvalidBlockRule     Code = "INVALID_BLOCK_RULE"
	Unauthorized         Code = "UNAUTHORIZED"
	NoMatchingPolicy     Code = "NO_MATCHING_POLICY"
	AuthorizerNotEmpty   Code = "AUTHORIZER_NOT_EMPTY"

	// --- runtime errors: datalog.Run resource exhaustion ---
	TooManyFacts      Code = "TOO_MANY_FACTS"
	TooManyIterations Code = "TOO_MANY_ITERATIONS"
	Timeout           Code = "TIMEOUT"

	// --- execution errors: expression VM ---
	Execution       Code = "EXECUTION"
	Overflow        Code = "OVERFLOW"
	InvalidType     Code = "INVALID_TYPE"
	ShadowedVariable Code = "SHADOWED_VARIABLE"

	// --- language errors: builder-stage only ---
	ParseError      Code = "PARSE_ERROR"
	InvalidVariables Code = "INVALID_VARIABLES"
	UnknownVariable Code = "UNKNOWN_VARIABLE"
)

// Error is the single concrete error type used across this module. It
// carries a Code plus whatever structured context identifies which
// block/check/rule/policy produced it, matching the minimal-context rule in
// spec section 7.
type Error struct {
	Code Code
	Msg  string

	BlockID  *uint32
	CheckID  *uint32
	PolicyID *int
	RuleText string

	FailedChecks []FailedCheck

	// Detail carries the size/version mismatch payload for codes that
	// report one (InvalidSignatureSize, InvalidKeySize, Version).
	Got  int
	Want int
	Min  int
	Max  int
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Code)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	if e.BlockID != nil {
		msg = fmt.Sprintf("%s (block=%d)", msg, *e.BlockID)
	}
	if e.CheckID != nil {
		msg = fmt.Sprintf("%s (check=%d)", msg, *e.CheckID)
	}
	if e.PolicyID != nil {
		msg = fmt.Sprintf("%s (policy=%d)", msg, *e.PolicyID)
	}
	return msg
}

// New builds a bare Error with the given code and message, the way
// consensus.txerr builds a *TxError in the teacher repo.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WithBlock returns a copy of e annotated with the originating block id.
func (e *Error) WithBlock(blockID uint32) *Error {
	c := *e
	c.BlockID = &blockID
	return &c
}

// WithCheck returns a copy of e annotated with the originating check index.
func (e *Error) WithCheck(checkID uint32) *Error {
	c := *e
	c.CheckID = &checkID
	return &c
}

// WithPolicy returns a copy of e annotated with the matched/attempted policy index.
func (e *Error) WithPolicy(policyID int) *Error {
	c := *e
	c.PolicyID = &policyID
	return &c
}

// WithFailedChecks attaches the accumulated check failures to an Unauthorized
// or NoMatchingPolicy error.
func (e *Error) WithFailedChecks(fc []FailedCheck) *Error {
	c := *e
	c.FailedChecks = fc
	return &c
}

// FailedCheck is either a FailedBlock or a FailedAuthorizer record, per
// spec section 7. Exactly one of BlockID set / unset distinguishes the two.
type FailedCheck struct {
	// BlockID is non-nil for FailedBlock, nil for FailedAuthorizer.
	BlockID  *uint32
	CheckID  uint32
	RuleText string
}

// IsAuthorizer reports whether this is a FailedAuthorizer record.
func (f FailedCheck) IsAuthorizer() bool { return f.BlockID == nil }

func (f FailedCheck) String() string {
	if f.IsAuthorizer() {
		return fmt.Sprintf("authorizer check %d failed: %s", f.CheckID, f.RuleText)
	}
	return fmt.Sprintf("block %d check %d failed: %s", *f.BlockID, f.CheckID, f.RuleText)
}

func FailedBlock(blockID uint32, checkID uint32, ruleText string) FailedCheck {
	b := blockID
	return FailedCheck{BlockID: &b, CheckID: checkID, RuleText: ruleText}
}

func FailedAuthorizer(checkID uint32, ruleText string) FailedCheck {
	return FailedCheck{CheckID: checkID, RuleText: ruleText}
}
