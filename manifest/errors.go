package manifest

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Error() strings are kept human-readable and may evolve.
type Kind string

const (
	// KindValidation errors are produced while compiling a configuration.
	// They are collected in a Log and never stop the compile early.
	KindValidation Kind = "Validation"
	// KindDecode errors are terminal: a byte stream that fails to decode has
	// no well-defined remainder.
	KindDecode Kind = "Decode"
	// KindEncode errors report descriptor values the wire format cannot hold.
	KindEncode Kind = "Encode"
	// KindSource errors report manifest text that could not be read or parsed.
	KindSource Kind = "Source"
)

// Error is the package's structured error type.
//
// RuleID is a stable identifier (e.g. MANIFEST-FIELD-001, MANIFEST-DEC-003)
// naming the violated rule. Message is intended for humans.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, ruleID, msg string) *Error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func wrapError(kind Kind, ruleID, msg string, cause error) *Error {
	if cause == nil {
		return newError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}

// Rule identifiers.
const (
	RuleMissingAttribute = "MANIFEST-FIELD-001"
	RuleNotString        = "MANIFEST-FIELD-002"
	RuleNotInteger       = "MANIFEST-FIELD-003"
	RuleNotBoolean       = "MANIFEST-FIELD-004"
	RuleNotList          = "MANIFEST-FIELD-005"
	RuleNotMapping       = "MANIFEST-FIELD-006"
	RuleUnknownAttribute = "MANIFEST-FIELD-007"

	RuleUUIDLength   = "MANIFEST-UUID-001"
	RuleUUIDGroups   = "MANIFEST-UUID-002"
	RuleUUIDHex      = "MANIFEST-UUID-003"
	RuleUUIDGrouping = "MANIFEST-UUID-004"

	RuleMemorySize = "MANIFEST-MEM-001"

	RuleEncodeRange = "MANIFEST-ENC-001"
	RuleEncodeUnset = "MANIFEST-ENC-002"

	RuleDecodeShortUUID    = "MANIFEST-DEC-001"
	RuleDecodeTruncated    = "MANIFEST-DEC-002"
	RuleDecodeUnknownTag   = "MANIFEST-DEC-003"
	RuleDecodeDuplicateTag = "MANIFEST-DEC-004"
	RuleDecodeFlagValue    = "MANIFEST-DEC-005"
	RuleDecodePortName     = "MANIFEST-DEC-006"

	RuleSourceRead   = "MANIFEST-SRC-001"
	RuleSourceSyntax = "MANIFEST-SRC-002"
	RuleSourceShape  = "MANIFEST-SRC-003"
	RuleSourceFormat = "MANIFEST-SRC-004"
)
