// Package compliance selects how strictly signed application packages are
// checked.
package compliance

import "fmt"

// ComplianceMode selects how aggressively verification rejects ambiguity.
//
// Strict mode prefers explicit failure over silent acceptance: a signature
// must carry the application package header with the current format version,
// and signing an already signed package is refused.
// Permissive mode accepts any well-formed signature the key verifies.
type ComplianceMode int

const (
	Permissive ComplianceMode = iota
	Strict
)

func (m ComplianceMode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("ComplianceMode(%d)", int(m))
	}
}

// FromStrict maps a --strict style boolean to a mode.
func FromStrict(strict bool) ComplianceMode {
	if strict {
		return Strict
	}
	return Permissive
}
