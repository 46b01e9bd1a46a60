package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
)

// SeedSize is the length of every key seed, whatever the algorithm.
const SeedSize = ed25519.SeedSize

// DeriveRoleSeed deterministically derives a role-specific seed from a root seed.
//
// The derivation is part of the on-disk key store contract: a role key
// re-derived from the same root must not change.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("manifestc-keys-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	out := make([]byte, SeedSize)
	copy(out, sum[:SeedSize])
	return out, nil
}
