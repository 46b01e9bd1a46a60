package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// FormatPublicKey encodes a public key as "<alg>:" + base64(pub).
func FormatPublicKey(alg Algorithm, pub []byte) (string, error) {
	want := 0
	switch alg {
	case ECDSAP256:
		if _, err := parseP256PublicKey(pub); err != nil {
			return "", err
		}
		want = 65
	case Ed25519:
		want = ed25519.PublicKeySize
	case Dilithium3:
		want = mode3.PublicKeySize
	default:
		return "", fmt.Errorf("unsupported signature algorithm: %q", alg)
	}
	if len(pub) != want {
		return "", fmt.Errorf("%s public key must be %d bytes, got %d", alg, want, len(pub))
	}
	return string(alg) + ":" + base64.StdEncoding.EncodeToString(pub), nil
}

// ParsePublicKey is the inverse of FormatPublicKey. Surrounding whitespace
// is ignored so key files may end in a newline.
func ParsePublicKey(s string) (Algorithm, []byte, error) {
	prefix, b64, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return "", nil, fmt.Errorf("public key must have the form <alg>:<base64>")
	}
	alg, err := ParseAlgorithm(prefix)
	if err != nil {
		return "", nil, err
	}
	pub, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if _, err := FormatPublicKey(alg, pub); err != nil {
		return "", nil, err
	}
	return alg, pub, nil
}

// PublicKeyFromSeed returns the formatted public key for seed under alg.
func PublicKeyFromSeed(alg Algorithm, seed []byte) (string, error) {
	s, err := NewSigner(alg, seed)
	if err != nil {
		return "", err
	}
	return FormatPublicKey(alg, s.PublicKey())
}
