package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Algorithm names a signature algorithm.
type Algorithm string

const (
	// ECDSAP256 is ECDSA over P-256 with SHA-256, the algorithm the loader
	// accepts in strict mode.
	ECDSAP256  Algorithm = "ecdsa-p256"
	Ed25519    Algorithm = "ed25519"
	Dilithium3 Algorithm = "dilithium3"
)

// ECDSAP256SignatureSize is the length of an ECDSA P-256 signature in its
// fixed-width r||s form.
const ECDSAP256SignatureSize = 64

// dilithium3 signs a sha3-256 digest of the message, not the message itself.
const dilithium3Digest = "sha3-256"

// ErrBadSignature is returned by Verify when a signature does not match.
var ErrBadSignature = errors.New("signature verification failed")

// ParseAlgorithm accepts "ecdsa-p256", "ed25519" and "dilithium3".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case ECDSAP256, Ed25519, Dilithium3:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("unsupported signature algorithm: %q", s)
	}
}

// Signer produces signatures with one private key.
type Signer interface {
	Algorithm() Algorithm
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

// NewSigner builds a signer for alg from a SeedSize-byte seed. The same
// seed always yields the same key pair.
func NewSigner(alg Algorithm, seed []byte) (Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(seed))
	}
	switch alg {
	case ECDSAP256:
		return ecdsaP256Signer{priv: ecdsaKeyFromSeed(seed)}, nil
	case Ed25519:
		return ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
	case Dilithium3:
		pub, priv, err := mode3.GenerateKey(seedStream(seed))
		if err != nil {
			return nil, err
		}
		pubBytes, err := pub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return dilithium3Signer{pub: pubBytes, priv: priv}, nil
	default:
		return nil, fmt.Errorf("unsupported signature algorithm: %q", alg)
	}
}

// seedStream expands a seed into the deterministic randomness dilithium3
// key generation consumes.
func seedStream(seed []byte) io.Reader {
	h := sha3.NewShake256()
	_, _ = h.Write([]byte("manifestc-dilithium3-seed-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(seed)
	return h
}

// ecdsaKeyFromSeed maps a seed onto a P-256 scalar in [1, N-1].
func ecdsaKeyFromSeed(seed []byte) *ecdsa.PrivateKey {
	curve := elliptic.P256()
	h := sha3.NewShake256()
	_, _ = h.Write([]byte("manifestc-ecdsa-p256-seed-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(seed)
	wide := make([]byte, 48)
	_, _ = h.Read(wide)

	nMinusOne := new(big.Int).Sub(curve.Params().N, big.NewInt(1))
	d := new(big.Int).SetBytes(wide)
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{D: d}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, 32)))
	return priv
}

type ecdsaP256Signer struct {
	priv *ecdsa.PrivateKey
}

func (s ecdsaP256Signer) Algorithm() Algorithm { return ECDSAP256 }

// PublicKey returns the uncompressed SEC 1 point.
func (s ecdsaP256Signer) PublicKey() []byte {
	return elliptic.Marshal(s.priv.Curve, s.priv.X, s.priv.Y)
}

func (s ecdsaP256Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, sv, err := ecdsa.Sign(rand.Reader, s.priv, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, ECDSAP256SignatureSize)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])
	return sig, nil
}

func parseP256PublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, pub)
	if x == nil {
		return nil, errors.New("invalid ecdsa-p256 public key: want an uncompressed point on P-256")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
}

func (s ed25519Signer) Algorithm() Algorithm { return Ed25519 }

func (s ed25519Signer) PublicKey() []byte {
	return append([]byte(nil), s.priv.Public().(ed25519.PublicKey)...)
}

func (s ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

type dilithium3Signer struct {
	pub  []byte
	priv *mode3.PrivateKey
}

func (s dilithium3Signer) Algorithm() Algorithm { return Dilithium3 }

func (s dilithium3Signer) PublicKey() []byte { return append([]byte(nil), s.pub...) }

func (s dilithium3Signer) Sign(message []byte) ([]byte, error) {
	digest, err := digestFor(dilithium3Digest, message)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, digest, sig)
	return sig, nil
}

// Verify checks sig over message with the public key pub.
func Verify(alg Algorithm, pub, message, sig []byte) error {
	switch alg {
	case ECDSAP256:
		pk, err := parseP256PublicKey(pub)
		if err != nil {
			return err
		}
		if len(sig) != ECDSAP256SignatureSize {
			return fmt.Errorf("ecdsa-p256 signature must be %d bytes, got %d", ECDSAP256SignatureSize, len(sig))
		}
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		digest := sha256.Sum256(message)
		if !ecdsa.Verify(pk, digest[:], r, s) {
			return ErrBadSignature
		}
		return nil
	case Ed25519:
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
			return ErrBadSignature
		}
		return nil
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("invalid dilithium3 public key: %w", err)
		}
		if len(sig) != mode3.SignatureSize {
			return fmt.Errorf("dilithium3 signature must be %d bytes, got %d", mode3.SignatureSize, len(sig))
		}
		digest, err := digestFor(dilithium3Digest, message)
		if err != nil {
			return err
		}
		if !mode3.Verify(&pk, digest, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("unsupported signature algorithm: %q", alg)
	}
}

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}
