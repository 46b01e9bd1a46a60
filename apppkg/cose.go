package apppkg

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"trustyapp.dev/manifestc/compliance"
	"trustyapp.dev/manifestc/keys"
)

// COSE constants (RFC 9052) and the private labels used by package
// signatures.
const (
	TagSign1 = 18

	labelAlg = 1
	labelKID = 4
	// LabelTrusty carries ["TrustyApp", SignatureFormatVersion] in the
	// protected header.
	LabelTrusty = -65537

	AlgES256 = -7
	AlgEdDSA = -8
	// AlgDilithium3 is a private-use algorithm identifier. The signed
	// message is the sha3-256 digest of the Sig_structure.
	AlgDilithium3 = -65601

	SignatureFormatVersion = 1
	trustyHeaderName       = "TrustyApp"
)

var (
	ErrNotSigned     = errors.New("apppkg: package is not signed")
	ErrAlreadySigned = errors.New("apppkg: package is already signed")
	ErrSignature     = errors.New("apppkg: malformed signature")
	ErrKeyMismatch   = errors.New("apppkg: signature algorithm does not match public key")
	ErrStrictLayout  = errors.New("apppkg: signature does not match the strict layout")
)

// The loader's strict check compares the envelope against these bytes
// instead of parsing it: a tagged 4-array, the 20-byte protected header
// {1: -7, -65537: ["TrustyApp", 1]}, the unprotected header {4: h'<kid>'},
// a null payload and a 64-byte signature. The package follows immediately.
var (
	strictHeader = [...]byte{
		0xd2, 0x84, 0x54, 0xa2, 0x01, 0x26,
		0x3a, 0x00, 0x01, 0x00, 0x00, 0x82, 0x69,
		'T', 'r', 'u', 's', 't', 'y', 'A', 'p', 'p',
		SignatureFormatVersion,
		0xa1, 0x04, 0x41,
	}
	strictHeaderPart2 = [...]byte{0xf6, 0x58, 0x40}
)

const (
	strictKeyIDOffset     = len(strictHeader)
	strictSignatureOffset = strictKeyIDOffset + 1 + len(strictHeaderPart2)
	strictPayloadOffset   = strictSignatureOffset + keys.ECDSAP256SignatureSize
)

// coseSign1 is the untagged COSE_Sign1 array.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int64]cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// SignatureInfo describes a verified signature.
type SignatureInfo struct {
	Algorithm keys.Algorithm `json:"algorithm"`
	KeyID     []byte         `json:"key_id"`
	// Version is the signature format version from the Trusty header, or 0
	// when the header is absent (accepted only in permissive mode).
	Version uint64 `json:"version"`
}

func coseAlg(alg keys.Algorithm) (int64, error) {
	switch alg {
	case keys.ECDSAP256:
		return AlgES256, nil
	case keys.Ed25519:
		return AlgEdDSA, nil
	case keys.Dilithium3:
		return AlgDilithium3, nil
	default:
		return 0, fmt.Errorf("apppkg: no COSE algorithm for %q", alg)
	}
}

func keyAlg(alg int64) (keys.Algorithm, error) {
	switch alg {
	case AlgES256:
		return keys.ECDSAP256, nil
	case AlgEdDSA:
		return keys.Ed25519, nil
	case AlgDilithium3:
		return keys.Dilithium3, nil
	default:
		return "", fmt.Errorf("%w: unsupported algorithm %d", ErrSignature, alg)
	}
}

// sigStructure builds the COSE Sig_structure for a detached payload.
func sigStructure(protected, payload []byte) ([]byte, error) {
	return encMode.Marshal([]any{"Signature1", protected, []byte{}, payload})
}

// Sign prepends a COSE_Sign1 signature over pkg. The key id goes into the
// unprotected header. In strict mode pkg must be a well-formed unsigned
// package and the signer must use ECDSA P-256, so the result matches the
// layout the loader checks byte for byte.
func Sign(pkg []byte, signer keys.Signer, keyID uint8, mode compliance.ComplianceMode) ([]byte, error) {
	if IsSigned(pkg) {
		return nil, ErrAlreadySigned
	}
	if mode == compliance.Strict {
		if signer.Algorithm() != keys.ECDSAP256 {
			return nil, fmt.Errorf("%w: strict signatures use %s, not %s", ErrStrictLayout, keys.ECDSAP256, signer.Algorithm())
		}
		if _, err := Parse(pkg); err != nil {
			return nil, err
		}
	}
	alg, err := coseAlg(signer.Algorithm())
	if err != nil {
		return nil, err
	}
	protected, err := encMode.Marshal(map[int64]any{
		labelAlg:    alg,
		LabelTrusty: []any{trustyHeaderName, uint64(SignatureFormatVersion)},
	})
	if err != nil {
		return nil, err
	}
	kid, err := encMode.Marshal([]byte{keyID})
	if err != nil {
		return nil, err
	}
	toBeSigned, err := sigStructure(protected, pkg)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(toBeSigned)
	if err != nil {
		return nil, fmt.Errorf("apppkg: signing: %w", err)
	}
	envelope, err := encMode.Marshal(cbor.Tag{
		Number: TagSign1,
		Content: coseSign1{
			Protected:   protected,
			Unprotected: map[int64]cbor.RawMessage{labelKID: kid},
			Payload:     nil,
			Signature:   sig,
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(envelope)+len(pkg))
	out = append(out, envelope...)
	return append(out, pkg...), nil
}

// IsSigned reports whether b starts with a tagged COSE_Sign1.
func IsSigned(b []byte) bool {
	var tag cbor.RawTag
	if _, err := decMode.UnmarshalFirst(b, &tag); err != nil {
		return false
	}
	return tag.Number == TagSign1
}

// Split separates a signed package into its signature and the unsigned
// package bytes.
func Split(signed []byte) (signature, pkg []byte, err error) {
	var tag cbor.RawTag
	rest, err := decMode.UnmarshalFirst(signed, &tag)
	if err != nil || tag.Number != TagSign1 {
		return nil, nil, ErrNotSigned
	}
	n := len(signed) - len(rest)
	return signed[:n], rest, nil
}

// Verify checks the signature on a signed package against pub and returns
// the unsigned package bytes. The algorithm recorded in the signature must
// match the public key's.
//
// Strict mode first matches the envelope against the fixed ECDSA P-256
// layout the loader expects, then verifies as usual. Permissive mode parses
// the envelope and accepts any supported algorithm, a key id in either
// header, and a missing Trusty header.
func Verify(signed []byte, pubAlg keys.Algorithm, pub []byte, mode compliance.ComplianceMode) (*SignatureInfo, []byte, error) {
	if mode == compliance.Strict {
		if err := checkStrictLayout(signed); err != nil {
			return nil, nil, err
		}
	}
	envelope, pkg, err := Split(signed)
	if err != nil {
		return nil, nil, err
	}
	var tag cbor.RawTag
	if err := decMode.Unmarshal(envelope, &tag); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	var msg coseSign1
	if err := decMode.Unmarshal(tag.Content, &msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var headers map[int64]cbor.RawMessage
	if err := decMode.Unmarshal(msg.Protected, &headers); err != nil {
		return nil, nil, fmt.Errorf("%w: protected header: %v", ErrSignature, err)
	}
	rawAlg, ok := headers[labelAlg]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing algorithm", ErrSignature)
	}
	var algID int64
	if err := decMode.Unmarshal(rawAlg, &algID); err != nil {
		return nil, nil, fmt.Errorf("%w: algorithm: %v", ErrSignature, err)
	}
	alg, err := keyAlg(algID)
	if err != nil {
		return nil, nil, err
	}
	if alg != pubAlg {
		return nil, nil, fmt.Errorf("%w: signature uses %s, key is %s", ErrKeyMismatch, alg, pubAlg)
	}

	info := &SignatureInfo{Algorithm: alg}
	if info.KeyID, err = readKeyID(headers, msg.Unprotected); err != nil {
		return nil, nil, err
	}
	if rawTrusty, ok := headers[LabelTrusty]; ok {
		v, err := trustyVersion(rawTrusty)
		if err != nil {
			return nil, nil, err
		}
		info.Version = v
	}

	if mode == compliance.Strict {
		if info.Version != SignatureFormatVersion {
			return nil, nil, fmt.Errorf("%w: signature format version %d, want %d", ErrSignature, info.Version, SignatureFormatVersion)
		}
		if msg.Payload != nil {
			return nil, nil, fmt.Errorf("%w: payload must be detached", ErrSignature)
		}
	}

	payload := pkg
	if msg.Payload != nil {
		if !bytes.Equal(msg.Payload, pkg) {
			return nil, nil, fmt.Errorf("%w: embedded payload differs from package", ErrSignature)
		}
	}
	toBeSigned, err := sigStructure(msg.Protected, payload)
	if err != nil {
		return nil, nil, err
	}
	if err := keys.Verify(alg, pub, toBeSigned, msg.Signature); err != nil {
		return nil, nil, err
	}
	return info, pkg, nil
}

// checkStrictLayout compares signed against the loader's fixed envelope
// layout.
func checkStrictLayout(signed []byte) error {
	if len(signed) < strictPayloadOffset {
		return fmt.Errorf("%w: %d bytes is too short", ErrStrictLayout, len(signed))
	}
	if !bytes.Equal(signed[:strictKeyIDOffset], strictHeader[:]) {
		return fmt.Errorf("%w: unexpected signature header %x", ErrStrictLayout, signed[:strictKeyIDOffset])
	}
	if !bytes.Equal(signed[strictKeyIDOffset+1:strictSignatureOffset], strictHeaderPart2[:]) {
		return fmt.Errorf("%w: payload must be detached and the signature %d bytes", ErrStrictLayout, keys.ECDSAP256SignatureSize)
	}
	return nil
}

// readKeyID returns the key id from the unprotected header, falling back to
// the protected one.
func readKeyID(protected, unprotected map[int64]cbor.RawMessage) ([]byte, error) {
	raw, ok := unprotected[labelKID]
	if !ok {
		if raw, ok = protected[labelKID]; !ok {
			return nil, nil
		}
	}
	var kid []byte
	if majorType(raw) != majorBytes || decMode.Unmarshal(raw, &kid) != nil {
		return nil, fmt.Errorf("%w: key id must be a byte string", ErrSignature)
	}
	return kid, nil
}

func trustyVersion(raw cbor.RawMessage) (uint64, error) {
	var fields []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &fields); err != nil || len(fields) != 2 {
		return 0, fmt.Errorf("%w: Trusty header must be [name, version]", ErrSignature)
	}
	var name string
	if majorType(fields[0]) != majorText || decMode.Unmarshal(fields[0], &name) != nil || name != trustyHeaderName {
		return 0, fmt.Errorf("%w: Trusty header name must be %q", ErrSignature, trustyHeaderName)
	}
	var version uint64
	if majorType(fields[1]) != majorUnsigned || decMode.Unmarshal(fields[1], &version) != nil {
		return 0, fmt.Errorf("%w: Trusty header version must be an unsigned integer", ErrSignature)
	}
	return version, nil
}
