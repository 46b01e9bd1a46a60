package apppkg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// AlgA128GCM is AES-GCM with a 128-bit key, used both for the ELF and
	// for wrapping its content key.
	AlgA128GCM = 1
	// KeySize is the length of a key-encryption key.
	KeySize = 16

	labelIV   = 5
	gcmIVSize = 12
)

var (
	ErrEncrypted    = errors.New("apppkg: package is already encrypted")
	ErrNotEncrypted = errors.New("apppkg: package is not encrypted")
	ErrDecrypt      = errors.New("apppkg: cannot decrypt package")
)

// coseEncrypt is the untagged COSE_Encrypt array carrying the ELF image.
type coseEncrypt struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int64]cbor.RawMessage
	Ciphertext  []byte
	Recipients  []coseRecipient
}

// coseRecipient wraps the content key under the key-encryption key.
type coseRecipient struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int64]cbor.RawMessage
	Ciphertext  []byte
}

// Encrypt replaces the ELF image of an unsigned package with a COSE_Encrypt
// structure and sets content_is_cose_encrypt. A fresh content key encrypts
// the image with AES-128-GCM and is itself wrapped with kek under keyID.
// Encrypt before signing; signed input is refused.
func Encrypt(pkg, kek []byte, keyID uint8) ([]byte, error) {
	if IsSigned(pkg) {
		return nil, ErrAlreadySigned
	}
	if len(kek) != KeySize {
		return nil, fmt.Errorf("apppkg: wrong AES-128-GCM key size: %d", len(kek))
	}
	p, err := Parse(pkg)
	if err != nil {
		return nil, err
	}
	if p.Encrypted {
		return nil, ErrEncrypted
	}

	cek := make([]byte, KeySize)
	if _, err := rand.Read(cek); err != nil {
		return nil, err
	}
	protected, err := encMode.Marshal(map[int64]any{
		labelAlg:    AlgA128GCM,
		LabelTrusty: trustyHeaderName,
	})
	if err != nil {
		return nil, err
	}
	iv, ciphertext, err := seal(cek, "Encrypt", protected, p.ELF)
	if err != nil {
		return nil, err
	}

	recipientProtected, err := encMode.Marshal(map[int64]any{labelAlg: AlgA128GCM})
	if err != nil {
		return nil, err
	}
	recipientIV, wrapped, err := seal(kek, "Enc_Recipient", recipientProtected, cek)
	if err != nil {
		return nil, err
	}
	kid, err := encMode.Marshal([]byte{keyID})
	if err != nil {
		return nil, err
	}

	enc, err := encMode.Marshal(coseEncrypt{
		Protected:   protected,
		Unprotected: map[int64]cbor.RawMessage{labelIV: iv},
		Ciphertext:  ciphertext,
		Recipients: []coseRecipient{{
			Protected:   recipientProtected,
			Unprotected: map[int64]cbor.RawMessage{labelKID: kid, labelIV: recipientIV},
			Ciphertext:  wrapped,
		}},
	})
	if err != nil {
		return nil, err
	}
	return encode(p.Version, true, enc, p.Manifest)
}

// Decrypt reverses Encrypt. The result keeps content_is_cose_encrypt,
// set to false.
func Decrypt(pkg, kek []byte) ([]byte, error) {
	if IsSigned(pkg) {
		return nil, ErrAlreadySigned
	}
	if len(kek) != KeySize {
		return nil, fmt.Errorf("apppkg: wrong AES-128-GCM key size: %d", len(kek))
	}
	p, err := Parse(pkg)
	if err != nil {
		return nil, err
	}
	if !p.Encrypted {
		return nil, ErrNotEncrypted
	}

	var enc coseEncrypt
	if err := decMode.Unmarshal(p.ELF, &enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(enc.Recipients) != 1 {
		return nil, fmt.Errorf("%w: %d recipients, want 1", ErrDecrypt, len(enc.Recipients))
	}
	r := enc.Recipients[0]
	cek, err := unseal(kek, "Enc_Recipient", r.Protected, r.Unprotected, r.Ciphertext)
	if err != nil {
		return nil, err
	}
	if len(cek) != KeySize {
		return nil, fmt.Errorf("%w: content key is %d bytes", ErrDecrypt, len(cek))
	}
	elf, err := unseal(cek, "Encrypt", enc.Protected, enc.Unprotected, enc.Ciphertext)
	if err != nil {
		return nil, err
	}
	return encode(p.Version, false, elf, p.Manifest)
}

// encStructure is the additional authenticated data for one layer.
func encStructure(context string, protected []byte) ([]byte, error) {
	return encMode.Marshal([]any{context, protected, []byte{}})
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext under key with a random IV and returns the IV
// encoded for the unprotected header.
func seal(key []byte, context string, protected, plaintext []byte) (cbor.RawMessage, []byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	aad, err := encStructure(context, protected)
	if err != nil {
		return nil, nil, err
	}
	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	rawIV, err := encMode.Marshal(iv)
	if err != nil {
		return nil, nil, err
	}
	return rawIV, aead.Seal(nil, iv, plaintext, aad), nil
}

func unseal(key []byte, context string, protected []byte, unprotected map[int64]cbor.RawMessage, ciphertext []byte) ([]byte, error) {
	var headers map[int64]cbor.RawMessage
	if err := decMode.Unmarshal(protected, &headers); err != nil {
		return nil, fmt.Errorf("%w: %s protected header: %v", ErrDecrypt, context, err)
	}
	var alg int64
	if raw, ok := headers[labelAlg]; !ok || decMode.Unmarshal(raw, &alg) != nil || alg != AlgA128GCM {
		return nil, fmt.Errorf("%w: %s layer must use AES-128-GCM", ErrDecrypt, context)
	}
	var iv []byte
	if raw, ok := unprotected[labelIV]; !ok || majorType(raw) != majorBytes || decMode.Unmarshal(raw, &iv) != nil || len(iv) != gcmIVSize {
		return nil, fmt.Errorf("%w: %s layer needs a %d-byte IV", ErrDecrypt, context, gcmIVSize)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	aad, err := encStructure(context, protected)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %s layer: %v", ErrDecrypt, context, err)
	}
	return plaintext, nil
}
