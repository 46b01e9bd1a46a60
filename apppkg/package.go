// Package apppkg builds, signs and verifies application packages: the
// container that carries an application's ELF image together with its
// compiled manifest to the loader.
//
// An unsigned package is a single CBOR item:
//
//	65536([version, headers, elf, manifest])
//
// with version 1, a headers map, and the ELF image and packed manifest as
// byte strings. The only header label is content_is_cose_encrypt; when it is
// true the ELF field holds a COSE_Encrypt structure instead of a byte string.
// A signed package is a tagged COSE_Sign1 with a detached payload,
// immediately followed by the unsigned package bytes.
package apppkg

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"trustyapp.dev/manifestc/manifest"
)

const (
	// TagApp marks an application package.
	TagApp = 65536
	// FormatVersion is the current package format version.
	FormatVersion = 1
	// LabelContentIsCoseEncrypt marks a package whose ELF is encrypted.
	LabelContentIsCoseEncrypt = 1
)

var (
	ErrNotPackage  = errors.New("apppkg: not an application package")
	ErrVersion     = errors.New("apppkg: unsupported package format version")
	ErrHeaderLabel = errors.New("apppkg: unknown package header label")
)

// Package is a parsed, unsigned application package.
type Package struct {
	Version uint64
	// Encrypted reports content_is_cose_encrypt. ELF then holds the encoded
	// COSE_Encrypt structure rather than the image.
	Encrypted bool
	ELF       []byte
	Manifest  []byte
}

// Build packs an ELF image and a packed manifest. The manifest must decode
// cleanly; a package with a corrupt manifest would only be rejected later by
// the loader.
func Build(elf, packedManifest []byte) ([]byte, error) {
	if len(elf) == 0 {
		return nil, errors.New("apppkg: empty ELF image")
	}
	if _, err := manifest.Decode(packedManifest); err != nil {
		return nil, fmt.Errorf("apppkg: invalid manifest: %w", err)
	}
	return encMode.Marshal(cbor.Tag{
		Number:  TagApp,
		Content: []any{uint64(FormatVersion), map[int64]any{}, elf, packedManifest},
	})
}

// Parse decodes an unsigned package. Signed input is rejected; use Split
// first. The manifest bytes are returned as stored and can be decoded with
// manifest.Decode.
func Parse(b []byte) (*Package, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(b, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
	}
	if tag.Number != TagApp {
		return nil, fmt.Errorf("%w: tag %d, want %d", ErrNotPackage, tag.Number, TagApp)
	}
	if majorType(tag.Content) != majorArray {
		return nil, fmt.Errorf("%w: content is not an array", ErrNotPackage)
	}
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(tag.Content, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
	}
	if len(items) != 4 {
		return nil, fmt.Errorf("%w: %d fields, want 4", ErrNotPackage, len(items))
	}

	if majorType(items[0]) != majorUnsigned {
		return nil, fmt.Errorf("%w: version is not an unsigned integer", ErrNotPackage)
	}
	var version uint64
	if err := decMode.Unmarshal(items[0], &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, version)
	}

	if majorType(items[1]) != majorMap {
		return nil, fmt.Errorf("%w: headers is not a map", ErrNotPackage)
	}
	var headers map[any]cbor.RawMessage
	if err := decMode.Unmarshal(items[1], &headers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
	}
	p := &Package{Version: version}
	for k, v := range headers {
		label, ok := k.(uint64)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not an unsigned integer", ErrHeaderLabel, k)
		}
		switch label {
		case LabelContentIsCoseEncrypt:
			if len(v) != 1 || (v[0] != cborFalse && v[0] != cborTrue) {
				return nil, fmt.Errorf("%w: content_is_cose_encrypt must be a boolean", ErrNotPackage)
			}
			p.Encrypted = v[0] == cborTrue
		default:
			return nil, fmt.Errorf("%w: %d", ErrHeaderLabel, label)
		}
	}

	if p.Encrypted {
		if majorType(items[2]) != majorArray {
			return nil, fmt.Errorf("%w: encrypted ELF is not a COSE_Encrypt array", ErrNotPackage)
		}
		p.ELF = append([]byte(nil), items[2]...)
	} else {
		if majorType(items[2]) != majorBytes {
			return nil, fmt.Errorf("%w: field 2 is not a byte string", ErrNotPackage)
		}
		if err := decMode.Unmarshal(items[2], &p.ELF); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
		}
	}
	if majorType(items[3]) != majorBytes {
		return nil, fmt.Errorf("%w: field 3 is not a byte string", ErrNotPackage)
	}
	if err := decMode.Unmarshal(items[3], &p.Manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
	}
	return p, nil
}

// encode re-assembles a package around an ELF field, which is either the
// image or an encoded COSE_Encrypt, and sets content_is_cose_encrypt.
func encode(version uint64, encrypted bool, elf, packedManifest []byte) ([]byte, error) {
	var field any = elf
	if encrypted {
		field = cbor.RawMessage(elf)
	}
	return encMode.Marshal(cbor.Tag{
		Number: TagApp,
		Content: []any{
			version,
			map[uint64]bool{LabelContentIsCoseEncrypt: encrypted},
			field,
			packedManifest,
		},
	})
}
