package apppkg

import (
	"encoding/hex"
	"errors"

	"github.com/fxamacker/cbor/v2"

	"trustyapp.dev/manifestc/cidutil"
	"trustyapp.dev/manifestc/manifest"
)

// Kind classifies an artifact produced by the tool chain.
type Kind string

const (
	KindManifest      Kind = "manifest"
	KindPackage       Kind = "package"
	KindSignedPackage Kind = "signed-package"
	KindUnknown       Kind = "unknown"
)

// Classify reports what b looks like. Packages are recognized by their
// leading CBOR tag; anything that decodes as a packed manifest is a
// manifest.
func Classify(b []byte) Kind {
	var tag cbor.RawTag
	if _, err := decMode.UnmarshalFirst(b, &tag); err == nil {
		switch tag.Number {
		case TagSign1:
			return KindSignedPackage
		case TagApp:
			return KindPackage
		}
	}
	if _, err := manifest.Decode(b); err == nil {
		return KindManifest
	}
	return KindUnknown
}

// Report summarizes a package for display.
type Report struct {
	Kind        Kind               `json:"kind"`
	CID         string             `json:"cid"`
	Size        int                `json:"size"`
	Signature   *SignatureHeader   `json:"signature,omitempty"`
	Version     uint64             `json:"version"`
	Encrypted   bool               `json:"encrypted,omitempty"`
	ELFSize     int                `json:"elf_size"`
	ELFCID      string             `json:"elf_cid"`
	ManifestCID string             `json:"manifest_cid"`
	Manifest    *manifest.Document `json:"manifest"`
}

// SignatureHeader is the unverified content of a signature's headers.
type SignatureHeader struct {
	Algorithm int64  `json:"algorithm"`
	KeyID     string `json:"key_id,omitempty"`
	Version   uint64 `json:"version,omitempty"`
}

// Inspect parses a signed or unsigned package and decodes its manifest. The
// signature, if any, is described but not verified.
func Inspect(b []byte) (*Report, error) {
	r := &Report{Kind: KindPackage, CID: cidutil.CIDv1RawSHA256(b), Size: len(b)}
	pkgBytes := b
	if IsSigned(b) {
		envelope, rest, err := Split(b)
		if err != nil {
			return nil, err
		}
		hdr, err := readSignatureHeader(envelope)
		if err != nil {
			return nil, err
		}
		r.Kind = KindSignedPackage
		r.Signature = hdr
		pkgBytes = rest
	}
	p, err := Parse(pkgBytes)
	if err != nil {
		return nil, err
	}
	doc, err := manifest.Decode(p.Manifest)
	if err != nil {
		return nil, err
	}
	r.Version = p.Version
	r.Encrypted = p.Encrypted
	r.ELFSize = len(p.ELF)
	r.ELFCID = cidutil.CIDv1RawSHA256(p.ELF)
	r.ManifestCID = cidutil.CIDv1RawSHA256(p.Manifest)
	r.Manifest = doc
	return r, nil
}

func readSignatureHeader(envelope []byte) (*SignatureHeader, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(envelope, &tag); err != nil {
		return nil, err
	}
	var msg coseSign1
	if err := decMode.Unmarshal(tag.Content, &msg); err != nil {
		return nil, err
	}
	var headers map[int64]cbor.RawMessage
	if err := decMode.Unmarshal(msg.Protected, &headers); err != nil {
		return nil, err
	}
	hdr := &SignatureHeader{}
	raw, ok := headers[labelAlg]
	if !ok {
		return nil, errors.New("apppkg: signature has no algorithm")
	}
	if err := decMode.Unmarshal(raw, &hdr.Algorithm); err != nil {
		return nil, err
	}
	kid, err := readKeyID(headers, msg.Unprotected)
	if err != nil {
		return nil, err
	}
	if kid != nil {
		hdr.KeyID = hex.EncodeToString(kid)
	}
	if raw, ok := headers[LabelTrusty]; ok {
		v, err := trustyVersion(raw)
		if err != nil {
			return nil, err
		}
		hdr.Version = v
	}
	return hdr, nil
}
