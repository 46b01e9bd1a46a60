// Package cidutil computes the content identifiers under which compiled
// manifests and application packages are stored and reported.
package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	c, err := CIDv1RawSHA256CID(data)
	if err != nil {
		// multihash.Sum only errors for unknown codes or bad lengths.
		return ""
	}
	return c.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Check reports whether data hashes to the CID string want.
func Check(data []byte, want string) error {
	expected, err := cid.Decode(want)
	if err != nil {
		return fmt.Errorf("invalid cid %q: %w", want, err)
	}
	got, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return err
	}
	if !got.Equals(expected) {
		return fmt.Errorf("content does not match cid: got %s want %s", got, expected)
	}
	return nil
}
