// Package storage defines the content-addressed store that keeps compiled
// manifests and application packages addressable by CID.
package storage

import "github.com/ipfs/go-cid"

// CAS is a minimal content-addressable storage interface.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - CIDs MUST be derived from the bytes written (CIDv1, raw, sha2-256).
// - Get MUST return ErrNotFound when the CID is absent.
type CAS interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

// Lister is implemented by stores that can enumerate what they hold.
// List returns CIDs sorted by their string form.
type Lister interface {
	List() ([]cid.Cid, error)
}

// List enumerates cas when it implements Lister.
func List(cas CAS) ([]cid.Cid, error) {
	l, ok := cas.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return l.List()
}
