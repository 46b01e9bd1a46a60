package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"trustyapp.dev/manifestc/cidutil"
)

// NamedCAS associates a CAS with a stable name used in reports.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// ReplicatingCAS writes every artifact to all backends.
//
// Reads fall back in order. Writes go to all backends and require all
// returned CIDs to match (otherwise ErrCIDMismatch is returned).
type ReplicatingCAS struct {
	Backends []NamedCAS
}

var _ CAS = (*ReplicatingCAS)(nil)

// PutAll writes the same bytes to all backends and returns the CID computed
// from bytes along with the CID each backend reported.
func (r ReplicatingCAS) PutAll(bytes []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(bytes)
	if err != nil {
		return cid.Undef, nil, err
	}
	if !want.Defined() {
		return cid.Undef, nil, ErrInvalidCID
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, fmt.Errorf("storage: ReplicatingCAS has no backends")
	}

	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
		got, err := b.CAS.Put(bytes)
		if err != nil {
			return cid.Undef, nil, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if got != want {
			return cid.Undef, out, ErrCIDMismatch
		}
	}
	return want, out, nil
}

func (r ReplicatingCAS) Put(bytes []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(bytes)
	return id, err
}

func (r ReplicatingCAS) Get(id cid.Cid) ([]byte, error) {
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		out, err := b.CAS.Get(id)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (r ReplicatingCAS) Has(id cid.Cid) bool {
	for _, b := range r.Backends {
		if b.CAS != nil && b.CAS.Has(id) {
			return true
		}
	}
	return false
}

// List returns the union of every listable backend's contents.
func (r ReplicatingCAS) List() ([]cid.Cid, error) {
	cass := make([]CAS, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.CAS != nil {
			cass = append(cass, b.CAS)
		}
	}
	return listUnion(cass)
}
