package storage

import (
	"errors"
	"sort"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads from a primary store and falls back to mirrors in order.
//
// The CLI uses it to resolve artifacts from read-only mirrors (for example a
// shared build cache) while writing only to the local store. Put writes to
// the first adapter only.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(bytes []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, errors.New("storage: MultiCAS has no adapters")
	}
	return m.Adapters[0].Put(bytes)
}

func (m MultiCAS) Get(id cid.Cid) ([]byte, error) {
	for _, cas := range m.Adapters {
		b, err := cas.Get(id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (m MultiCAS) Has(id cid.Cid) bool {
	for _, cas := range m.Adapters {
		if cas.Has(id) {
			return true
		}
	}
	return false
}

// List returns the union of every listable adapter's contents.
func (m MultiCAS) List() ([]cid.Cid, error) {
	cass := make([]CAS, 0, len(m.Adapters))
	cass = append(cass, m.Adapters...)
	return listUnion(cass)
}

func listUnion(cass []CAS) ([]cid.Cid, error) {
	seen := map[string]cid.Cid{}
	for _, cas := range cass {
		ids, err := List(cas)
		if errors.Is(err, ErrNotListable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id.String()] = id
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cid.Cid, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out, nil
}
