// Package testkit holds a behavioral suite shared by storage.CAS
// implementations.
package testkit

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"

	"trustyapp.dev/manifestc/cidutil"
	"trustyapp.dev/manifestc/storage"
)

// NewCAS constructs a fresh, empty store for one subtest.
type NewCAS func(t *testing.T) storage.CAS

// Artifacts are sample payloads shaped like what the CLI stores: a packed
// manifest and the head of a tagged package.
var Artifacts = [][]byte{
	{0xce, 0x2a, 0x90, 0x5f, 0x5c, 0x5e, 0xd8, 0x4c, 0xae, 0x54, 0x87, 0xb8, 0x8c, 0x22, 0xdd, 0xaf},
	{0xda, 0x00, 0x01, 0x00, 0x00, 0x84, 0x01, 0xa0, 0x41, 0x7f, 0x41, 0x00},
}

func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		cas := newCAS(t)
		for _, want := range Artifacts {
			id, err := cas.Put(want)
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			wantID, err := cidutil.CIDv1RawSHA256CID(want)
			if err != nil {
				t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
			}
			if id != wantID {
				t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
			}
			got, err := cas.Get(id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("Get bytes mismatch")
			}
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		id1, err := cas.Put(Artifacts[0])
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := cas.Put(Artifacts[0])
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("missing")
		id, err := cidutil.CIDv1RawSHA256CID(b)
		if err != nil {
			t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
		}
		if cas.Has(id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := cas.Get(id); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := cas.Put(b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		cas := newCAS(t)
		var undef cid.Cid
		if cas.Has(undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := cas.Get(undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
	})

	t.Run("ListWhenSupported", func(t *testing.T) {
		cas := newCAS(t)
		if _, ok := cas.(storage.Lister); !ok {
			t.Skip("store is not listable")
		}
		var want []string
		for _, b := range Artifacts {
			id, err := cas.Put(b)
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			want = append(want, id.String())
		}
		ids, err := storage.List(cas)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != len(want) {
			t.Fatalf("List returned %d ids, want %d", len(ids), len(want))
		}
		for i := 1; i < len(ids); i++ {
			if ids[i-1].String() >= ids[i].String() {
				t.Fatalf("List is not sorted")
			}
		}
	})
}
