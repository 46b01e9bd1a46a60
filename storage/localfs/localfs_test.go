package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"trustyapp.dev/manifestc/cidutil"
	"trustyapp.dev/manifestc/storage"
	"trustyapp.dev/manifestc/storage/testkit"
)

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		cas, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return cas
	})
}

func TestLocalFS_RejectMutationByOverwrite(t *testing.T) {
	cas, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	orig := []byte("original")
	id, err := cas.Put(orig)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	path := cas.pathFor(id)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := cas.Get(id); err != storage.ErrCIDMismatch {
		t.Fatalf("Get mismatch: got %v want %v", err, storage.ErrCIDMismatch)
	}
	// Put must not repair the corrupted object.
	if _, err := cas.Put(orig); err != storage.ErrImmutable {
		t.Fatalf("Put after corruption: got %v want %v", err, storage.ErrImmutable)
	}

	wantID, err := cidutil.CIDv1RawSHA256CID(orig)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
	}
	if id != wantID {
		t.Fatalf("unexpected CID: got %s want %s", id, wantID)
	}
}

func TestLocalFS_ListSkipsStrayFiles(t *testing.T) {
	dir := t.TempDir()
	cas, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	id, err := cas.Put([]byte("artifact"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	shard := filepath.Join(dir, id.String()[:2])
	if err := os.WriteFile(filepath.Join(shard, id.String()[:2]+"-tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := cas.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("List = %v, want [%s]", ids, id)
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty root")
	}
}
