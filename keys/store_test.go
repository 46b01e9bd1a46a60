package keys

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKeyStoreLifecycle(t *testing.T) {
	ks, err := OpenKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKeyStore: %v", err)
	}
	seed := testSeed(0x11)

	pub, path, err := ks.InitRootKey("vendor", seed, Ed25519, false)
	if err != nil {
		t.Fatalf("InitRootKey: %v", err)
	}
	want, _ := PublicKeyFromSeed(Ed25519, seed)
	if pub != want {
		t.Fatalf("public key = %q, want %q", pub, want)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode = %v", info.Mode().Perm())
	}
	if _, _, err := ks.InitRootKey("vendor", seed, Ed25519, false); err == nil {
		t.Fatalf("expected refusal to overwrite without force")
	}
	if _, _, err := ks.InitRootKey("vendor", testSeed(0x12), Ed25519, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	if _, _, err := ks.DeriveRoleKey("vendor", "release", Dilithium3, false); err != nil {
		t.Fatalf("DeriveRoleKey: %v", err)
	}
	exported, err := ks.ExportPublicKey("vendor", "release", Dilithium3)
	if err != nil {
		t.Fatalf("ExportPublicKey: %v", err)
	}
	if alg, _, err := ParsePublicKey(exported); err != nil || alg != Dilithium3 {
		t.Fatalf("exported key %q: %v", exported, err)
	}

	list, err := ks.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if diff := cmp.Diff([]KeyEntry{{Name: "vendor", Roles: []string{"release"}}}, list); diff != "" {
		t.Fatalf("ListKeys mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyStoreLoadSignerPrecedence(t *testing.T) {
	dir := t.TempDir()
	ks := &KeyStore{Directory: dir}
	if _, _, err := ks.InitRootKey("stored", testSeed(1), Ed25519, false); err != nil {
		t.Fatalf("InitRootKey: %v", err)
	}
	file := filepath.Join(dir, "file.key")
	if err := os.WriteFile(file, []byte(hex.EncodeToString(testSeed(2))+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	pubFor := func(b byte) string {
		s, _ := NewSigner(Ed25519, testSeed(b))
		return string(s.PublicKey())
	}
	tests := []struct {
		name                   string
		seedHex, keyFile, user string
		want                   string
	}{
		{"seed wins", "0x" + hex.EncodeToString(testSeed(3)), file, "stored", pubFor(3)},
		{"file before name", "", file, "stored", pubFor(2)},
		{"name", "", "", "stored", pubFor(1)},
	}
	for _, tc := range tests {
		s, err := ks.LoadSigner(Ed25519, tc.seedHex, tc.keyFile, tc.user, "")
		if err != nil {
			t.Fatalf("%s: LoadSigner: %v", tc.name, err)
		}
		if string(s.PublicKey()) != tc.want {
			t.Fatalf("%s: wrong key selected", tc.name)
		}
	}
	if _, err := ks.LoadSigner(Ed25519, "", "", "", ""); err == nil {
		t.Fatalf("expected error with no signer")
	}
}

func TestKeyStoreRejectsBadNames(t *testing.T) {
	ks := &KeyStore{Directory: t.TempDir()}
	if _, _, err := ks.InitRootKey("../escape", testSeed(1), Ed25519, false); err == nil {
		t.Fatalf("expected path-like name to be rejected")
	}
	if _, err := ks.Seed("ok", "bad role"); err == nil {
		t.Fatalf("expected invalid role to be rejected")
	}
}

func TestListKeysMissingDirectory(t *testing.T) {
	ks := &KeyStore{Directory: filepath.Join(t.TempDir(), "absent")}
	list, err := ks.ListKeys()
	if err != nil || list != nil {
		t.Fatalf("ListKeys = %v, %v", list, err)
	}
}

func TestParseSeedHex(t *testing.T) {
	if _, err := ParseSeedHex("abcd"); err == nil {
		t.Fatalf("expected short seed to fail")
	}
	if _, err := ParseSeedHex("zz"); err == nil {
		t.Fatalf("expected bad hex to fail")
	}
	seed, err := ParseSeedHex("  0x" + hex.EncodeToString(testSeed(5)) + "\n")
	if err != nil || len(seed) != SeedSize {
		t.Fatalf("ParseSeedHex: %v", err)
	}
}
