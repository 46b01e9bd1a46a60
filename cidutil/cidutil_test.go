package cidutil

import (
	"strings"
	"testing"
)

func TestCIDv1RawSHA256Stable(t *testing.T) {
	data := []byte{0xce, 0x2a, 0x90, 0x5f}
	a := CIDv1RawSHA256(data)
	if a == "" || !strings.HasPrefix(a, "bafkrei") {
		t.Fatalf("unexpected cid %q", a)
	}
	if b := CIDv1RawSHA256(append([]byte(nil), data...)); a != b {
		t.Fatalf("cid not deterministic: %s vs %s", a, b)
	}
	if c := CIDv1RawSHA256([]byte{0}); c == a {
		t.Fatalf("different content produced the same cid")
	}
}

func TestCheck(t *testing.T) {
	data := []byte("packed manifest")
	id := CIDv1RawSHA256(data)
	if err := Check(data, id); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := Check([]byte("other"), id); err == nil {
		t.Fatalf("expected mismatch")
	}
	if err := Check(data, "not-a-cid"); err == nil {
		t.Fatalf("expected invalid cid error")
	}
}
