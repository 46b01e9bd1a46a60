package keys

import (
	"bytes"
	"testing"
)

func TestDeriveRoleSeedDeterministic(t *testing.T) {
	root := make([]byte, SeedSize)
	for i := range root {
		root[i] = byte(i)
	}

	a, err := DeriveRoleSeed(root, "release")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	b, err := DeriveRoleSeed(root, "release")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic derivation")
	}

	c, err := DeriveRoleSeed(root, "dev")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("expected different roles to derive different seeds")
	}
	if bytes.Equal(a, root) {
		t.Fatalf("role seed must differ from root seed")
	}
}

func TestDeriveRoleSeedRejectsBadInput(t *testing.T) {
	if _, err := DeriveRoleSeed(make([]byte, 16), "release"); err == nil {
		t.Fatalf("expected short root seed to fail")
	}
	if _, err := DeriveRoleSeed(make([]byte, SeedSize), "bad/role"); err == nil {
		t.Fatalf("expected invalid role to fail")
	}
}
