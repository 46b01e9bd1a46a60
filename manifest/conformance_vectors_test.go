package manifest

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var vectorRoot = filepath.Join("..", "testdata", "conformance", "manifest")

func TestConformanceVectors_Compile(t *testing.T) {
	for _, name := range []string{"basic.json", "full.yaml", "commented.jsonc"} {
		t.Run(name, func(t *testing.T) {
			config, err := ReadSource(filepath.Join(vectorRoot, name))
			if err != nil {
				t.Fatalf("ReadSource: %v", err)
			}
			var log Log
			got, err := Compile(config, &log)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			want := readHexVector(t, strings.TrimSuffix(name, filepath.Ext(name))+".hex")
			if !bytes.Equal(got, want) {
				t.Fatalf("encoding mismatch:\n got %x\nwant %x", got, want)
			}
			if err := CheckRoundTrip(config); err != nil {
				t.Fatalf("CheckRoundTrip: %v", err)
			}
		})
	}
}

func TestConformanceVectors_DecodeReencode(t *testing.T) {
	for _, name := range []string{"basic.hex", "full.hex", "commented.hex"} {
		t.Run(name, func(t *testing.T) {
			packed := readHexVector(t, name)
			doc, err := Decode(packed)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			var log Log
			again, err := Compile(doc.Map(), &log)
			if err != nil {
				t.Fatalf("Compile(decoded): %v", err)
			}
			if !bytes.Equal(again, packed) {
				t.Fatalf("decoded form does not re-encode to the same bytes")
			}
		})
	}
}

func TestConformanceVectors_Rejected(t *testing.T) {
	for _, base := range []string{"invalid_types", "invalid_unknown", "invalid_empty"} {
		t.Run(base, func(t *testing.T) {
			config, err := ReadSource(filepath.Join(vectorRoot, base+".json"))
			if err != nil {
				t.Fatalf("ReadSource: %v", err)
			}
			b, err := os.ReadFile(filepath.Join(vectorRoot, base+".rules"))
			if err != nil {
				t.Fatalf("read rules: %v", err)
			}
			want := strings.Fields(string(b))

			var log Log
			if _, err := Compile(config, &log); err == nil {
				t.Fatalf("expected compile failure")
			}
			var got []string
			for _, e := range log.Errors() {
				got = append(got, e.RuleID)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("rule mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func readHexVector(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(vectorRoot, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	out, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return out
}
