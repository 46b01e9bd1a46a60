package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"trustyapp.dev/manifestc/storage/casconfig"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
	if Default().Store.Enabled() {
		t.Fatalf("the default configuration must not enable the store")
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("empty file should yield defaults (-want +got):\n%s", diff)
	}
}

func TestParseFull(t *testing.T) {
	t.Setenv("HOME", "/home/builder")
	t.Setenv("MANIFESTC_TEST_MIRROR", "")
	data := []byte(`
log:
  level: debug
  format: json
store:
  dir: ${HOME}/store
  mirrors: ["${MANIFESTC_TEST_MIRROR:-/srv/cache}"]
  write_policy: all
keys:
  dir: ${HOME}/keys
package:
  strict: true
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &Config{
		Log: LogConfig{Level: "debug", Format: "json"},
		Store: casconfig.Config{
			Dir:         "/home/builder/store",
			Mirrors:     []string{"/srv/cache"},
			WritePolicy: "all",
		},
		Keys:    KeysConfig{Dir: "/home/builder/keys"},
		Package: PackageConfig{Strict: true},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "store:\n  directory: /tmp\n", "directory"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"bad policy", "store:\n  dir: /tmp/x\n  write_policy: some\n", "write_policy"},
		{"not a mapping", "- a\n- b\n", "cannot unmarshal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "log.level") || !strings.Contains(err.Error(), "log.format") {
		t.Fatalf("error should list both problems: %v", err)
	}
}

func TestLoadUsesEnvironment(t *testing.T) {
	t.Setenv(EnvConfig, "")
	if _, err := Load(); err == nil {
		t.Fatalf("Load must fail without %s", EnvConfig)
	}

	path := filepath.Join(t.TempDir(), "manifestc.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadFileErrorsNamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("log: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("error should name the file: %v", err)
	}
	if _, err := LoadFile(""); err == nil {
		t.Fatalf("empty path must fail")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("MANIFESTC_TEST_SET", "value")
	t.Setenv("MANIFESTC_TEST_UNSET", "")
	vars := map[string]string{"HOME": "/h"}
	cases := map[string]string{
		"${HOME}/x":                     "/h/x",
		"${MANIFESTC_TEST_SET}":         "value",
		"${MANIFESTC_TEST_UNSET:-dflt}": "dflt",
		"${MANIFESTC_TEST_UNSET}":       "",
		"plain":                         "plain",
	}
	for in, want := range cases {
		if got := expandVars(in, vars); got != want {
			t.Errorf("expandVars(%q) = %q, want %q", in, got, want)
		}
	}
}
