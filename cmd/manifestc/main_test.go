package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"trustyapp.dev/manifestc/config"
)

var vectorDir = filepath.Join("..", "..", "testdata", "conformance", "manifest")

const testSeedHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// cli runs the command with an isolated key store and no ambient config.
type cli struct {
	t       *testing.T
	keysDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv(config.EnvConfig, "")
	return &cli{t: t, keysDir: t.TempDir()}
}

func (c *cli) run(args ...string) (code int, stdout, stderr string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--keys-dir", c.keysDir}, args...)
	code = run(full, &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	code, stdout, stderr := c.run(args...)
	if code != 0 {
		c.t.Fatalf("%v: exit %d\nstderr:\n%s", args, code, stderr)
	}
	return stdout
}

func readVectorHex(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(vectorDir, name))
	if err != nil {
		t.Fatal(err)
	}
	out, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestUsage(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Fatalf("no args: exit %d, want 2", code)
	}
	if code := run([]string{"help"}, &out, &errOut); code != 0 {
		t.Fatalf("help: exit %d, want 0", code)
	}
	if !strings.Contains(out.String(), "manifestc compile") {
		t.Fatalf("help output missing commands:\n%s", out.String())
	}
	if code := run([]string{"frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command: exit %d, want 2", code)
	}
	if code := run([]string{"compile"}, &out, &errOut); code != 2 {
		t.Fatalf("compile without flags: exit %d, want 2", code)
	}
	if code := run([]string{"package"}, &out, &errOut); code != 2 {
		t.Fatalf("package without subcommand: exit %d, want 2", code)
	}
}

func TestCompileWritesVectorBytes(t *testing.T) {
	c := newCLI(t)
	outPath := filepath.Join(t.TempDir(), "basic.bin")
	stdout := c.mustRun("compile", "-i", filepath.Join(vectorDir, "basic.json"), "-o", outPath)

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := readVectorHex(t, "basic.hex"); !bytes.Equal(got, want) {
		t.Fatalf("compiled bytes mismatch:\n got %x\nwant %x", got, want)
	}
	if !strings.HasPrefix(strings.TrimSpace(stdout), "bafkrei") {
		t.Fatalf("compile should print the output CID, got %q", stdout)
	}
	if cid := c.mustRun("cid", outPath); cid != stdout {
		t.Fatalf("cid = %q, compile printed %q", cid, stdout)
	}
}

func TestCompileReportsEveryError(t *testing.T) {
	c := newCLI(t)
	outPath := filepath.Join(t.TempDir(), "out.bin")
	code, _, stderr := c.run("compile", "-i", filepath.Join(vectorDir, "invalid_types.json"), "-o", outPath)
	if code != 1 {
		t.Fatalf("exit %d, want 1", code)
	}
	for _, rule := range []string{"MANIFEST-FIELD-002", "MANIFEST-FIELD-003", "MANIFEST-MEM-001", "3 error(s)"} {
		if !strings.Contains(stderr, rule) {
			t.Fatalf("stderr missing %q:\n%s", rule, stderr)
		}
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Fatalf("failed compile must not write output")
	}
}

func TestCheckAndVerify(t *testing.T) {
	c := newCLI(t)
	for _, name := range []string{"basic.json", "full.yaml", "commented.jsonc"} {
		path := filepath.Join(vectorDir, name)
		if out := c.mustRun("check", "-i", path); !strings.Contains(out, "OK") {
			t.Fatalf("check %s: %q", name, out)
		}
		if out := c.mustRun("verify", "-i", path); !strings.Contains(out, "round trip OK") {
			t.Fatalf("verify %s: %q", name, out)
		}
	}
	if code, _, _ := c.run("check", "-i", filepath.Join(vectorDir, "invalid_unknown.json")); code != 1 {
		t.Fatalf("check of invalid manifest: exit %d, want 1", code)
	}
}

func TestDecodePrintsCanonicalJSON(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "basic.bin")
	if err := os.WriteFile(path, readVectorHex(t, "basic.hex"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := c.mustRun("decode", path)
	for _, want := range []string{
		`"uuid": "5f902ace-5e5c-4cd8-ae54-87b88c22ddaf"`,
		`"addr": "0x70000000"`,
		`"restart_on_exit": false`,
		"\n    \"mem_map\"",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("decode output missing %q:\n%s", want, out)
		}
	}

	bad := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(bad, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := c.run("decode", bad)
	if code != 1 || !strings.Contains(stderr, "MANIFEST-DEC-001") {
		t.Fatalf("decode of short input: exit %d stderr %q", code, stderr)
	}
}

func TestPackageLifecycle(t *testing.T) {
	for _, tc := range []struct {
		alg  string
		mode string
	}{
		{"ecdsa-p256", "strict"},
		{"ed25519", "permissive"},
		{"dilithium3", "permissive"},
	} {
		alg := tc.alg
		t.Run(alg, func(t *testing.T) {
			c := newCLI(t)
			dir := t.TempDir()
			manifestBin := filepath.Join(dir, "manifest.bin")
			elf := filepath.Join(dir, "app.elf")
			pkg := filepath.Join(dir, "app.pkg")
			signed := filepath.Join(dir, "app.signed")
			pubFile := filepath.Join(dir, "release.pub")
			unsigned := filepath.Join(dir, "unsigned.pkg")

			c.mustRun("compile", "-i", filepath.Join(vectorDir, "full.yaml"), "-o", manifestBin)
			if err := os.WriteFile(elf, []byte("\x7fELF\x02\x01\x01 test image"), 0o644); err != nil {
				t.Fatal(err)
			}
			c.mustRun("package", "build", "--elf", elf, "--manifest", manifestBin, "-o", pkg)

			c.mustRun("key", "init", "--name", "vendor", "--seed-hex", testSeedHex)
			c.mustRun("key", "derive", "--from", "vendor", "--role", "release")
			pub := c.mustRun("key", "export", "--name", "vendor", "--role", "release", "--alg", alg)
			if !strings.HasPrefix(pub, alg+":") {
				t.Fatalf("exported key %q lacks %s prefix", pub, alg)
			}
			if err := os.WriteFile(pubFile, []byte(pub), 0o644); err != nil {
				t.Fatal(err)
			}

			c.mustRun("package", "sign", "-i", pkg, "-o", signed,
				"--signer", "vendor", "--role", "release", "--alg", alg, "--key-id", "7", "--strict="+strconv.FormatBool(tc.mode == "strict"))
			out := c.mustRun("package", "verify", "-i", signed, "--public-key", pubFile, "--strict="+strconv.FormatBool(tc.mode == "strict"), "-o", unsigned)
			if !strings.Contains(out, "algorithm="+alg) || !strings.Contains(out, "key_id=07") || !strings.Contains(out, "mode="+tc.mode) {
				t.Fatalf("unexpected verify output %q", out)
			}
			orig, _ := os.ReadFile(pkg)
			back, _ := os.ReadFile(unsigned)
			if !bytes.Equal(orig, back) {
				t.Fatalf("verify -o must write the unsigned package bytes")
			}

			report := c.mustRun("package", "inspect", "-i", signed)
			for _, want := range []string{`"kind": "signed-package"`, `"key_id": "07"`, `"uuid": "0b3c3a9e-2c1f-4b6e-8a57-3d6f1e9c4b21"`} {
				if !strings.Contains(report, want) {
					t.Fatalf("inspect output missing %q:\n%s", want, report)
				}
			}
			if decoded := c.mustRun("decode", signed); !strings.Contains(decoded, "portstartsrv.shutdown") {
				t.Fatalf("decode of signed package should print its manifest:\n%s", decoded)
			}

			b, _ := os.ReadFile(signed)
			b[len(b)-1] ^= 0x01
			if err := os.WriteFile(signed, b, 0o644); err != nil {
				t.Fatal(err)
			}
			if code, _, _ := c.run("package", "verify", "-i", signed, "--public-key", pubFile); code != 1 {
				t.Fatalf("tampered package: exit %d, want 1", code)
			}
		})
	}
}

func TestPackageStrictSignRequiresECDSA(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	manifestBin := filepath.Join(dir, "manifest.bin")
	elf := filepath.Join(dir, "app.elf")
	pkg := filepath.Join(dir, "app.pkg")
	c.mustRun("compile", "-i", filepath.Join(vectorDir, "full.yaml"), "-o", manifestBin)
	if err := os.WriteFile(elf, []byte("\x7fELF image"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.mustRun("package", "build", "--elf", elf, "--manifest", manifestBin, "-o", pkg)

	code, _, stderr := c.run("package", "sign", "-i", pkg, "-o", filepath.Join(dir, "out"),
		"--seed-hex", testSeedHex, "--alg", "ed25519", "--strict")
	if code != 1 || !strings.Contains(stderr, "strict layout") {
		t.Fatalf("strict ed25519 sign: exit %d stderr %q", code, stderr)
	}
	c.mustRun("package", "sign", "-i", pkg, "-o", filepath.Join(dir, "out"), "--seed-hex", testSeedHex, "--strict")
}

func TestPackageEncryptDecrypt(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	manifestBin := filepath.Join(dir, "manifest.bin")
	elf := filepath.Join(dir, "app.elf")
	pkg := filepath.Join(dir, "app.pkg")
	enc := filepath.Join(dir, "app.enc")
	signed := filepath.Join(dir, "app.signed")
	pubFile := filepath.Join(dir, "signer.pub")
	verified := filepath.Join(dir, "verified.pkg")
	dec := filepath.Join(dir, "app.dec")
	kek := filepath.Join(dir, "kek.hex")
	image := []byte("\x7fELF\x02\x01\x01 secret image")

	c.mustRun("compile", "-i", filepath.Join(vectorDir, "full.yaml"), "-o", manifestBin)
	if err := os.WriteFile(elf, image, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kek, []byte("000102030405060708090a0b0c0d0e0f\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.mustRun("package", "build", "--elf", elf, "--manifest", manifestBin, "-o", pkg)
	c.mustRun("package", "encrypt", "-i", pkg, "-o", enc, "--key-file", kek, "--key-id", "2")

	b, _ := os.ReadFile(enc)
	if bytes.Contains(b, image) {
		t.Fatalf("encrypted package still contains the image")
	}
	if report := c.mustRun("package", "inspect", "-i", enc); !strings.Contains(report, `"encrypted": true`) {
		t.Fatalf("inspect should report encryption:\n%s", report)
	}

	c.mustRun("key", "init", "--name", "signer", "--seed-hex", testSeedHex)
	pub := c.mustRun("key", "export", "--name", "signer")
	if err := os.WriteFile(pubFile, []byte(pub), 0o644); err != nil {
		t.Fatal(err)
	}
	c.mustRun("package", "sign", "-i", enc, "-o", signed, "--seed-hex", testSeedHex, "--strict")
	c.mustRun("package", "verify", "-i", signed, "--public-key", pubFile, "--strict", "-o", verified)
	c.mustRun("package", "decrypt", "-i", verified, "-o", dec, "--key-file", kek)
	if report := c.mustRun("package", "inspect", "-i", dec); strings.Contains(report, `"encrypted"`) {
		t.Fatalf("decrypted package still reports encryption:\n%s", report)
	}

	wrong := filepath.Join(dir, "wrong.key")
	if err := os.WriteFile(wrong, bytes.Repeat([]byte{0x55}, 16), 0o600); err != nil {
		t.Fatal(err)
	}
	if code, _, stderr := c.run("package", "decrypt", "-i", enc, "-o", dec, "--key-file", wrong); code != 1 || !strings.Contains(stderr, "decrypt failed") {
		t.Fatalf("decrypt with the wrong key: exit %d stderr %q", code, stderr)
	}
	if code, _, _ := c.run("package", "encrypt", "-i", pkg, "-o", enc); code != 2 {
		t.Fatalf("encrypt without --key-file: exit %d, want 2", code)
	}
}

func TestPackageSignRequiresSigner(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("package", "sign", "-i", "x", "-o", "y")
	if code != 2 || !strings.Contains(stderr, "missing signer") {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
	code, _, _ = c.run("package", "sign", "-i", "x", "-o", "y", "--seed-hex", testSeedHex, "--alg", "rsa")
	if code != 2 {
		t.Fatalf("unknown --alg: exit %d, want 2", code)
	}
}

func TestKeyList(t *testing.T) {
	c := newCLI(t)
	if out := c.mustRun("key", "list"); out != "" {
		t.Fatalf("empty store should list nothing, got %q", out)
	}
	c.mustRun("key", "init", "--name", "vendor", "--seed-hex", testSeedHex)
	c.mustRun("key", "derive", "--from", "vendor", "--role", "release")
	if out := c.mustRun("key", "list"); out != "vendor\n  - release\n" {
		t.Fatalf("key list = %q", out)
	}
	if code, _, _ := c.run("key", "init", "--name", "vendor", "--seed-hex", testSeedHex); code != 1 {
		t.Fatalf("re-init without --force: exit %d, want 1", code)
	}
	if code, _, _ := c.run("key", "init", "--name", "../escape"); code != 2 {
		t.Fatalf("bad key name: exit %d, want 2", code)
	}
}

func TestStoreCommands(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "store")
	manifestBin := filepath.Join(dir, "manifest.bin")
	elf := filepath.Join(dir, "app.elf")
	pkg := filepath.Join(dir, "app.pkg")

	if code, _, stderr := c.run("compile", "-i", filepath.Join(vectorDir, "basic.json"), "-o", manifestBin, "--store"); code != 1 || !strings.Contains(stderr, "store.dir") {
		t.Fatalf("--store without a store: exit %d stderr %q", code, stderr)
	}

	manifestCID := strings.TrimSpace(c.mustRun("--store-dir", storeDir, "compile", "-i", filepath.Join(vectorDir, "basic.json"), "-o", manifestBin, "--store"))
	if err := os.WriteFile(elf, []byte("\x7fELF image"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.mustRun("--store-dir", storeDir, "package", "build", "--elf", elf, "--manifest", manifestBin, "-o", pkg, "--store")

	list := c.mustRun("--store-dir", storeDir, "store", "list")
	lines := strings.Split(strings.TrimSpace(list), "\n")
	if len(lines) != 2 {
		t.Fatalf("store list = %q, want two artifacts", list)
	}
	if !strings.Contains(list, manifestCID+"\tmanifest\t") || !strings.Contains(list, "\tpackage\t") {
		t.Fatalf("store list = %q", list)
	}

	fetched := filepath.Join(dir, "fetched.bin")
	c.mustRun("--store-dir", storeDir, "store", "get", manifestCID, "-o", fetched)
	want, _ := os.ReadFile(manifestBin)
	got, _ := os.ReadFile(fetched)
	if !bytes.Equal(want, got) {
		t.Fatalf("store get returned different bytes")
	}

	if put := strings.TrimSpace(c.mustRun("--store-dir", storeDir, "store", "put", manifestBin)); put != manifestCID {
		t.Fatalf("store put = %s, want %s", put, manifestCID)
	}
	if code, _, _ := c.run("--store-dir", storeDir, "store", "get", "not-a-cid", "-o", fetched); code != 2 {
		t.Fatalf("bad cid: exit %d, want 2", code)
	}

	pkgCID := strings.TrimSpace(c.mustRun("cid", pkg))
	tarPath := filepath.Join(dir, "release.tar")
	c.mustRun("--store-dir", storeDir, "store", "export", "-o", tarPath, "--label", "app="+pkgCID, manifestCID, pkgCID)

	otherStore := filepath.Join(dir, "other")
	imported := c.mustRun("--store-dir", otherStore, "store", "import", tarPath)
	for _, want := range []string{manifestCID + "\tmanifest\t", pkgCID + "\tpackage\t", "app=" + pkgCID} {
		if !strings.Contains(imported, want) {
			t.Fatalf("store import output missing %q:\n%s", want, imported)
		}
	}
	if again := c.mustRun("--store-dir", otherStore, "store", "list"); again != list {
		t.Fatalf("imported store lists %q, source lists %q", again, list)
	}
}

func TestConfigFile(t *testing.T) {
	c := newCLI(t)
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "store")
	cfgPath := filepath.Join(dir, "manifestc.yaml")
	cfg := "log:\n  level: debug\n  format: json\nstore:\n  dir: " + storeDir + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := c.run("--config", cfgPath, "compile", "-i", filepath.Join(vectorDir, "basic.json"), "-o", filepath.Join(dir, "m.bin"), "--store")
	if code != 0 {
		t.Fatalf("exit %d stderr %s", code, stderr)
	}
	if !strings.Contains(stderr, `"msg":"stored artifact"`) {
		t.Fatalf("expected a JSON log line for the stored artifact, got:\n%s", stderr)
	}

	t.Setenv(config.EnvConfig, cfgPath)
	if out := c.mustRun("store", "list"); !strings.Contains(out, "\tmanifest\t") {
		t.Fatalf("store from %s not used: %q", config.EnvConfig, out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _, stderr := c.run("--config", bad, "cid", cfgPath); code != 1 || !strings.Contains(stderr, "log.level") {
		t.Fatalf("bad config: exit %d stderr %q", code, stderr)
	}
}
