package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"trustyapp.dev/manifestc/apppkg"
	"trustyapp.dev/manifestc/cidutil"
	"trustyapp.dev/manifestc/compliance"
	"trustyapp.dev/manifestc/keys"
)

func (a *app) cmdPackage(args []string) int {
	if len(args) == 0 {
		printPackageUsage(a.errOut)
		return 2
	}
	switch args[0] {
	case "build":
		return a.cmdPackageBuild(args[1:])
	case "sign":
		return a.cmdPackageSign(args[1:])
	case "verify":
		return a.cmdPackageVerify(args[1:])
	case "encrypt":
		return a.cmdPackageEncrypt(args[1:])
	case "decrypt":
		return a.cmdPackageDecrypt(args[1:])
	case "inspect":
		return a.cmdPackageInspect(args[1:])
	case "help", "-h", "--help":
		printPackageUsage(a.out)
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown package subcommand: %s\n\n", args[0])
		printPackageUsage(a.errOut)
		return 2
	}
}

func printPackageUsage(w io.Writer) {
	fmt.Fprintln(w, "manifestc package: build, sign, verify and encrypt application packages")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  manifestc package build --elf <app.elf> --manifest <out.bin> -o <app.pkg> [--store]")
	fmt.Fprintln(w, "  manifestc package sign -i <app.pkg> -o <signed.pkg> (--signer <name> [--role <r>] | --key-file <path> | --seed-hex <64hex>) [--alg ecdsa-p256|ed25519|dilithium3] [--key-id N] [--strict]")
	fmt.Fprintln(w, "  manifestc package verify -i <signed.pkg> --public-key <file> [-o <app.pkg>] [--strict]")
	fmt.Fprintln(w, "  manifestc package encrypt -i <app.pkg> -o <enc.pkg> --key-file <aes128.key> [--key-id N]")
	fmt.Fprintln(w, "  manifestc package decrypt -i <enc.pkg> -o <app.pkg> --key-file <aes128.key>")
	fmt.Fprintln(w, "  manifestc package inspect -i <pkg>")
}

func (a *app) cmdPackageBuild(args []string) int {
	fs := a.flagSet("package build")
	var elfPath, manifestPath, outPath string
	var store bool
	fs.StringVar(&elfPath, "elf", "", "Application ELF image")
	fs.StringVar(&manifestPath, "manifest", "", "Packed manifest (output of compile)")
	fs.StringVarP(&outPath, "output", "o", "", "Output package file")
	fs.BoolVar(&store, "store", false, "Also put the package into the artifact store")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if elfPath == "" || manifestPath == "" || outPath == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc package build --elf <app.elf> --manifest <out.bin> -o <app.pkg>")
		return 2
	}
	elf, err := os.ReadFile(elfPath)
	if err != nil {
		fmt.Fprintf(a.errOut, "read --elf: %v\n", err)
		return 1
	}
	packed, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintf(a.errOut, "read --manifest: %v\n", err)
		return 1
	}
	pkg, err := apppkg.Build(elf, packed)
	if err != nil {
		fmt.Fprintf(a.errOut, "build failed: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, pkg, 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	if store {
		if err := a.keep("package", pkg); err != nil {
			fmt.Fprintf(a.errOut, "store: %v\n", err)
			return 1
		}
	}
	fmt.Fprintln(a.out, cidutil.CIDv1RawSHA256(pkg))
	return 0
}

func (a *app) cmdPackageSign(args []string) int {
	fs := a.flagSet("package sign")
	var in, outPath, signerName, role, keyFile, seedHex, algName string
	var keyID uint8
	var strict, store bool
	fs.StringVarP(&in, "input", "i", "", "Unsigned package")
	fs.StringVarP(&outPath, "output", "o", "", "Output signed package")
	fs.StringVar(&signerName, "signer", "", "Key name in the key store")
	fs.StringVar(&role, "role", "", "Derived role of --signer")
	fs.StringVar(&keyFile, "key-file", "", "File holding a hex seed")
	fs.StringVar(&seedHex, "seed-hex", "", "Seed as 64 hex chars")
	fs.StringVar(&algName, "alg", string(keys.ECDSAP256), "Signature algorithm: ecdsa-p256, ed25519 or dilithium3")
	fs.Uint8Var(&keyID, "key-id", 1, "Key identifier recorded in the signature")
	fs.BoolVar(&strict, "strict", false, "Require a well-formed package (default from package.strict)")
	fs.BoolVar(&store, "store", false, "Also put the signed package into the artifact store")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" || outPath == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc package sign -i <app.pkg> -o <signed.pkg> (--signer <name> | --key-file <path> | --seed-hex <64hex>)")
		return 2
	}
	if signerName == "" && keyFile == "" && seedHex == "" {
		fmt.Fprintln(a.errOut, "missing signer: provide --signer, --key-file or --seed-hex")
		return 2
	}
	alg, err := keys.ParseAlgorithm(algName)
	if err != nil {
		fmt.Fprintf(a.errOut, "invalid --alg: %v\n", err)
		return 2
	}
	ks, err := a.keyStore()
	if err != nil {
		fmt.Fprintf(a.errOut, "keys: %v\n", err)
		return 1
	}
	signer, err := ks.LoadSigner(alg, seedHex, keyFile, signerName, role)
	if err != nil {
		fmt.Fprintf(a.errOut, "load signer: %v\n", err)
		return 1
	}
	pkg, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	signed, err := apppkg.Sign(pkg, signer, keyID, a.mode(&strict, fs))
	if err != nil {
		fmt.Fprintf(a.errOut, "sign failed: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, signed, 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	if store {
		if err := a.keep("signed-package", signed); err != nil {
			fmt.Fprintf(a.errOut, "store: %v\n", err)
			return 1
		}
	}
	a.log.Debug("signed package", "algorithm", string(alg), "key_id", keyID)
	fmt.Fprintln(a.out, cidutil.CIDv1RawSHA256(signed))
	return 0
}

func (a *app) cmdPackageVerify(args []string) int {
	fs := a.flagSet("package verify")
	var in, pubPath, outPath string
	var strict bool
	fs.StringVarP(&in, "input", "i", "", "Signed package")
	fs.StringVar(&pubPath, "public-key", "", "File holding an exported public key (alg:base64)")
	fs.StringVarP(&outPath, "output", "o", "", "Optionally write the verified unsigned package here")
	fs.BoolVar(&strict, "strict", false, "Strict verification (default from package.strict)")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" || pubPath == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc package verify -i <signed.pkg> --public-key <file>")
		return 2
	}
	pubText, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(a.errOut, "read --public-key: %v\n", err)
		return 1
	}
	alg, pub, err := keys.ParsePublicKey(string(pubText))
	if err != nil {
		fmt.Fprintf(a.errOut, "invalid public key: %v\n", err)
		return 1
	}
	signed, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	mode := a.mode(&strict, fs)
	info, pkg, err := apppkg.Verify(signed, alg, pub, mode)
	if err != nil {
		fmt.Fprintf(a.errOut, "verify failed: %v\n", err)
		return 1
	}
	if mode == compliance.Strict {
		if _, err := apppkg.Parse(pkg); err != nil {
			fmt.Fprintf(a.errOut, "verify failed: %v\n", err)
			return 1
		}
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, pkg, 0o644); err != nil {
			fmt.Fprintf(a.errOut, "write output: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(a.out, "signature OK: algorithm=%s key_id=%s mode=%s\n", info.Algorithm, hex.EncodeToString(info.KeyID), mode)
	return 0
}

// readKEK loads an AES-128 key-encryption key stored either as 16 raw
// bytes or as 32 hex characters.
func readKEK(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) == apppkg.KeySize {
		return b, nil
	}
	key, err := hex.DecodeString(string(bytes.TrimSpace(b)))
	if err != nil || len(key) != apppkg.KeySize {
		return nil, fmt.Errorf("want %d raw bytes or %d hex characters", apppkg.KeySize, 2*apppkg.KeySize)
	}
	return key, nil
}

func (a *app) cmdPackageEncrypt(args []string) int {
	fs := a.flagSet("package encrypt")
	var in, outPath, keyFile string
	var keyID uint8
	fs.StringVarP(&in, "input", "i", "", "Unsigned package")
	fs.StringVarP(&outPath, "output", "o", "", "Output package with an encrypted ELF")
	fs.StringVar(&keyFile, "key-file", "", "AES-128 key-encryption key")
	fs.Uint8Var(&keyID, "key-id", 1, "Key identifier recorded with the wrapped content key")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" || outPath == "" || keyFile == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc package encrypt -i <app.pkg> -o <enc.pkg> --key-file <aes128.key>")
		return 2
	}
	kek, err := readKEK(keyFile)
	if err != nil {
		fmt.Fprintf(a.errOut, "read --key-file: %v\n", err)
		return 1
	}
	pkg, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	enc, err := apppkg.Encrypt(pkg, kek, keyID)
	if err != nil {
		fmt.Fprintf(a.errOut, "encrypt failed: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, enc, 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	a.log.Debug("encrypted package", "key_id", keyID)
	fmt.Fprintln(a.out, cidutil.CIDv1RawSHA256(enc))
	return 0
}

func (a *app) cmdPackageDecrypt(args []string) int {
	fs := a.flagSet("package decrypt")
	var in, outPath, keyFile string
	fs.StringVarP(&in, "input", "i", "", "Unsigned package with an encrypted ELF")
	fs.StringVarP(&outPath, "output", "o", "", "Output package")
	fs.StringVar(&keyFile, "key-file", "", "AES-128 key-encryption key")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" || outPath == "" || keyFile == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc package decrypt -i <enc.pkg> -o <app.pkg> --key-file <aes128.key>")
		return 2
	}
	kek, err := readKEK(keyFile)
	if err != nil {
		fmt.Fprintf(a.errOut, "read --key-file: %v\n", err)
		return 1
	}
	enc, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	pkg, err := apppkg.Decrypt(enc, kek)
	if err != nil {
		fmt.Fprintf(a.errOut, "decrypt failed: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, pkg, 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, cidutil.CIDv1RawSHA256(pkg))
	return 0
}

func (a *app) cmdPackageInspect(args []string) int {
	fs := a.flagSet("package inspect")
	var in string
	fs.StringVarP(&in, "input", "i", "", "Signed or unsigned package")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc package inspect -i <pkg>")
		return 2
	}
	b, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	report, err := apppkg.Inspect(b)
	if err != nil {
		fmt.Fprintf(a.errOut, "inspect failed: %v\n", err)
		return 1
	}
	text, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		fmt.Fprintf(a.errOut, "render: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, string(text))
	return 0
}
