package main

import (
	"crypto/rand"
	"fmt"
	"io"

	"trustyapp.dev/manifestc/keys"
)

func (a *app) cmdKey(args []string) int {
	if len(args) == 0 {
		printKeyUsage(a.errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return a.cmdKeyInit(args[1:])
	case "derive":
		return a.cmdKeyDerive(args[1:])
	case "list":
		return a.cmdKeyList(args[1:])
	case "export":
		return a.cmdKeyExport(args[1:])
	case "help", "-h", "--help":
		printKeyUsage(a.out)
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(a.errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "manifestc key: local signing key management")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  manifestc key init --name <name> [--seed-hex <64hex>] [--alg <alg>] [--force]")
	fmt.Fprintln(w, "  manifestc key derive --from <name> --role <role> [--alg <alg>] [--force]")
	fmt.Fprintln(w, "  manifestc key export --name <name> [--role <role>] [--alg <alg>]")
	fmt.Fprintln(w, "  manifestc key list")
}

func (a *app) cmdKeyInit(args []string) int {
	fs := a.flagSet("key init")
	var name, seedHex, algName string
	var force bool
	fs.StringVar(&name, "name", "", "Key name (directory under the key store)")
	fs.StringVar(&seedHex, "seed-hex", "", "Optional seed as 64 hex chars (for reproducible builds)")
	fs.StringVar(&algName, "alg", string(keys.ECDSAP256), "Algorithm of the printed public key")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if name == "" {
		fmt.Fprintln(a.errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(a.errOut, "invalid --name: %v\n", err)
		return 2
	}
	alg, err := keys.ParseAlgorithm(algName)
	if err != nil {
		fmt.Fprintf(a.errOut, "invalid --alg: %v\n", err)
		return 2
	}

	var seed []byte
	if seedHex != "" {
		seed, err = keys.ParseSeedHex(seedHex)
		if err != nil {
			fmt.Fprintf(a.errOut, "invalid --seed-hex: %v\n", err)
			return 2
		}
	} else {
		seed = make([]byte, keys.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintf(a.errOut, "rand: %v\n", err)
			return 1
		}
	}

	ks, err := a.keyStore()
	if err != nil {
		fmt.Fprintf(a.errOut, "keys: %v\n", err)
		return 1
	}
	pub, path, err := ks.InitRootKey(name, seed, alg, force)
	if err != nil {
		fmt.Fprintf(a.errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.out, "Created root key: %s\n", pub)
	fmt.Fprintf(a.out, "Stored at: %s\n", path)
	return 0
}

func (a *app) cmdKeyDerive(args []string) int {
	fs := a.flagSet("key derive")
	var from, role, algName string
	var force bool
	fs.StringVar(&from, "from", "", "Root key name")
	fs.StringVar(&role, "role", "", "Role identifier (e.g. release, staging)")
	fs.StringVar(&algName, "alg", string(keys.ECDSAP256), "Algorithm of the printed public key")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if from == "" || role == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc key derive --from <name> --role <role>")
		return 2
	}
	if err := keys.CheckKeyName(from); err != nil {
		fmt.Fprintf(a.errOut, "invalid --from: %v\n", err)
		return 2
	}
	if err := keys.CheckRole(role); err != nil {
		fmt.Fprintf(a.errOut, "invalid --role: %v\n", err)
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
	pub, path, err := ks.DeriveRoleKey(from, role, alg, force)
	if err != nil {
		fmt.Fprintf(a.errOut, "derive role key: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.out, "Created role key: %s\n", pub)
	fmt.Fprintf(a.out, "Stored at: %s\n", path)
	return 0
}

func (a *app) cmdKeyExport(args []string) int {
	fs := a.flagSet("key export")
	var name, role, algName string
	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&role, "role", "", "Optional role (exports the derived role key)")
	fs.StringVar(&algName, "alg", string(keys.ECDSAP256), "Algorithm: ecdsa-p256, ed25519 or dilithium3")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if name == "" {
		fmt.Fprintln(a.errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(a.errOut, "invalid --name: %v\n", err)
		return 2
	}
	if role != "" {
		if err := keys.CheckRole(role); err != nil {
			fmt.Fprintf(a.errOut, "invalid --role: %v\n", err)
			return 2
		}
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
	pub, err := ks.ExportPublicKey(name, role, alg)
	if err != nil {
		fmt.Fprintf(a.errOut, "export key: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, pub)
	return 0
}

func (a *app) cmdKeyList(args []string) int {
	fs := a.flagSet("key list")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	ks, err := a.keyStore()
	if err != nil {
		fmt.Fprintf(a.errOut, "keys: %v\n", err)
		return 1
	}
	entries, err := ks.ListKeys()
	if err != nil {
		fmt.Fprintf(a.errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintln(a.out, e.Name)
		for _, r := range e.Roles {
			fmt.Fprintf(a.out, "  - %s\n", r)
		}
	}
	return 0
}
