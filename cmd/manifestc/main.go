// Command manifestc compiles application manifests into their packed binary
// form, bundles them with an ELF image into application packages and signs
// and verifies those packages.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"trustyapp.dev/manifestc/compliance"
	"trustyapp.dev/manifestc/config"
	"trustyapp.dev/manifestc/keys"
	"trustyapp.dev/manifestc/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	keysDir    string
	storeDir   string
}

// app carries what every subcommand needs.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	out    io.Writer
	errOut io.Writer
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("manifestc", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.SetInterspersed(false)
	fs.Usage = func() { printUsage(errOut) }

	var g globalFlags
	fs.StringVar(&g.configPath, "config", "", "Configuration file (default: $"+config.EnvConfig+")")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&g.keysDir, "keys-dir", "", "Key store directory (default ~/.manifestc/keys)")
	fs.StringVar(&g.storeDir, "store-dir", "", "Artifact store directory")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(errOut)
		return 2
	}
	switch rest[0] {
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	}

	a, err := newApp(g, out, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}

	switch rest[0] {
	case "compile":
		return a.cmdCompile(rest[1:])
	case "check":
		return a.cmdCheck(rest[1:])
	case "decode":
		return a.cmdDecode(rest[1:])
	case "verify":
		return a.cmdVerify(rest[1:])
	case "cid":
		return a.cmdCID(rest[1:])
	case "package":
		return a.cmdPackage(rest[1:])
	case "key":
		return a.cmdKey(rest[1:])
	case "store":
		return a.cmdStore(rest[1:])
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", rest[0])
		printUsage(errOut)
		return 2
	}
}

func newApp(g globalFlags, out, errOut io.Writer) (*app, error) {
	var cfg *config.Config
	var err error
	switch {
	case g.configPath != "":
		cfg, err = config.LoadFile(g.configPath)
	case os.Getenv(config.EnvConfig) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if g.keysDir != "" {
		cfg.Keys.Dir = g.keysDir
	}
	if g.storeDir != "" {
		cfg.Store.Dir = g.storeDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		log:    newLogger(cfg.Log.Level, cfg.Log.Format, errOut),
		out:    out,
		errOut: errOut,
	}, nil
}

func (a *app) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// parse parses args into fs and maps the result to an exit code; ok is
// false when the caller should return code immediately.
func parse(fs *pflag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func (a *app) keyStore() (*keys.KeyStore, error) {
	return keys.OpenKeyStore(a.cfg.Keys.Dir)
}

func (a *app) store() (storage.CAS, error) {
	return a.cfg.Store.Open()
}

func (a *app) mode(strictFlag *bool, fs *pflag.FlagSet) compliance.ComplianceMode {
	if fs.Changed("strict") {
		return compliance.FromStrict(*strictFlag)
	}
	return compliance.FromStrict(a.cfg.Package.Strict)
}

// keep puts b into the artifact store and logs the CID.
func (a *app) keep(kind string, b []byte) error {
	cas, err := a.store()
	if err != nil {
		return err
	}
	id, err := cas.Put(b)
	if err != nil {
		return err
	}
	a.log.Info("stored artifact", "kind", kind, "cid", id.String())
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "manifestc: application manifest compiler and package tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  manifestc [--config <file>] [--log-level <l>] [--log-format text|json] [--keys-dir <dir>] [--store-dir <dir>] <command> ...")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Manifests:")
	fmt.Fprintln(w, "  manifestc compile -i <manifest.json|.jsonc|.yaml> -o <out.bin> [--store]")
	fmt.Fprintln(w, "  manifestc check -i <manifest>")
	fmt.Fprintln(w, "  manifestc decode <out.bin|package>")
	fmt.Fprintln(w, "  manifestc verify -i <manifest>")
	fmt.Fprintln(w, "  manifestc cid <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Packages:")
	fmt.Fprintln(w, "  manifestc package build --elf <app.elf> --manifest <out.bin> -o <app.pkg> [--store]")
	fmt.Fprintln(w, "  manifestc package sign -i <app.pkg> -o <signed.pkg> (--signer <name> [--role <r>] | --key-file <path> | --seed-hex <64hex>) [--alg ecdsa-p256|ed25519|dilithium3] [--key-id N] [--strict]")
	fmt.Fprintln(w, "  manifestc package verify -i <signed.pkg> --public-key <file> [-o <app.pkg>] [--strict]")
	fmt.Fprintln(w, "  manifestc package encrypt -i <app.pkg> -o <enc.pkg> --key-file <aes128.key> [--key-id N]")
	fmt.Fprintln(w, "  manifestc package decrypt -i <enc.pkg> -o <app.pkg> --key-file <aes128.key>")
	fmt.Fprintln(w, "  manifestc package inspect -i <pkg>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Keys:")
	fmt.Fprintln(w, "  manifestc key init --name <name> [--seed-hex <64hex>] [--alg <alg>] [--force]")
	fmt.Fprintln(w, "  manifestc key derive --from <name> --role <role> [--alg <alg>] [--force]")
	fmt.Fprintln(w, "  manifestc key export --name <name> [--role <role>] [--alg <alg>]")
	fmt.Fprintln(w, "  manifestc key list")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Store:")
	fmt.Fprintln(w, "  manifestc store put <file>")
	fmt.Fprintln(w, "  manifestc store get <cid> -o <file>")
	fmt.Fprintln(w, "  manifestc store list")
	fmt.Fprintln(w, "  manifestc store export -o <bundle.tar> [--label name=<cid> ...] <cid> [<cid> ...]")
	fmt.Fprintln(w, "  manifestc store import [--ignore-unknown] <bundle.tar>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - compile reports every validation error, not just the first")
	fmt.Fprintln(w, "  - decode prints canonical JSON (sorted keys, 4-space indent)")
	fmt.Fprintln(w, "  - --store and the store commands need store.dir (config) or --store-dir")
	fmt.Fprintln(w, "  - key seeds are 32 bytes (64 hex chars); the algorithm is chosen when a seed is used")
}
