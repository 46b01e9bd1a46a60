package main

import (
	"fmt"
	"os"

	"trustyapp.dev/manifestc/apppkg"
	"trustyapp.dev/manifestc/cidutil"
	"trustyapp.dev/manifestc/manifest"
)

// describe appends the rule a structured manifest error violated.
func describe(err error) string {
	if rule := manifest.RuleID(err); rule != "" {
		return fmt.Sprintf("%v [%s]", err, rule)
	}
	return err.Error()
}

// compileSource reads and compiles path, logging every validation error as
// it is recorded.
func (a *app) compileSource(path string) ([]byte, error) {
	config, err := manifest.ReadSource(path)
	if err != nil {
		return nil, err
	}
	log := manifest.Log{Logger: a.log}
	packed, err := manifest.Compile(config, &log)
	if err != nil {
		if log.ErrorOccurred() {
			return nil, fmt.Errorf("%s: %d error(s)", path, log.Count())
		}
		return nil, err
	}
	return packed, nil
}

func (a *app) cmdCompile(args []string) int {
	fs := a.flagSet("compile")
	var in, outPath string
	var store bool
	fs.StringVarP(&in, "input", "i", "", "Manifest source (.json, .jsonc, .yaml, .yml)")
	fs.StringVarP(&outPath, "output", "o", "", "Output file for the packed manifest")
	fs.BoolVar(&store, "store", false, "Also put the packed manifest into the artifact store")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" || outPath == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc compile -i <manifest> -o <out.bin> [--store]")
		return 2
	}

	packed, err := a.compileSource(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "compile failed: %s\n", describe(err))
		return 1
	}
	if err := os.WriteFile(outPath, packed, 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	if store {
		if err := a.keep("manifest", packed); err != nil {
			fmt.Fprintf(a.errOut, "store: %v\n", err)
			return 1
		}
	}
	a.log.Debug("compiled manifest", "input", in, "output", outPath, "bytes", len(packed))
	fmt.Fprintln(a.out, cidutil.CIDv1RawSHA256(packed))
	return 0
}

func (a *app) cmdCheck(args []string) int {
	fs := a.flagSet("check")
	var in string
	fs.StringVarP(&in, "input", "i", "", "Manifest source")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc check -i <manifest>")
		return 2
	}
	if _, err := a.compileSource(in); err != nil {
		fmt.Fprintf(a.errOut, "check failed: %s\n", describe(err))
		return 1
	}
	fmt.Fprintf(a.out, "%s: OK\n", in)
	return 0
}

// cmdDecode prints a packed manifest as canonical JSON. Application packages
// are accepted too; their embedded manifest is decoded.
func (a *app) cmdDecode(args []string) int {
	fs := a.flagSet("decode")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.errOut, "usage: manifestc decode <out.bin|package>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}

	packed := b
	switch kind := apppkg.Classify(b); kind {
	case apppkg.KindPackage, apppkg.KindSignedPackage:
		if kind == apppkg.KindSignedPackage {
			_, b, err = apppkg.Split(b)
			if err != nil {
				fmt.Fprintf(a.errOut, "decode failed: %v\n", err)
				return 1
			}
		}
		p, err := apppkg.Parse(b)
		if err != nil {
			fmt.Fprintf(a.errOut, "decode failed: %v\n", err)
			return 1
		}
		a.log.Debug("decoding manifest embedded in package", "kind", string(kind))
		packed = p.Manifest
	}

	doc, err := manifest.Decode(packed)
	if err != nil {
		fmt.Fprintf(a.errOut, "decode failed: %s\n", describe(err))
		return 1
	}
	text, err := manifest.RenderJSON(doc.Map())
	if err != nil {
		fmt.Fprintf(a.errOut, "render: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, string(text))
	return 0
}

func (a *app) cmdVerify(args []string) int {
	fs := a.flagSet("verify")
	var in string
	fs.StringVarP(&in, "input", "i", "", "Manifest source")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if in == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc verify -i <manifest>")
		return 2
	}
	config, err := manifest.ReadSource(in)
	if err != nil {
		fmt.Fprintf(a.errOut, "verify failed: %s\n", describe(err))
		return 1
	}
	if err := manifest.CheckRoundTrip(config); err != nil {
		fmt.Fprintf(a.errOut, "verify failed: %s\n", describe(err))
		return 1
	}
	fmt.Fprintf(a.out, "%s: round trip OK\n", in)
	return 0
}

func (a *app) cmdCID(args []string) int {
	fs := a.flagSet("cid")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.errOut, "usage: manifestc cid <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, cidutil.CIDv1RawSHA256(b))
	return 0
}
