package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ipfs/go-cid"

	"trustyapp.dev/manifestc/apppkg"
	"trustyapp.dev/manifestc/storage"
	"trustyapp.dev/manifestc/storage/bundle"
)

func (a *app) cmdStore(args []string) int {
	if len(args) == 0 {
		printStoreUsage(a.errOut)
		return 2
	}
	switch args[0] {
	case "put":
		return a.cmdStorePut(args[1:])
	case "get":
		return a.cmdStoreGet(args[1:])
	case "list":
		return a.cmdStoreList(args[1:])
	case "export":
		return a.cmdStoreExport(args[1:])
	case "import":
		return a.cmdStoreImport(args[1:])
	case "help", "-h", "--help":
		printStoreUsage(a.out)
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown store subcommand: %s\n\n", args[0])
		printStoreUsage(a.errOut)
		return 2
	}
}

func printStoreUsage(w io.Writer) {
	fmt.Fprintln(w, "manifestc store: content-addressed artifact store")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  manifestc store put <file>")
	fmt.Fprintln(w, "  manifestc store get <cid> -o <file>")
	fmt.Fprintln(w, "  manifestc store list")
	fmt.Fprintln(w, "  manifestc store export -o <bundle.tar> [--label name=<cid> ...] <cid> [<cid> ...]")
	fmt.Fprintln(w, "  manifestc store import [--ignore-unknown] <bundle.tar>")
}

func (a *app) openStore() (storage.CAS, bool) {
	cas, err := a.store()
	if err != nil {
		fmt.Fprintf(a.errOut, "store: %v\n", err)
		return nil, false
	}
	return cas, true
}

func (a *app) cmdStorePut(args []string) int {
	fs := a.flagSet("store put")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.errOut, "usage: manifestc store put <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	cas, ok := a.openStore()
	if !ok {
		return 1
	}
	id, err := cas.Put(b)
	if err != nil {
		fmt.Fprintf(a.errOut, "store put: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, id.String())
	return 0
}

func (a *app) cmdStoreGet(args []string) int {
	fs := a.flagSet("store get")
	var outPath string
	fs.StringVarP(&outPath, "output", "o", "", "Output file")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 || outPath == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc store get <cid> -o <file>")
		return 2
	}
	id, err := cid.Decode(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(a.errOut, "invalid cid: %v\n", err)
		return 2
	}
	cas, ok := a.openStore()
	if !ok {
		return 1
	}
	b, err := cas.Get(id)
	if err != nil {
		fmt.Fprintf(a.errOut, "store get: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, b, 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	return 0
}

// cmdStoreList prints one line per artifact: CID, kind and size.
func (a *app) cmdStoreList(args []string) int {
	fs := a.flagSet("store list")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	cas, ok := a.openStore()
	if !ok {
		return 1
	}
	ids, err := storage.List(cas)
	if err != nil {
		fmt.Fprintf(a.errOut, "store list: %v\n", err)
		return 1
	}
	for _, id := range ids {
		b, err := cas.Get(id)
		if err != nil {
			fmt.Fprintf(a.errOut, "store list: %s: %v\n", id, err)
			return 1
		}
		fmt.Fprintf(a.out, "%s\t%s\t%d\n", id, apppkg.Classify(b), len(b))
	}
	return 0
}

func (a *app) cmdStoreExport(args []string) int {
	fs := a.flagSet("store export")
	var outPath string
	var labels map[string]string
	fs.StringVarP(&outPath, "output", "o", "", "Output bundle file")
	fs.StringToStringVar(&labels, "label", nil, "Label an exported artifact (name=cid, repeatable)")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() == 0 || outPath == "" {
		fmt.Fprintln(a.errOut, "usage: manifestc store export -o <bundle.tar> [--label name=<cid> ...] <cid> [<cid> ...]")
		return 2
	}
	ids := make([]cid.Cid, 0, fs.NArg())
	for _, s := range fs.Args() {
		id, err := cid.Decode(s)
		if err != nil {
			fmt.Fprintf(a.errOut, "invalid cid %q: %v\n", s, err)
			return 2
		}
		ids = append(ids, id)
	}
	opts := bundle.ExportOptions{
		IncludeIndex: true,
		Labels:       map[string]cid.Cid{},
		Kind:         func(b []byte) string { return string(apppkg.Classify(b)) },
	}
	for name, s := range labels {
		id, err := cid.Decode(s)
		if err != nil {
			fmt.Fprintf(a.errOut, "invalid --label %s: %v\n", name, err)
			return 2
		}
		opts.Labels[name] = id
	}

	cas, ok := a.openStore()
	if !ok {
		return 1
	}
	var buf bytes.Buffer
	if err := bundle.Export(&buf, cas, ids, opts); err != nil {
		fmt.Fprintf(a.errOut, "store export: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(a.errOut, "write output: %v\n", err)
		return 1
	}
	a.log.Info("exported bundle", "artifacts", len(ids), "output", outPath)
	return 0
}

func (a *app) cmdStoreImport(args []string) int {
	fs := a.flagSet("store import")
	var ignoreUnknown bool
	fs.BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip entries that are not artifacts")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.errOut, "usage: manifestc store import [--ignore-unknown] <bundle.tar>")
		return 2
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(a.errOut, "read input: %v\n", err)
		return 1
	}
	defer f.Close()

	cas, ok := a.openStore()
	if !ok {
		return 1
	}
	idx, err := bundle.Import(f, cas, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
	if err != nil {
		fmt.Fprintf(a.errOut, "store import: %v\n", err)
		return 1
	}
	if idx == nil {
		return 0
	}
	for _, e := range idx.Artifacts {
		fmt.Fprintf(a.out, "%s\t%s\t%d\n", e.CID, e.Kind, e.Size)
	}
	sort.Slice(idx.Labels, func(i, j int) bool { return idx.Labels[i].Name < idx.Labels[j].Name })
	for _, l := range idx.Labels {
		fmt.Fprintf(a.out, "%s=%s\n", l.Name, l.CID)
	}
	return 0
}
