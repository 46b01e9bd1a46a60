// Command manifest_vector_gen regenerates the expected outputs of the
// manifest conformance vectors. For every source file in the vector
// directory it writes <name>.hex when the source compiles, or <name>.rules
// (one RuleID per line) when it does not.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"trustyapp.dev/manifestc/manifest"
)

func main() {
	dir := pflag.String("dir", filepath.Join("testdata", "conformance", "manifest"), "vector directory")
	pflag.Parse()

	entries, err := os.ReadDir(*dir)
	if err != nil {
		panic(err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := manifest.FormatFromPath(e.Name()); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		base := filepath.Join(*dir, strings.TrimSuffix(name, filepath.Ext(name)))
		config, err := manifest.ReadSource(filepath.Join(*dir, name))
		if err != nil {
			panic(err)
		}
		var log manifest.Log
		packed, err := manifest.Compile(config, &log)
		if err != nil {
			var rules []string
			for _, e := range log.Errors() {
				rules = append(rules, e.RuleID)
			}
			if len(rules) == 0 {
				rules = append(rules, manifest.RuleID(err))
			}
			mustWrite(base+".rules", strings.Join(rules, "\n")+"\n")
			fmt.Printf("%s: rejected (%s)\n", name, strings.Join(rules, ", "))
			continue
		}
		mustWrite(base+".hex", hex.EncodeToString(packed)+"\n")
		fmt.Printf("%s: %d bytes\n", name, len(packed))
	}
}

func mustWrite(path, content string) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		panic(err)
	}
}
