// Package bundle moves artifacts between stores as a deterministic TAR
// archive: one entry per artifact under artifacts/<cid> plus an optional
// index.json describing them.
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"trustyapp.dev/manifestc/cidutil"
	"trustyapp.dev/manifestc/storage"
)

// FormatVersion is the current index.json schema version.
const FormatVersion = 1

const (
	artifactDir = "artifacts/"
	indexName   = "index.json"
)

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export.
type ExportOptions struct {
	// Labels map names (for example "release") to CIDs. They are recorded in
	// the index and carry no authority on import.
	Labels map[string]cid.Cid
	// IncludeIndex controls whether index.json is written.
	IncludeIndex bool
	// Kind, when set, names the kind of each artifact in the index.
	Kind func([]byte) string
}

// Export writes the artifacts for ids to w. Entry order is lexicographic by
// CID and TAR headers are normalized, so equal inputs give equal bytes.
// Every artifact is re-hashed against its CID before it is written.
func Export(w io.Writer, cas storage.CAS, ids []cid.Cid, opts ExportOptions) error {
	if cas == nil {
		return fmt.Errorf("bundle: nil CAS")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	for name, id := range opts.Labels {
		if name == "" {
			return fmt.Errorf("bundle: empty label name")
		}
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		if _, ok := uniq[id.String()]; !ok {
			return fmt.Errorf("bundle: label %q points outside the bundle: %s", name, id)
		}
	}

	cidStrings := make([]string, 0, len(uniq))
	for s := range uniq {
		cidStrings = append(cidStrings, s)
	}
	sort.Strings(cidStrings)

	tw := tar.NewWriter(w)
	fail := func(err error) error {
		_ = tw.Close()
		return err
	}

	entries := make([]IndexEntry, 0, len(cidStrings))
	for _, s := range cidStrings {
		id := uniq[s]
		b, err := cas.Get(id)
		if err != nil {
			return fail(fmt.Errorf("bundle: %s: %w", s, err))
		}
		if err := cidutil.Check(b, s); err != nil {
			return fail(storage.ErrCIDMismatch)
		}
		if err := writeFile(tw, artifactDir+s, b); err != nil {
			return fail(err)
		}
		entry := IndexEntry{CID: s, Size: len(b)}
		if opts.Kind != nil {
			entry.Kind = opts.Kind(b)
		}
		entries = append(entries, entry)
	}

	if opts.IncludeIndex {
		idx := Index{
			Version:   FormatVersion,
			CIDCodec:  "raw",
			Multihash: "sha2-256",
			Artifacts: entries,
		}
		names := make([]string, 0, len(opts.Labels))
		for k := range opts.Labels {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			idx.Labels = append(idx.Labels, IndexLabel{Name: k, CID: opts.Labels[k].String()})
		}
		b, err := json.Marshal(idx)
		if err != nil {
			return fail(err)
		}
		if err := writeFile(tw, indexName, append(b, '\n')); err != nil {
			return fail(err)
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import.
type ImportOptions struct {
	// IgnoreUnknown skips entries that are neither artifacts nor the index.
	// The default is to fail.
	IgnoreUnknown bool
}

// Import reads a bundle from r into cas and returns the index if the bundle
// had one. Each artifact must hash to the CID in its entry name.
func Import(r io.Reader, cas storage.CAS, opts ImportOptions) (*Index, error) {
	if cas == nil {
		return nil, fmt.Errorf("bundle: nil CAS")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var idx *Index

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return idx, nil
		}
		if err != nil {
			return nil, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == indexName {
			var parsed Index
			if err := json.NewDecoder(tr).Decode(&parsed); err != nil {
				return nil, fmt.Errorf("bundle: index.json: %w", err)
			}
			idx = &parsed
			continue
		}

		if !strings.HasPrefix(name, artifactDir) {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		cidStr := strings.TrimPrefix(name, artifactDir)
		id, err := cid.Decode(cidStr)
		if err != nil || !id.Defined() {
			return nil, storage.ErrInvalidCID
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		if err := cidutil.Check(payload, id.String()); err != nil {
			return nil, storage.ErrCIDMismatch
		}
		if _, ok := seen[id.String()]; ok {
			return nil, fmt.Errorf("bundle: duplicate artifact entry: %s", id)
		}
		seen[id.String()] = struct{}{}

		putID, err := cas.Put(payload)
		if err != nil {
			return nil, err
		}
		if putID != id {
			return nil, storage.ErrCIDMismatch
		}
	}
}

// Index is the content of index.json.
type Index struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Artifacts []IndexEntry `json:"artifacts"`
	Labels    []IndexLabel `json:"labels,omitempty"`
}

type IndexEntry struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
	Kind string `json:"kind,omitempty"`
}

type IndexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

// cleanTarPath normalizes an entry name, returning "" for names that are
// empty or try to leave the archive root.
func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
