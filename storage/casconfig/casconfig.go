// Package casconfig opens the artifact store described by the tool
// configuration.
package casconfig

import (
	"errors"
	"fmt"
	"path/filepath"

	"trustyapp.dev/manifestc/storage"
	"trustyapp.dev/manifestc/storage/localfs"
)

// Config describes the local store and its mirrors.
//
// WritePolicy values:
// - "first" (default): write only to Dir; reads fall back to Mirrors in order
// - "all": write to Dir and every mirror and require CID equality (see storage.ReplicatingCAS)
//
// Example:
//
//	store:
//	  dir: ~/.manifestc/store
//	  mirrors: [/srv/shared/manifestc]
//	  write_policy: first
type Config struct {
	Dir         string   `yaml:"dir"`
	Mirrors     []string `yaml:"mirrors,omitempty"`
	WritePolicy string   `yaml:"write_policy,omitempty"`
}

// Enabled reports whether a store is configured at all.
func (c Config) Enabled() bool { return c.Dir != "" }

func (c Config) Validate() error {
	if c.Dir == "" && len(c.Mirrors) > 0 {
		return errors.New("casconfig: mirrors require store.dir")
	}
	seen := map[string]struct{}{}
	for _, d := range append([]string{c.Dir}, c.Mirrors...) {
		if d == "" {
			if c.Dir == "" {
				continue
			}
			return errors.New("casconfig: empty mirror directory")
		}
		clean := filepath.Clean(d)
		if _, ok := seen[clean]; ok {
			return fmt.Errorf("casconfig: duplicate store directory %q", d)
		}
		seen[clean] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("casconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens the configured directories. A single directory is returned as
// is; with mirrors the result is a storage.MultiCAS or
// storage.ReplicatingCAS depending on WritePolicy.
func (c Config) Open() (storage.CAS, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled() {
		return nil, errors.New("casconfig: store.dir is not configured")
	}

	dirs := append([]string{c.Dir}, c.Mirrors...)
	named := make([]storage.NamedCAS, 0, len(dirs))
	for _, d := range dirs {
		cas, err := localfs.New(d)
		if err != nil {
			return nil, fmt.Errorf("casconfig: open %s: %w", d, err)
		}
		named = append(named, storage.NamedCAS{Name: d, CAS: cas})
	}
	if len(named) == 1 {
		return named[0].CAS, nil
	}

	switch c.WritePolicy {
	case "", "first":
		adapters := make([]storage.CAS, 0, len(named))
		for _, n := range named {
			adapters = append(adapters, n.CAS)
		}
		return storage.MultiCAS{Adapters: adapters}, nil
	case "all":
		return storage.ReplicatingCAS{Backends: named}, nil
	default:
		return nil, fmt.Errorf("casconfig: invalid write_policy %q", c.WritePolicy)
	}
}
