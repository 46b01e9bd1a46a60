package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format names a manifest source syntax.
type Format string

const (
	// FormatJSON is JSON, extended with // and /* */ comments and trailing commas.
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a source format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", newError(KindSource, RuleSourceFormat,
			fmt.Sprintf("%s: unrecognized manifest extension, want .json, .jsonc, .yaml or .yml", path))
	}
}

// ReadSource reads a manifest configuration file.
func ReadSource(path string) (map[string]any, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(KindSource, RuleSourceRead, fmt.Sprintf("reading %s: %v", path, err), err)
	}
	config, err := ParseSource(data, format)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Message = path + ": " + e.Message
		}
		return nil, err
	}
	return config, nil
}

// ParseSource parses manifest text into the untyped mapping ParseManifest
// consumes. JSON numbers are kept exact as json.Number.
func ParseSource(data []byte, format Format) (map[string]any, error) {
	var raw any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, wrapError(KindSource, RuleSourceSyntax, "unable to parse manifest JSON: "+err.Error(), err)
		}
		if _, err := dec.Token(); err != io.EOF {
			return nil, newError(KindSource, RuleSourceSyntax, "unable to parse manifest JSON: trailing data after top-level value")
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, wrapError(KindSource, RuleSourceSyntax, "unable to parse manifest YAML: "+err.Error(), err)
		}
		normalized, err := normalizeYAML(raw)
		if err != nil {
			return nil, err
		}
		raw = normalized
	default:
		return nil, newError(KindSource, RuleSourceFormat, fmt.Sprintf("unsupported manifest format %q", format))
	}

	config, ok := raw.(map[string]any)
	if !ok {
		return nil, newError(KindSource, RuleSourceShape,
			fmt.Sprintf("manifest must be a mapping at the top level, got %s", describe(raw)))
	}
	return config, nil
}

// normalizeYAML converts generic YAML mappings to map[string]any so YAML and
// JSON sources look identical to the validators.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			n, err := normalizeYAML(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, newError(KindSource, RuleSourceShape,
					fmt.Sprintf("manifest mapping keys must be strings, got %v", k))
			}
			n, err := normalizeYAML(item)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		for i, item := range t {
			n, err := normalizeYAML(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
