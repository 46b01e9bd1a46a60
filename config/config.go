// Package config loads the manifestc tool configuration.
//
// Configuration is read from an explicit path (--config) or from the
// MANIFESTC_CONFIG environment variable. There is no implicit discovery: when
// neither is given the CLI runs on Default().
//
// Example:
//
//	log:
//	  level: info
//	  format: text
//	store:
//	  dir: ${HOME}/.manifestc/store
//	keys:
//	  dir: ${HOME}/.manifestc/keys
//	package:
//	  strict: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"trustyapp.dev/manifestc/storage/casconfig"
)

// EnvConfig names the environment variable Load reads.
const EnvConfig = "MANIFESTC_CONFIG"

// Config is the manifestc.yaml file.
type Config struct {
	Log     LogConfig        `yaml:"log"`
	Store   casconfig.Config `yaml:"store"`
	Keys    KeysConfig       `yaml:"keys"`
	Package PackageConfig    `yaml:"package"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// KeysConfig locates the key store.
type KeysConfig struct {
	// Dir is the key store root. Empty means ~/.manifestc/keys.
	Dir string `yaml:"dir"`
}

// PackageConfig holds defaults for the package subcommands.
type PackageConfig struct {
	// Strict selects strict verification by default.
	Strict bool `yaml:"strict"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: casconfig.Config{WritePolicy: "first"},
	}
}

// Load loads the file named by MANIFESTC_CONFIG. It fails when the variable
// is not set.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your manifestc.yaml or use --config", EnvConfig)
	}
	return LoadFile(path)
}

// LoadFile reads path over Default(), expands ${VAR} and ${VAR:-default} in
// path fields and validates the result. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: empty config path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML text over Default().
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Store.Dir = expandVars(c.Store.Dir, vars)
	for i, m := range c.Store.Mirrors {
		c.Store.Mirrors[i] = expandVars(m, vars)
	}
	c.Keys.Dir = expandVars(c.Keys.Dir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors and reports all of them.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format))
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
