package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps signing seeds on the local filesystem.
//
// EXPERIMENTAL: the on-disk layout may change in minor releases.
//
// Layout under Directory:
//
//	<name>/root.key          hex-encoded root seed
//	<name>/roles/<role>.key  hex-encoded seed derived from the root
//
// A seed is not tied to an algorithm; the signer picks one when the seed is
// loaded.
type KeyStore struct {
	Directory string
}

// KeyEntry describes one named key and its derived roles.
type KeyEntry struct {
	Name  string
	Roles []string
}

// DefaultDirectory returns ~/.manifestc/keys.
func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".manifestc", "keys"), nil
}

// OpenKeyStore returns a store rooted at directory, or at DefaultDirectory
// when directory is empty. Nothing is created until a key is written.
func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootKeyPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func (ks *KeyStore) roleKeyPath(name, role string) string {
	return filepath.Join(ks.Directory, name, "roles", role+".key")
}

func checkIdent(what, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	for _, char := range s {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, what)
	}
	return nil
}

// CheckKeyName rejects names that are empty or not [A-Za-z0-9_-]+.
func CheckKeyName(name string) error { return checkIdent("key name", name) }

// CheckRole applies the CheckKeyName rules to a role.
func CheckRole(role string) error { return checkIdent("role", role) }

// ParseSeedHex decodes a hex seed, with or without a 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

func saveSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

// LoadSeedFile reads a hex seed file.
func LoadSeedFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

// InitRootKey stores seed as the root key of name and returns the public key
// string for alg along with the file written.
func (ks *KeyStore) InitRootKey(name string, seed []byte, alg Algorithm, overwrite bool) (publicKey, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	publicKey, err = PublicKeyFromSeed(alg, seed)
	if err != nil {
		return "", "", err
	}
	path = ks.rootKeyPath(name)
	if err := saveSeed(path, seed, overwrite); err != nil {
		return "", "", err
	}
	return publicKey, path, nil
}

// DeriveRoleKey derives and stores the role seed for name.
func (ks *KeyStore) DeriveRoleKey(name, role string, alg Algorithm, overwrite bool) (publicKey, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	rootSeed, err := LoadSeedFile(ks.rootKeyPath(name))
	if err != nil {
		return "", "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return "", "", err
	}
	publicKey, err = PublicKeyFromSeed(alg, roleSeed)
	if err != nil {
		return "", "", err
	}
	path = ks.roleKeyPath(name, role)
	if err := saveSeed(path, roleSeed, overwrite); err != nil {
		return "", "", err
	}
	return publicKey, path, nil
}

// Seed loads the root seed of name, or the seed of one of its roles.
func (ks *KeyStore) Seed(name, role string) ([]byte, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	if role == "" {
		return LoadSeedFile(ks.rootKeyPath(name))
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	return LoadSeedFile(ks.roleKeyPath(name, role))
}

// ExportPublicKey returns the public key string of a stored seed.
func (ks *KeyStore) ExportPublicKey(name, role string, alg Algorithm) (string, error) {
	seed, err := ks.Seed(name, role)
	if err != nil {
		return "", err
	}
	return PublicKeyFromSeed(alg, seed)
}

// LoadSigner resolves a signer from, in order of precedence, an explicit hex
// seed, a seed file, or a stored key name (with optional role).
func (ks *KeyStore) LoadSigner(alg Algorithm, seedHex, keyFile, name, role string) (Signer, error) {
	var seed []byte
	var err error
	switch {
	case seedHex != "":
		seed, err = ParseSeedHex(seedHex)
	case keyFile != "":
		seed, err = LoadSeedFile(keyFile)
	case name != "":
		seed, err = ks.Seed(name, role)
	default:
		return nil, errors.New("no signer provided")
	}
	if err != nil {
		return nil, err
	}
	return NewSigner(alg, seed)
}

// ListKeys returns every stored key name with its roles, sorted.
func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var result []KeyEntry
	for _, name := range names {
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, name, "roles"))
		var roles []string
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if roleEntry.IsDir() {
					continue
				}
				if role, ok := strings.CutSuffix(roleEntry.Name(), ".key"); ok {
					roles = append(roles, role)
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Name: name, Roles: roles})
	}
	return result, nil
}
