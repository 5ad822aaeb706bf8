package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store is a simple local filesystem keystore used by the CLI.
//
// It holds named ed25519 seeds as hex files with 0600 permissions. It is a
// convenience for local signing only and is not part of the data-type core.
type Store struct {
	Directory string
}

// DefaultDirectory returns ~/.safe-nd/keys.
func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".safe-nd", "keys"), nil
}

// OpenStore opens a keystore at directory, defaulting to DefaultDirectory.
func OpenStore(directory string) (*Store, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &Store{Directory: directory}, nil
}

func (s *Store) seedPath(name string) string {
	return filepath.Join(s.Directory, name+".key")
}

// CheckKeyName rejects names that would escape the store directory.
func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in key name", char)
	}
	return nil
}

// ParseSeedHex decodes a 64-hex-char ed25519 seed, tolerating a 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func (s *Store) saveSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
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

func (s *Store) loadSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(strings.TrimSpace(string(data)))
}

// Init stores seed under name and returns the resulting keypair.
func (s *Store) Init(name string, seed []byte, overwrite bool) (Keypair, string, error) {
	if err := CheckKeyName(name); err != nil {
		return Keypair{}, "", err
	}
	path := s.seedPath(name)
	if err := s.saveSeed(path, seed, overwrite); err != nil {
		return Keypair{}, "", err
	}
	kp, err := NewEd25519FromSeed(seed)
	if err != nil {
		return Keypair{}, "", err
	}
	return kp, path, nil
}

// Load returns the keypair stored under name.
func (s *Store) Load(name string) (Keypair, error) {
	if err := CheckKeyName(name); err != nil {
		return Keypair{}, err
	}
	seed, err := s.loadSeed(s.seedPath(name))
	if err != nil {
		return Keypair{}, err
	}
	return NewEd25519FromSeed(seed)
}

// LoadSigner resolves a signer from an inline hex seed, a seed file path, or
// a stored key name, in that precedence order.
func (s *Store) LoadSigner(seedHex, name, keyFile string) (Keypair, error) {
	if seedHex != "" {
		seed, err := ParseSeedHex(seedHex)
		if err != nil {
			return Keypair{}, err
		}
		return NewEd25519FromSeed(seed)
	}
	if keyFile != "" {
		seed, err := s.loadSeed(keyFile)
		if err != nil {
			return Keypair{}, err
		}
		return NewEd25519FromSeed(seed)
	}
	if name != "" {
		return s.Load(name)
	}
	return Keypair{}, errors.New("no signer provided")
}

// List returns the stored key names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".key") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".key"))
		}
	}
	sort.Strings(names)
	return names, nil
}
