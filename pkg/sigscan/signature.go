package sigscan

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var embeddedDatabase []byte

// Signature is one byte-pattern marker the engine looks for.
type Signature struct {
	Name        string // short identifier, e.g. "gzip"
	Description string // human-readable, binwalk-style
	Extension   string // extension for carved components
	magic       []byte
}

// Magic returns the raw byte pattern this signature matches.
func (s Signature) Magic() []byte {
	out := make([]byte, len(s.magic))
	copy(out, s.magic)
	return out
}

// yamlSignature is the on-disk representation. Magic is hex-encoded.
type yamlSignature struct {
	Name        string `yaml:"name"`
	Magic       string `yaml:"magic"`
	Description string `yaml:"description"`
	Extension   string `yaml:"extension"`
}

type yamlDatabase struct {
	Signatures []yamlSignature `yaml:"signatures"`
}

// LoadDatabase reads a signature database from a YAML file.
func LoadDatabase(path string) ([]Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signature database: %w", err)
	}
	return parseDatabase(data)
}

func parseDatabase(data []byte) ([]Signature, error) {
	var db yamlDatabase
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parsing signature database: %w", err)
	}
	if len(db.Signatures) == 0 {
		return nil, fmt.Errorf("signature database is empty")
	}

	sigs := make([]Signature, 0, len(db.Signatures))
	for i, ys := range db.Signatures {
		if ys.Name == "" {
			return nil, fmt.Errorf("signature %d: missing name", i)
		}
		magic, err := hex.DecodeString(ys.Magic)
		if err != nil {
			return nil, fmt.Errorf("signature %q: invalid magic: %w", ys.Name, err)
		}
		// Patterns shorter than 3 bytes match near-everything in a
		// binary blob; reject them at load time.
		if len(magic) < 3 {
			return nil, fmt.Errorf("signature %q: magic too short (%d bytes)", ys.Name, len(magic))
		}
		sigs = append(sigs, Signature{
			Name:        ys.Name,
			Description: ys.Description,
			Extension:   ys.Extension,
			magic:       magic,
		})
	}
	return sigs, nil
}

// DefaultDatabasePath returns the host location the engine expects its
// signature database at, conventionally populated by a system install.
func DefaultDatabasePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "autobinwalk", "signatures.yaml"), nil
}

// WriteDefaultDatabase materializes the embedded signature set at path,
// creating parent directories. Used as a stand-in when the host database
// is missing.
func WriteDefaultDatabase(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	if err := os.WriteFile(path, embeddedDatabase, 0o644); err != nil {
		return fmt.Errorf("writing signature database: %w", err)
	}
	return nil
}
