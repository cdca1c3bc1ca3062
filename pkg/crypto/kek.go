package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KEKSource defines where the server secret comes from.
type KEKSource string

const (
	KEKSourceFile      KEKSource = "file"
	KEKSourceEnv       KEKSource = "env"
	KEKSourceGenerated KEKSource = "generated"
)

// DefaultKEKEnvVar is read when the env source is selected without a name.
const DefaultKEKEnvVar = "CRUISE_MASTER_KEY"

// KEKOptions holds configuration for loading the server secret.
type KEKOptions struct {
	Source            KEKSource
	FilePath          string
	EnvVar            string
	GenerateIfMissing bool
}

// LoadOrGenerateKEK loads a 32-byte key according to opts. File and env values
// are base64 of 32 bytes. A generated key is persisted to FilePath (mode 0600)
// when one is given, so secure configuration values survive restarts.
func LoadOrGenerateKEK(opts KEKOptions) ([]byte, error) {
	switch opts.Source {
	case KEKSourceFile:
		if opts.FilePath == "" {
			return nil, errors.New("kek file path is required")
		}
		raw, err := os.ReadFile(opts.FilePath)
		if err != nil {
			if opts.GenerateIfMissing && errors.Is(err, os.ErrNotExist) {
				return generateAndPersistKEK(opts.FilePath)
			}
			return nil, fmt.Errorf("failed to read kek file: %w", err)
		}
		key, err := decodeKey(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("invalid kek file: %w", err)
		}
		return key, nil
	case KEKSourceEnv:
		name := opts.EnvVar
		if name == "" {
			name = DefaultKEKEnvVar
		}
		val := os.Getenv(name)
		if val == "" {
			if opts.GenerateIfMissing && opts.FilePath != "" {
				return generateAndPersistKEK(opts.FilePath)
			}
			return nil, fmt.Errorf("env var %s is empty", name)
		}
		return decodeKey(val)
	case KEKSourceGenerated, "":
		return RandomBytes(keySize)
	default:
		return nil, fmt.Errorf("unknown kek source: %s", opts.Source)
	}
}

// RandomBytes returns n cryptographically-secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func generateAndPersistKEK(path string) ([]byte, error) {
	key, err := RandomBytes(keySize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create dir for kek: %w", err)
	}
	if err := writeFileAtomic(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write kek file: %w", err)
	}
	return key, nil
}

func decodeKey(v string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key length: got %d, want %d", len(key), keySize)
	}
	return key, nil
}
