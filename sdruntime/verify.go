package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Known SHA256 checksums of local model files, keyed by file name. Files
// not listed are loaded without verification.
var (
	checksumMu     sync.RWMutex
	modelChecksums = map[string]string{
		"v1-5-pruned-emaonly.safetensors": "6ce0161689b3853acaa03779ec93eafe75a02f4ced659bee03f50797806fa2fa",
	}
)

// IsLocalModel reports whether id names a file rather than a hub model.
func IsLocalModel(id string) bool {
	return filepath.IsAbs(id) || strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") ||
		strings.HasSuffix(id, ".safetensors") || strings.HasSuffix(id, ".ckpt")
}

// VerifyModelFile checks that a local model exists and, when its checksum
// is registered, that it matches.
func VerifyModelFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	}

	expected, ok := ExpectedChecksum(filepath.Base(path))
	if !ok {
		return nil
	}
	actual, err := CalculateChecksum(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: %s: expected %s, got %s", ErrModelCorrupted, path, expected, actual)
	}
	return nil
}

// CalculateChecksum streams path through SHA256.
func CalculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrModelLoadFailed, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func ExpectedChecksum(name string) (string, bool) {
	checksumMu.RLock()
	defer checksumMu.RUnlock()
	sum, ok := modelChecksums[name]
	return sum, ok
}

// RegisterModelChecksum adds or replaces the checksum for a model file name.
func RegisterModelChecksum(name, sum string) {
	checksumMu.Lock()
	defer checksumMu.Unlock()
	modelChecksums[name] = strings.ToLower(sum)
}
