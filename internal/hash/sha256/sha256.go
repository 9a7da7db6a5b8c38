// Package sha256 derives stable dataset identifiers from record content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements harvest.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint digests the trimmed parts joined by NUL so that
// ("ab", "c") and ("a", "bc") differ.
func (h *Hasher) Fingerprint(parts ...string) string {
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		trimmed[i] = strings.TrimSpace(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(trimmed, "\x00")))
	return hex.EncodeToString(sum[:])
}
