// Package sha256 derives stable hex digests for notification tags and object keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements offline.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Joined digests the parts joined by newlines and keeps the first n hex
// characters. n <= 0 or past the digest length returns the full digest.
func Joined(n int, parts ...string) string {
	digest := Sum([]byte(strings.Join(parts, "\n")))
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
