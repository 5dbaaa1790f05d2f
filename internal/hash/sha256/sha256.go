// Package sha256 derives content-addressed archive paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher implements crawler.Hasher using SHA-256.
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

// ShardedPath fans digests out over 256 directories: "ab/abcdef....ext".
func ShardedPath(digest, ext string) string {
	if len(digest) < 2 {
		return digest + ext
	}
	return path.Join(digest[:2], digest+ext)
}
