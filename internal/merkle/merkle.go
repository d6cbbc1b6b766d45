// Package merkle computes content fingerprints for watched files.
//
// A fingerprint is the root of a binary Merkle tree built over fixed-size
// chunks of the file. Leaves are the hex-encoded SHA-256 of each chunk; every
// parent is the SHA-256 of its two children's hex digests concatenated. When a
// level has an odd number of nodes the last node is paired with itself.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// DefaultChunkSize is the leaf size used when no explicit size is configured.
const DefaultChunkSize = 1024

// ErrEmptyContent is returned for empty input. Empty content has no
// fingerprint; callers must not treat it as a valid digest.
var ErrEmptyContent = errors.New("empty or unreadable content")

// Root returns the hex-encoded Merkle root of data split into chunkSize leaves.
// A non-positive chunkSize selects DefaultChunkSize.
func Root(data []byte, chunkSize int) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	level := make([]string, 0, (len(data)+chunkSize-1)/chunkSize)
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		level = append(level, sum([]byte(nil), data[off:end]))
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, sum([]byte(level[i]), []byte(level[i+1])))
		}
		level = next
	}
	return level[0], nil
}

// File reads path and returns its Merkle root. A missing path yields an error
// wrapping fs.ErrNotExist; an empty file yields ErrEmptyContent.
func File(path string, chunkSize int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	root, err := Root(data, chunkSize)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return root, nil
}

// sum hashes a ∥ b and returns the hex digest.
func sum(a, b []byte) string {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Hasher fingerprints content with a fixed chunk size.
type Hasher struct {
	chunkSize int
}

// NewHasher returns a Hasher using chunkSize leaves (DefaultChunkSize if <= 0).
func NewHasher(chunkSize int) Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return Hasher{chunkSize: chunkSize}
}

// ChunkSize reports the leaf size.
func (h Hasher) ChunkSize() int { return h.chunkSize }

// Sum implements Root for this Hasher's chunk size.
func (h Hasher) Sum(data []byte) (string, error) { return Root(data, h.chunkSize) }

// File implements File for this Hasher's chunk size.
func (h Hasher) File(path string) (string, error) { return File(path, h.chunkSize) }
