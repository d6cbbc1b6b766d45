package merkle_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/filewarden/internal/merkle"
)

func hexSum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestRoot_singleChunkIsLeafHash(t *testing.T) {
	got, err := merkle.Root([]byte("hello"), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if want := hexSum("hello"); got != want {
		t.Errorf("Root: got %q, want %q", got, want)
	}
}

func TestRoot_oddChunkCountDuplicatesLast(t *testing.T) {
	// 10 bytes, chunk size 4 -> "abcd", "efgh", "ij"; the third leaf pairs with itself.
	data := []byte("abcdefghij")
	l1, l2, l3 := hexSum("abcd"), hexSum("efgh"), hexSum("ij")
	want := hexSum(hexSum(l1+l2) + hexSum(l3+l3))

	got, err := merkle.Root(data, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Root: got %q, want %q", got, want)
	}
}

func TestRoot_twoChunks(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"partial second chunk", 1025},
		{"two full chunks", 2048},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.size)
			for i := range data {
				data[i] = byte(i % 251)
			}
			want := hexSum(hexSum(string(data[:1024])) + hexSum(string(data[1024:])))
			got, err := merkle.Root(data, merkle.DefaultChunkSize)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("Root: got %q, want %q", got, want)
			}
		})
	}
}

func TestRoot_deterministic(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	a, _ := merkle.Root(data, 1024)
	b, _ := merkle.Root(data, 1024)
	if a != b {
		t.Errorf("Root not deterministic: %q vs %q", a, b)
	}
}

func TestRoot_bitFlipsChangeRoot(t *testing.T) {
	// Sizes straddle chunk boundaries so that the chunk count parity changes.
	for _, size := range []int{1, 1023, 1024, 1025, 2048, 3072, 3073} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 7)
		}
		base, err := merkle.Root(data, 1024)
		if err != nil {
			t.Fatal(err)
		}
		for _, pos := range []int{0, size / 2, size - 1, min(1023, size-1), min(1024, size-1)} {
			flipped := append([]byte(nil), data...)
			flipped[pos] ^= 0x01
			got, _ := merkle.Root(flipped, 1024)
			if got == base {
				t.Errorf("size %d: flipping byte %d did not change root", size, pos)
			}
		}
	}
}

func TestRoot_extraChunkChangesRoot(t *testing.T) {
	three := []byte("aaaabbbbcccc")
	four := []byte("aaaabbbbccccdddd")
	r3, _ := merkle.Root(three, 4)
	r4, _ := merkle.Root(four, 4)
	if r3 == r4 {
		t.Error("roots for different content must differ")
	}
}

func TestRoot_empty(t *testing.T) {
	_, err := merkle.Root(nil, 1024)
	if !errors.Is(err, merkle.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func TestRoot_nonPositiveChunkSizeUsesDefault(t *testing.T) {
	data := make([]byte, 1500)
	a, _ := merkle.Root(data, 0)
	b, _ := merkle.Root(data, merkle.DefaultChunkSize)
	if a != b {
		t.Errorf("chunk size 0 should fall back to default")
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := merkle.NewHasher(0)
	got, err := h.File(p)
	if err != nil {
		t.Fatal(err)
	}
	if want := hexSum("hello"); got != want {
		t.Errorf("File: got %q, want %q", got, want)
	}
}

func TestFile_missing(t *testing.T) {
	_, err := merkle.File(filepath.Join(t.TempDir(), "nope"), 1024)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestFile_empty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := merkle.File(p, 1024)
	if !errors.Is(err, merkle.ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}
