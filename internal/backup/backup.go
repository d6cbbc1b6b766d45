// Package backup keeps the trusted byte-for-byte copy of every watched file.
//
// All writes, including writes into the watched directory, go through
// WriteAtomic: data lands in a temporary file in the destination directory
// which is then renamed over the target, so a concurrent reader never sees
// a partial file.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// TempPrefix prefixes temporary files created by WriteAtomic.
const TempPrefix = ".warden-tmp-"

var (
	// ErrBackupMissing is returned when no backup exists for a name.
	ErrBackupMissing = errors.New("backup missing")

	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("invalid file name")
)

// Store is a flat directory of backups keyed by file name.
type Store struct {
	fs  afero.Fs
	dir string
}

// New creates a Store rooted at dir on fsys, creating dir if needed.
func New(fsys afero.Fs, dir string) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Store{fs: fsys, dir: dir}, nil
}

// ValidName reports whether name can be used as a key: a single, visible
// path element.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Put replaces the backup for name with the contents of r.
func (s *Store) Put(name string, r io.Reader) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return WriteAtomic(s.fs, p, r)
}

// ReadFile returns the backup bytes for name.
func (s *Store) ReadFile(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBackupMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", name, err)
	}
	return data, nil
}

// Exists reports whether a backup for name is present.
func (s *Store) Exists(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}

// CopyTo atomically writes the backup for name to dstPath on dst.
func (s *Store) CopyTo(name string, dst afero.Fs, dstPath string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	src, err := s.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBackupMissing, name)
	}
	if err != nil {
		return fmt.Errorf("open backup %s: %w", name, err)
	}
	defer src.Close()

	return WriteAtomic(dst, dstPath, src)
}

// Remove deletes the backup for name. A missing backup is not an error.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove backup %s: %w", name, err)
	}
	return nil
}

// WriteAtomic copies r into a temporary file next to path, syncs it and
// renames it over path.
func WriteAtomic(fsys afero.Fs, path string, r io.Reader) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fsys, dir, TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer fsys.Remove(tmpName) //nolint:errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
