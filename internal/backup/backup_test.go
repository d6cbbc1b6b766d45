package backup_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jmerrifield20/filewarden/internal/backup"
	"github.com/spf13/afero"
)

func newStore(t *testing.T) (*backup.Store, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	s, err := backup.New(fsys, "/backups")
	if err != nil {
		t.Fatal(err)
	}
	return s, fsys
}

func TestPutAndRead(t *testing.T) {
	s, _ := newStore(t)
	if err := s.Put("notes.txt", strings.NewReader("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadFile("notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadFile: got %q", got)
	}

	// Put replaces the previous content.
	_ = s.Put("notes.txt", strings.NewReader("v2"))
	got, _ = s.ReadFile("notes.txt")
	if string(got) != "v2" {
		t.Errorf("ReadFile after replace: got %q", got)
	}
}

func TestCopyTo(t *testing.T) {
	s, fsys := newStore(t)
	_ = fsys.MkdirAll("/watched", 0o755)
	_ = s.Put("a.txt", strings.NewReader("trusted"))
	_ = afero.WriteFile(fsys, "/watched/a.txt", []byte("tampered"), 0o644)

	if err := s.CopyTo("a.txt", fsys, "/watched/a.txt"); err != nil {
		t.Fatal(err)
	}
	got, _ := afero.ReadFile(fsys, "/watched/a.txt")
	if string(got) != "trusted" {
		t.Errorf("watched copy: got %q", got)
	}

	// No temp files left behind.
	entries, _ := afero.ReadDir(fsys, "/watched")
	if len(entries) != 1 {
		t.Errorf("expected only a.txt in /watched, got %d entries", len(entries))
	}
}

func TestCopyTo_missing(t *testing.T) {
	s, fsys := newStore(t)
	err := s.CopyTo("ghost.txt", fsys, "/watched/ghost.txt")
	if !errors.Is(err, backup.ErrBackupMissing) {
		t.Errorf("expected ErrBackupMissing, got %v", err)
	}
	if _, err := s.ReadFile("ghost.txt"); !errors.Is(err, backup.ErrBackupMissing) {
		t.Errorf("expected ErrBackupMissing, got %v", err)
	}
}

func TestExistsAndRemove(t *testing.T) {
	s, _ := newStore(t)
	_ = s.Put("a.txt", bytes.NewReader([]byte("x")))
	if ok, _ := s.Exists("a.txt"); !ok {
		t.Error("expected backup to exist")
	}
	if err := s.Remove("a.txt"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists("a.txt"); ok {
		t.Error("expected backup to be removed")
	}
	if err := s.Remove("a.txt"); err != nil {
		t.Errorf("removing a missing backup should succeed: %v", err)
	}
}

func TestValidName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`, ".hidden"} {
		if err := backup.ValidName(bad); !errors.Is(err, backup.ErrInvalidName) {
			t.Errorf("ValidName(%q): expected ErrInvalidName, got %v", bad, err)
		}
	}
	if err := backup.ValidName("report.pdf"); err != nil {
		t.Errorf("ValidName(report.pdf): %v", err)
	}
}
