package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoTicket is returned by TicketStore.Load when no ticket is saved for a file.
var ErrNoTicket = errors.New("no saved session ticket")

// TicketStore keeps session tickets on disk between CLI invocations, one
// file per watched name. It is written by 'warden modify' and read back by
// 'warden done' and 'warden cancel'.
type TicketStore struct {
	dir string
}

// NewTicketStore returns a store rooted at dir.
func NewTicketStore(dir string) *TicketStore {
	return &TicketStore{dir: dir}
}

// DefaultTicketDir returns ~/.warden/sessions.
func DefaultTicketDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".warden", "sessions"), nil
}

func (s *TicketStore) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Save writes the ticket for name with owner-only permissions.
func (s *TicketStore) Save(name, ticket string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create ticket dir: %w", err)
	}
	if err := os.WriteFile(s.path(name), []byte(ticket+"\n"), 0o600); err != nil {
		return fmt.Errorf("write ticket: %w", err)
	}
	return nil
}

// Load reads the ticket for name.
func (s *TicketStore) Load(name string) (string, error) {
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w for %s", ErrNoTicket, name)
	}
	if err != nil {
		return "", fmt.Errorf("read ticket: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Remove deletes the ticket for name. A missing ticket is not an error.
func (s *TicketStore) Remove(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
