package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrEmptyPrincipal is returned when a principal name is blank.
var ErrEmptyPrincipal = errors.New("principal name is empty")

// Principal is a registered operator and its derived address.
type Principal struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry maps principal names to addresses. The first lookup of a name
// derives and persists its address; later lookups return the stored value.
type Registry interface {
	AddressOf(ctx context.Context, principal string) (string, error)
	List(ctx context.Context) ([]Principal, error)
}

func normalize(principal string) (string, error) {
	name := strings.TrimSpace(principal)
	if name == "" {
		return "", ErrEmptyPrincipal
	}
	return name, nil
}

// AddressFor returns the address a Registry would assign to principal
// without recording it. Use it where a name is only being checked.
func AddressFor(principal string) (string, error) {
	name, err := normalize(principal)
	if err != nil {
		return "", err
	}
	return DeriveAddress(name), nil
}

// MemoryRegistry is an in-process Registry. It does not survive restarts.
type MemoryRegistry struct {
	mu         sync.Mutex
	principals map[string]Principal
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{principals: make(map[string]Principal)}
}

// AddressOf implements Registry.
func (r *MemoryRegistry) AddressOf(_ context.Context, principal string) (string, error) {
	name, err := normalize(principal)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.principals[name]; ok {
		return p.Address, nil
	}
	p := Principal{Name: name, Address: DeriveAddress(name), CreatedAt: time.Now().UTC()}
	r.principals[name] = p
	return p.Address, nil
}

// List implements Registry.
func (r *MemoryRegistry) List(_ context.Context) ([]Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedPrincipals(r.principals), nil
}

// FileRegistry persists principals to a single JSON document. Writes go to a
// temporary file that is renamed over the original.
type FileRegistry struct {
	mu         sync.Mutex
	path       string
	principals map[string]Principal
}

// OpenFileRegistry loads the registry stored at path, creating an empty one
// if the file does not exist.
func OpenFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path, principals: make(map[string]Principal)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read principal registry: %w", err)
	}

	var list []Principal
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode principal registry: %w", err)
	}
	for _, p := range list {
		r.principals[p.Name] = p
	}
	return r, nil
}

// AddressOf implements Registry.
func (r *FileRegistry) AddressOf(_ context.Context, principal string) (string, error) {
	name, err := normalize(principal)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.principals[name]; ok {
		return p.Address, nil
	}

	p := Principal{Name: name, Address: DeriveAddress(name), CreatedAt: time.Now().UTC()}
	r.principals[name] = p
	if err := r.save(); err != nil {
		delete(r.principals, name)
		return "", err
	}
	return p.Address, nil
}

// List implements Registry.
func (r *FileRegistry) List(_ context.Context) ([]Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedPrincipals(r.principals), nil
}

// save writes the registry; the caller holds r.mu.
func (r *FileRegistry) save() error {
	data, err := json.MarshalIndent(sortedPrincipals(r.principals), "", "  ")
	if err != nil {
		return fmt.Errorf("encode principal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".principals-*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace principal registry: %w", err)
	}
	return nil
}

func sortedPrincipals(m map[string]Principal) []Principal {
	out := make([]Principal, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
