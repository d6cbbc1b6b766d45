package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// chain is the in-memory block list plus its path index. It is not
// safe for concurrent use; owners guard it with their own lock.
type chain struct {
	blocks []*Block
	latest map[string]int   // path -> index of most recent block
	byPath map[string][]int // path -> every block index, ascending
}

func newChain() *chain {
	return &chain{
		latest: make(map[string]int),
		byPath: make(map[string][]int),
	}
}

func (c *chain) tail() *Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// push appends b and updates the path index.
func (c *chain) push(b *Block) {
	c.blocks = append(c.blocks, b)
	c.latest[b.Payload.Path] = b.Index
	c.byPath[b.Payload.Path] = append(c.byPath[b.Payload.Path], b.Index)
}

func (c *chain) get(index int) (*Block, error) {
	if index < 0 || index >= len(c.blocks) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNotFound, index)
	}
	return c.blocks[index].clone(), nil
}

func (c *chain) latestFor(path string) (*Block, error) {
	idx, ok := c.latest[path]
	if !ok {
		return nil, fmt.Errorf("%w: no block for %q", ErrNotFound, path)
	}
	return c.blocks[idx].clone(), nil
}

func (c *chain) history(path string) []*Block {
	idxs := c.byPath[path]
	out := make([]*Block, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.blocks[i].clone())
	}
	return out
}

func (c *chain) paths() []string {
	out := make([]string, 0, len(c.latest))
	for p := range c.latest {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (c *chain) verify() error {
	var prev *Block
	for _, curr := range c.blocks {
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

func (c *chain) root() string {
	if t := c.tail(); t != nil {
		return t.Hash
	}
	return GenesisHash
}

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It does not survive restarts.
type MemoryLedger struct {
	mu    sync.RWMutex
	chain *chain
}

// New creates an empty MemoryLedger.
func New() *MemoryLedger {
	return &MemoryLedger{chain: newChain()}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, p Payload) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := newBlock(l.chain.tail(), p)
	if err != nil {
		return nil, err
	}
	l.chain.push(b)
	return b.clone(), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.get(index)
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain.blocks), nil
}

// Latest implements Ledger.
func (l *MemoryLedger) Latest(_ context.Context, path string) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.latestFor(path)
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, path string) ([]*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.history(path), nil
}

// Paths implements Ledger.
func (l *MemoryLedger) Paths(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.paths(), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.verify()
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.root(), nil
}
