package ledger

import "context"

// Ledger is the interface for the append-only metadata chain.
// MemoryLedger, FileLedger and PostgresLedger implement it.
type Ledger interface {
	// Append validates p, chains a new block to the tail and returns it.
	// Appends are serialised: indices form a strict total order.
	Append(ctx context.Context, p Payload) (*Block, error)

	// Get returns the block at the given zero-based index.
	Get(ctx context.Context, index int) (*Block, error)

	// Len returns the number of blocks.
	Len(ctx context.Context) (int, error)

	// Latest returns the most recent block whose payload path equals path.
	// It returns ErrNotFound when no block concerns path.
	Latest(ctx context.Context, path string) (*Block, error)

	// History returns every block for path, oldest first.
	History(ctx context.Context, path string) ([]*Block, error)

	// Paths returns every path that has at least one block, sorted.
	Paths(ctx context.Context) ([]string, error)

	// Verify recomputes the chain from index 0. A mismatch is reported as an
	// error wrapping ErrChainCorruption.
	Verify(ctx context.Context) error

	// Root returns the hash of the tail block, or GenesisHash when empty.
	Root(ctx context.Context) (string, error)
}
