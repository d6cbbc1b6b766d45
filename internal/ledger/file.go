package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// maxLineSize bounds a single encoded block when reading the ledger file.
const maxLineSize = 1 << 20

// appendFile is the subset of *os.File used for appends.
type appendFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// FileLedger persists the chain as JSON lines, one block per line.
// The whole chain is held in memory; the file is only appended to.
type FileLedger struct {
	mu     sync.RWMutex
	chain  *chain
	f      appendFile
	size   int64 // bytes of fully written blocks
	path   string
	logger *zap.Logger
}

// OpenFileLedger loads the ledger at path, creating it if absent, and
// verifies the chain before returning. A chain that does not verify is
// refused with an error wrapping ErrChainCorruption.
func OpenFileLedger(path string, logger *zap.Logger) (*FileLedger, error) {
	c, err := loadChain(path)
	if err != nil {
		return nil, err
	}
	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("verify %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat ledger file: %w", err)
	}

	logger.Debug("ledger file loaded",
		zap.String("path", path),
		zap.Int("blocks", len(c.blocks)),
	)
	return &FileLedger{chain: c, f: f, size: info.Size(), path: path, logger: logger}, nil
}

// loadChain reads every block in path, rebuilding the path index in one
// forward scan. A missing file is an empty chain.
func loadChain(path string) (*chain, error) {
	c := newChain()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		b, err := decodeBlock(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrChainCorruption, line, err)
		}
		c.push(b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	return c, nil
}

// Close releases the underlying file.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Append implements Ledger. The block is written and synced before it
// becomes visible to readers. A failed write or sync truncates the file
// back to the previous block so the next append does not follow a
// half-recorded one.
func (l *FileLedger) Append(_ context.Context, p Payload) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := newBlock(l.chain.tail(), p)
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal block: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		return nil, l.rollback(fmt.Errorf("write block: %w", err))
	}
	if err := l.f.Sync(); err != nil {
		return nil, l.rollback(fmt.Errorf("sync ledger file: %w", err))
	}
	l.size += int64(len(line))
	l.chain.push(b)

	l.logger.Debug("ledger block appended",
		zap.Int("idx", b.Index),
		zap.String("action", string(b.Payload.Action)),
		zap.String("path", b.Payload.Path),
	)
	return b.clone(), nil
}

// rollback drops whatever part of a failed block reached the file.
func (l *FileLedger) rollback(cause error) error {
	if err := l.f.Truncate(l.size); err != nil {
		l.logger.Error("truncate ledger after failed append",
			zap.Int64("size", l.size),
			zap.Error(err),
		)
		return errors.Join(cause, fmt.Errorf("truncate ledger file: %w", err))
	}
	return cause
}

// Get implements Ledger.
func (l *FileLedger) Get(_ context.Context, index int) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.get(index)
}

// Len implements Ledger.
func (l *FileLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain.blocks), nil
}

// Latest implements Ledger.
func (l *FileLedger) Latest(_ context.Context, path string) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.latestFor(path)
}

// History implements Ledger.
func (l *FileLedger) History(_ context.Context, path string) ([]*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.history(path), nil
}

// Paths implements Ledger.
func (l *FileLedger) Paths(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.paths(), nil
}

// Verify implements Ledger. It re-reads the file rather than trusting the
// in-memory copy, so edits made to the file after open are detected.
func (l *FileLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	onDisk, err := loadChain(l.path)
	if err != nil {
		return err
	}
	if len(onDisk.blocks) != len(l.chain.blocks) {
		return fmt.Errorf("%w: file has %d blocks, expected %d",
			ErrChainCorruption, len(onDisk.blocks), len(l.chain.blocks))
	}
	if err := onDisk.verify(); err != nil {
		return err
	}
	if onDisk.root() != l.chain.root() {
		return fmt.Errorf("%w: file root differs from loaded chain", ErrChainCorruption)
	}
	return nil
}

// Root implements Ledger.
func (l *FileLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.root(), nil
}
