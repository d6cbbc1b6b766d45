package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls across processes sharing one database.
const advisoryLockKey = int64(1_447_201_903)

const blockColumns = `idx, prev_hash, action, path, fingerprint, address, token, ts, hash`

// PostgresLedger persists the chain to the ledger_blocks table.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger.
// It acquires a transaction-scoped advisory lock, reads the chain tail,
// computes the new block hash and inserts it in one transaction.
func (l *PostgresLedger) Append(ctx context.Context, p Payload) (*Block, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	tail, err := scanBlock(tx.QueryRow(ctx,
		"SELECT "+blockColumns+" FROM ledger_blocks ORDER BY idx DESC LIMIT 1"))
	if errors.Is(err, pgx.ErrNoRows) {
		tail = nil
	} else if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	b, err := newBlock(tail, p)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_blocks (`+blockColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.Index, b.PrevHash, string(b.Payload.Action), b.Payload.Path,
		b.Payload.Fingerprint, b.Payload.Address, b.Payload.Token,
		b.Payload.Timestamp, b.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger block: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger block appended",
		zap.Int("idx", b.Index),
		zap.String("action", string(b.Payload.Action)),
		zap.String("path", b.Payload.Path),
	)
	return b, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Block, error) {
	b, err := scanBlock(l.pool.QueryRow(ctx,
		"SELECT "+blockColumns+" FROM ledger_blocks WHERE idx = $1", index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger block %d: %w", index, err)
	}
	return b, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_blocks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger blocks: %w", err)
	}
	return n, nil
}

// Latest implements Ledger. The (path, idx) index serves as the
// path -> latest block lookup.
func (l *PostgresLedger) Latest(ctx context.Context, path string) (*Block, error) {
	b, err := scanBlock(l.pool.QueryRow(ctx,
		"SELECT "+blockColumns+" FROM ledger_blocks WHERE path = $1 ORDER BY idx DESC LIMIT 1", path))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no block for %q", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("latest ledger block: %w", err)
	}
	return b, nil
}

// History implements Ledger.
func (l *PostgresLedger) History(ctx context.Context, path string) ([]*Block, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT "+blockColumns+" FROM ledger_blocks WHERE path = $1 ORDER BY idx ASC", path)
	if err != nil {
		return nil, fmt.Errorf("query ledger history: %w", err)
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Paths implements Ledger.
func (l *PostgresLedger) Paths(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, "SELECT DISTINCT path FROM ledger_blocks ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("query ledger paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan ledger path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Verify implements Ledger. It streams all rows ordered by idx and validates
// the hash chain. O(n) in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		"SELECT "+blockColumns+" FROM ledger_blocks ORDER BY idx ASC")
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Block
	for rows.Next() {
		curr, err := scanBlock(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := curr.Payload.Validate(); err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrChainCorruption, curr.Index, err)
		}
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT hash FROM ledger_blocks ORDER BY idx DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

func scanBlock(row pgx.Row) (*Block, error) {
	b := &Block{}
	var action string
	if err := row.Scan(
		&b.Index, &b.PrevHash, &action, &b.Payload.Path,
		&b.Payload.Fingerprint, &b.Payload.Address, &b.Payload.Token,
		&b.Payload.Timestamp, &b.Hash,
	); err != nil {
		return nil, err
	}
	b.Payload.Action = Action(action)
	b.Payload.Timestamp = b.Payload.Timestamp.UTC()
	return b, nil
}
