// Package ledger implements the append-only, hash-linked metadata chain that
// records which principal owns each watched file and its trusted fingerprint.
//
// Every block stores the hash of its predecessor; block 0 chains from
// GenesisHash (64 hex zeros). A block's hash is
//
//	SHA-256(prev_hash ∥ canonical_json(payload) ∥ decimal(index))
//
// so recomputing hashes forward from index 0 detects any edit, reorder or
// truncation in the middle of the chain. Verify performs that walk.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and ephemeral deployments.
//   - FileLedger: JSON-lines file, verified on open, fsync on append.
//   - PostgresLedger: durable, shared via a PostgreSQL table.
package ledger
