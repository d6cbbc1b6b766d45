package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// GenesisHash is the previous-hash value of block 0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrNotFound is returned when no block matches a lookup.
	ErrNotFound = errors.New("ledger block not found")

	// ErrChainCorruption is returned when stored hashes cannot be reproduced.
	ErrChainCorruption = errors.New("ledger chain corruption")

	// ErrInvalidPayload is returned when a payload fails validation.
	ErrInvalidPayload = errors.New("invalid ledger payload")
)

// Action identifies why a block was appended.
type Action string

const (
	ActionMint Action = "mint" // file uploaded, token minted
	ActionEdit Action = "edit" // authorized edit completed
)

// Payload is the fixed metadata record carried by a block.
type Payload struct {
	Action      Action    `json:"action"`
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	Token       string    `json:"token"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validate reports whether p carries every required field.
func (p Payload) Validate() error {
	switch {
	case p.Action != ActionMint && p.Action != ActionEdit:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, p.Action)
	case p.Path == "":
		return fmt.Errorf("%w: empty path", ErrInvalidPayload)
	case p.Fingerprint == "":
		return fmt.Errorf("%w: empty fingerprint", ErrInvalidPayload)
	case p.Address == "":
		return fmt.Errorf("%w: empty address", ErrInvalidPayload)
	case p.Token == "":
		return fmt.Errorf("%w: empty token", ErrInvalidPayload)
	case p.Timestamp.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidPayload)
	}
	return nil
}

// Block is a single entry in the chain.
type Block struct {
	Index    int     `json:"index"`
	PrevHash string  `json:"prev_hash"`
	Payload  Payload `json:"payload"`
	Hash     string  `json:"hash"`
}

// hashBlock computes the digest of b from its index, previous hash and payload.
func hashBlock(b *Block) (string, error) {
	payloadJSON, err := json.Marshal(b.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	h := sha256.New()
	io.WriteString(h, b.PrevHash)
	h.Write(payloadJSON)
	io.WriteString(h, strconv.Itoa(b.Index))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// newBlock builds the block that follows prev (nil for the first block).
func newBlock(prev *Block, p Payload) (*Block, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	// Microsecond precision survives every backend (PostgreSQL timestamptz).
	p.Timestamp = p.Timestamp.UTC().Truncate(time.Microsecond)

	b := &Block{Index: 0, PrevHash: GenesisHash, Payload: p}
	if prev != nil {
		b.Index = prev.Index + 1
		b.PrevHash = prev.Hash
	}
	hash, err := hashBlock(b)
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}

// checkLink verifies curr against its predecessor prev (nil for index 0).
func checkLink(prev, curr *Block) error {
	wantIdx, wantPrev := 0, GenesisHash
	if prev != nil {
		wantIdx, wantPrev = prev.Index+1, prev.Hash
	}
	if curr.Index != wantIdx {
		return fmt.Errorf("%w: expected index %d, found %d", ErrChainCorruption, wantIdx, curr.Index)
	}
	if curr.PrevHash != wantPrev {
		return fmt.Errorf("%w: hash chain broken at index %d", ErrChainCorruption, curr.Index)
	}
	hash, err := hashBlock(curr)
	if err != nil {
		return fmt.Errorf("%w: index %d: %v", ErrChainCorruption, curr.Index, err)
	}
	if curr.Hash != hash {
		return fmt.Errorf("%w: block %d has invalid hash", ErrChainCorruption, curr.Index)
	}
	return nil
}

// decodeBlock parses a single JSON-encoded block, rejecting unknown fields
// and invalid payloads.
func decodeBlock(line []byte) (*Block, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	b := &Block{}
	if err := dec.Decode(b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if err := b.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("block %d: %w", b.Index, err)
	}
	return b, nil
}

// clone returns a copy of b so callers cannot mutate stored state.
func (b *Block) clone() *Block {
	cp := *b
	return &cp
}
