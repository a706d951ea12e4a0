// Package audit provides an append-only hash chain for tamper-evident
// records. Every record commits to its predecessor, so rewriting any part
// of history invalidates every hash after it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Genesis is the previous-hash value of the first record in a chain.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is a single link in the chain.
type Record struct {
	Seq          uint64 `json:"seq"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Chain issues hash-linked records. Safe for concurrent use.
type Chain struct {
	mu       sync.Mutex
	lastHash string
	nextSeq  uint64
}

// NewChain starts an empty chain anchored at Genesis.
func NewChain() *Chain {
	return &Chain{lastHash: Genesis, nextSeq: 1}
}

// Resume continues a chain whose tail is persisted elsewhere, typically
// after reloading the newest journal row on startup. An empty lastHash
// starts from Genesis.
func Resume(lastHash string, lastSeq uint64) *Chain {
	if lastHash == "" {
		return NewChain()
	}
	return &Chain{lastHash: lastHash, nextSeq: lastSeq + 1}
}

// Append links payload onto the chain and returns the new record.
func (c *Chain) Append(payload string) Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := Record{
		Seq:          c.nextSeq,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.lastHash,
		Payload:      payload,
	}
	rec.Hash = recordHash(rec)

	c.lastHash = rec.Hash
	c.nextSeq++
	return rec
}

// Verify reports whether records form an unbroken chain. The first record
// anchors the window: its previous hash is taken as given, so a mid-chain
// slice can be checked without replaying from genesis.
func Verify(records []Record) bool {
	for i, rec := range records {
		if i > 0 {
			prev := records[i-1]
			if rec.PreviousHash != prev.Hash {
				return false
			}
			if rec.Seq != prev.Seq+1 {
				return false
			}
		}
		if recordHash(rec) != rec.Hash {
			return false
		}
	}
	return true
}

func recordHash(r Record) string {
	input := fmt.Sprintf("%d|%s|%s|%s", r.Seq, r.Timestamp, r.PreviousHash, r.Payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
