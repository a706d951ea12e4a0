package request

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/agentcash/pkg/audit"
)

// Journal is a tamper-evident log of request status transitions, kept in a
// local SQLite file next to the service. Each row is a link in a hash
// chain, so editing or deleting history breaks verification.
type Journal struct {
	db *sql.DB

	mu    sync.Mutex
	chain *audit.Chain
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS transitions (
	seq INTEGER PRIMARY KEY,
	recorded_at TEXT NOT NULL,
	request_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS transitions_request ON transitions (request_id);
`

// Transition is one journaled status change.
type Transition struct {
	Seq          uint64 `json:"seq"`
	RecordedAt   string `json:"recorded_at"`
	RequestID    string `json:"request_id"`
	From         Status `json:"from"`
	To           Status `json:"to"`
	Actor        Actor  `json:"actor"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// transitionPayload is the canonical chain payload. Field order matters:
// verification re-encodes rows with this exact struct.
type transitionPayload struct {
	RequestID string `json:"request_id"`
	From      Status `json:"from"`
	To        Status `json:"to"`
	Actor     Actor  `json:"actor"`
}

// OpenJournal opens (creating if needed) the journal database at path and
// resumes the hash chain from the newest persisted row. The API and the
// sweeper write the same file, so the connection waits out short lock
// contention instead of failing.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run journal migrations: %w", err)
	}

	j := &Journal{db: db}
	if err := j.rewind(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// rewind re-anchors the in-memory chain on the newest persisted row. Called
// at open and after a failed insert, so the chain never drifts ahead of the
// database. Callers must hold mu except during OpenJournal.
func (j *Journal) rewind() error {
	var seq uint64
	var hash string
	err := j.db.QueryRow(`SELECT seq, hash FROM transitions ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		j.chain = audit.NewChain()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read journal tail: %w", err)
	}
	j.chain = audit.Resume(hash, seq)
	return nil
}

// Record appends one transition to the journal.
func (j *Journal) Record(ctx context.Context, requestID string, from, to Status, actor Actor) error {
	payload, err := json.Marshal(transitionPayload{
		RequestID: requestID,
		From:      from,
		To:        to,
		Actor:     actor,
	})
	if err != nil {
		return fmt.Errorf("failed to encode transition: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec := j.chain.Append(string(payload))
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO transitions (seq, recorded_at, request_id, from_status, to_status, actor, previous_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Seq, rec.Timestamp, requestID, string(from), string(to), string(actor), rec.PreviousHash, rec.Hash)
	if err != nil {
		if rerr := j.rewind(); rerr != nil {
			return fmt.Errorf("failed to record transition (chain rewind also failed: %v): %w", rerr, err)
		}
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// History returns all journaled transitions for a request, oldest first.
func (j *Journal) History(ctx context.Context, requestID string) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, recorded_at, request_id, from_status, to_status, actor, previous_hash, hash
		FROM transitions WHERE request_id = ? ORDER BY seq ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition history: %w", err)
	}
	defer rows.Close()
	return collectTransitions(rows)
}

// VerifyChain re-hashes every journal row in order and reports whether the
// chain is intact.
func (j *Journal) VerifyChain(ctx context.Context) (bool, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, recorded_at, request_id, from_status, to_status, actor, previous_hash, hash
		FROM transitions ORDER BY seq ASC
	`)
	if err != nil {
		return false, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	transitions, err := collectTransitions(rows)
	if err != nil {
		return false, err
	}

	records := make([]audit.Record, 0, len(transitions))
	for _, t := range transitions {
		payload, err := json.Marshal(transitionPayload{
			RequestID: t.RequestID,
			From:      t.From,
			To:        t.To,
			Actor:     t.Actor,
		})
		if err != nil {
			return false, fmt.Errorf("failed to encode transition: %w", err)
		}
		records = append(records, audit.Record{
			Seq:          t.Seq,
			Timestamp:    t.RecordedAt,
			PreviousHash: t.PreviousHash,
			Payload:      string(payload),
			Hash:         t.Hash,
		})
	}
	return audit.Verify(records), nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

func collectTransitions(rows *sql.Rows) ([]Transition, error) {
	var transitions []Transition
	for rows.Next() {
		var t Transition
		err := rows.Scan(&t.Seq, &t.RecordedAt, &t.RequestID, &t.From, &t.To,
			&t.Actor, &t.PreviousHash, &t.Hash)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}
	return transitions, nil
}
