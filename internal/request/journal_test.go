package request

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndHistory(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, "req-1", "", StatusPending, ActorRequester))
	require.NoError(t, j.Record(ctx, "req-1", StatusPending, StatusMatched, ActorAgent))
	require.NoError(t, j.Record(ctx, "req-2", "", StatusPending, ActorRequester))
	require.NoError(t, j.Record(ctx, "req-1", StatusMatched, StatusInProgress, ActorRequester))

	history, err := j.History(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusPending, history[0].To)
	assert.Equal(t, StatusMatched, history[1].To)
	assert.Equal(t, StatusInProgress, history[2].To)
	assert.Equal(t, ActorAgent, history[1].Actor)

	// Sequence numbers are global across requests.
	assert.Equal(t, uint64(1), history[0].Seq)
	assert.Equal(t, uint64(2), history[1].Seq)
	assert.Equal(t, uint64(4), history[2].Seq)

	ok, err := j.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJournalEmptyHistory(t *testing.T) {
	j := openTestJournal(t)

	history, err := j.History(context.Background(), "req-none")
	require.NoError(t, err)
	assert.Empty(t, history)

	ok, err := j.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "an empty journal verifies clean")
}

func TestJournalDetectsTampering(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, "req-1", "", StatusPending, ActorRequester))
	require.NoError(t, j.Record(ctx, "req-1", StatusPending, StatusMatched, ActorAgent))
	require.NoError(t, j.Record(ctx, "req-1", StatusMatched, StatusCancelled, ActorRequester))

	// Rewrite history behind the chain's back.
	_, err := j.db.Exec(`UPDATE transitions SET to_status = 'COMPLETED' WHERE seq = 2`)
	require.NoError(t, err)

	ok, err := j.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "edited rows must break verification")
}

func TestJournalDetectsDeletedRows(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, "req-1", "", StatusPending, ActorRequester))
	require.NoError(t, j.Record(ctx, "req-1", StatusPending, StatusMatched, ActorAgent))
	require.NoError(t, j.Record(ctx, "req-1", StatusMatched, StatusInProgress, ActorRequester))

	_, err := j.db.Exec(`DELETE FROM transitions WHERE seq = 2`)
	require.NoError(t, err)

	ok, err := j.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a gap in the chain must break verification")
}

func TestJournalResumesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	first, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, "req-1", "", StatusPending, ActorRequester))
	require.NoError(t, first.Record(ctx, "req-1", StatusPending, StatusMatched, ActorAgent))
	require.NoError(t, first.Close())

	second, err := OpenJournal(path)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Record(ctx, "req-1", StatusMatched, StatusCancelled, ActorRequester))

	history, err := second.History(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, uint64(3), history[2].Seq)
	assert.Equal(t, history[1].Hash, history[2].PreviousHash,
		"resumed chain must link onto the persisted tail")

	ok, err := second.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
