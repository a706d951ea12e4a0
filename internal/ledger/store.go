package ledger

import (
	"context"
	"time"
)

// UnsettledRequest is a completed withdrawal request with no linked
// commission transaction, as seen by the back-fill pass.
type UnsettledRequest struct {
	ID          string
	RequesterID string
	AgentID     string
	Amount      float64
}

// Store is the persistence contract for the transaction log.
type Store interface {
	// Insert appends one transaction. IDs are generated when empty.
	Insert(ctx context.Context, tx *Transaction) error

	Get(ctx context.Context, id string) (*Transaction, error)

	// ListForAccount returns transactions of any status where the account
	// is a party, newest first, capped at limit.
	ListForAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error)

	// ListCompletedForAccount returns completed transactions where the
	// account is a party, oldest first. This is the reconciliation input.
	ListCompletedForAccount(ctx context.Context, accountID string) ([]*Transaction, error)

	// CompletedCounts returns per-account completed-transaction counts for
	// the given accounts. Accounts with no transactions are absent.
	CompletedCounts(ctx context.Context, accountIDs []string) (map[string]int, error)

	// InsertSettlement appends the given request-tagged transactions,
	// skipping any whose (request id, type) pair already exists. Returns
	// how many were actually inserted. Runs in one SERIALIZABLE
	// transaction, so concurrent settlement of the same request inserts
	// each transaction exactly once.
	InsertSettlement(ctx context.Context, txs []*Transaction) (int, error)

	// FinalizeGateway moves a pending transaction to a terminal status.
	// Returns false without error when the transaction was not pending.
	FinalizeGateway(ctx context.Context, id string, status Status, completedAt time.Time) (bool, error)

	// ListPendingGateway returns pending gateway-linked transactions
	// created before the cutoff.
	ListPendingGateway(ctx context.Context, cutoff time.Time) ([]*Transaction, error)

	// ListCompletedRequestsWithoutCommission returns completed withdrawal
	// requests lacking a linked agent_commission transaction.
	ListCompletedRequestsWithoutCommission(ctx context.Context) ([]*UnsettledRequest, error)
}
