package request

import (
	"context"
	"time"
)

// Expiry is one request the sweep moved to EXPIRED.
type Expiry struct {
	ID   string
	From Status
}

// Store is the persistence contract for withdrawal requests. Every
// state-advancing method is a compare-and-swap: it mutates only when the
// row still holds the expected prior status and reports whether it did, so
// callers can distinguish winning the race from losing it without reading
// first.
type Store interface {
	// Create inserts a PENDING request. A second non-terminal request for
	// the same requester fails with *ConflictError
	// (ReasonActiveRequestExists), enforced by a partial unique index
	// rather than a read-then-write check.
	Create(ctx context.Context, req *Request) error

	// Get returns the request or *NotFoundError.
	Get(ctx context.Context, id string) (*Request, error)

	// Accept moves PENDING → MATCHED and assigns the agent, provided the
	// request has not expired. The bool is false when the row was missing,
	// no longer PENDING, or past its expiry.
	Accept(ctx context.Context, id, agentID string, at time.Time) (*Request, bool, error)

	// Confirm records one side's confirmation from MATCHED or IN_PROGRESS.
	// The first confirmation lands on IN_PROGRESS; when both flags are set
	// the same update lands on COMPLETED and stamps completedAt. Returns
	// the updated row and the status it held before the update.
	Confirm(ctx context.Context, id string, actor Actor, at time.Time) (*Request, Status, bool, error)

	// Cancel moves PENDING or MATCHED → CANCELLED. Returns the updated row
	// and the prior status.
	Cancel(ctx context.Context, id string, at time.Time) (*Request, Status, bool, error)

	// ExpireDue moves every PENDING or MATCHED request past its expiry to
	// EXPIRED in one conditional update and reports what it expired. Safe
	// to run from concurrent schedulers.
	ExpireDue(ctx context.Context, now time.Time) ([]Expiry, error)
}
