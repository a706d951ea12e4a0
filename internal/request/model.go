// Package request implements the withdrawal request lifecycle: a requester
// posts a cash-out, a nearby agent accepts it, both sides confirm the
// handoff and the ledger settles the money movement. Every state-advancing
// write is a compare-and-swap on the expected prior status, so concurrent
// actors race safely and exactly one wins.
package request

import (
	"time"

	"github.com/example/agentcash/internal/geo"
)

// Status of a withdrawal request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusMatched    Status = "MATCHED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// AllowedTransitions defines the lifecycle transition table. Terminal
// states map to empty slices.
func AllowedTransitions() map[Status][]Status {
	return map[Status][]Status{
		StatusPending:    {StatusMatched, StatusCancelled, StatusExpired},
		StatusMatched:    {StatusInProgress, StatusCancelled, StatusExpired},
		StatusInProgress: {StatusCompleted},
		StatusCompleted:  {},
		StatusCancelled:  {},
		StatusExpired:    {},
	}
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range AllowedTransitions()[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Actor identifies which side of a request performs an operation.
type Actor string

const (
	ActorRequester Actor = "requester"
	ActorAgent     Actor = "agent"

	// ActorSystem marks transitions the service applies on its own,
	// such as expiry sweeps. Never accepted from callers.
	ActorSystem Actor = "system"
)

// Valid reports whether the actor is one of the two request sides.
func (a Actor) Valid() bool {
	return a == ActorRequester || a == ActorAgent
}

// Request is one cash-out posted by a requester. Terminal requests are
// never physically deleted.
type Request struct {
	ID             string     `json:"id"`
	RequesterID    string     `json:"requester_id"`
	AgentID        *string    `json:"agent_id,omitempty"`
	Amount         float64    `json:"amount"`
	Location       geo.Point  `json:"location"`
	Status         Status     `json:"status"`
	UserConfirmed  bool       `json:"user_confirmed"`
	AgentConfirmed bool       `json:"agent_confirmed"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}
