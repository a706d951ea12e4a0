package request

import "fmt"

// ValidationError rejects malformed input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Conflict reason codes. Callers use them to decide whether and how to
// resubmit.
const (
	ReasonAlreadyMatched      = "already_matched"
	ReasonActiveRequestExists = "active_request_exists"
	ReasonStaleTransition     = "stale_transition"
	ReasonAgentUnavailable    = "agent_unavailable"
	ReasonInsufficientBalance = "insufficient_balance"
)

// ConflictError reports an operation whose precondition no longer holds,
// usually because another actor won the race.
type ConflictError struct {
	Reason    string
	RequestID string
}

func (e *ConflictError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("conflict: %s", e.Reason)
	}
	return fmt.Sprintf("conflict on request %s: %s", e.RequestID, e.Reason)
}

// NotFoundError reports a lookup for an entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
