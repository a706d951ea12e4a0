// Package notify carries withdrawal lifecycle events to the parties
// involved over an asynq task queue. The API process enqueues; the notifier
// worker drains. Losing a notification never affects request state.
package notify

import "time"

// Task type constants.
const (
	TaskRequestCreated   = "request:created"
	TaskRequestMatched   = "request:matched"
	TaskRequestCompleted = "request:completed"
	TaskRequestCancelled = "request:cancelled"
)

// QueueName is the asynq queue lifecycle events travel on.
const QueueName = "notifications"

// RequestCreatedPayload announces a new withdrawal request to nearby agents.
type RequestCreatedPayload struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	Amount      float64   `json:"amount"`
	SentAt      time.Time `json:"sent_at"`
}

// RequestMatchedPayload tells the requester who accepted and carries the
// handoff code they present to the agent.
type RequestMatchedPayload struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	AgentID     string    `json:"agent_id"`
	Amount      float64   `json:"amount"`
	HandoffCode string    `json:"handoff_code"`
	SentAt      time.Time `json:"sent_at"`
}

// RequestCompletedPayload confirms settlement to both sides.
type RequestCompletedPayload struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	AgentID     string    `json:"agent_id"`
	Amount      float64   `json:"amount"`
	SentAt      time.Time `json:"sent_at"`
}

// RequestCancelledPayload tells the other side who called it off.
type RequestCancelledPayload struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	AgentID     string    `json:"agent_id,omitempty"`
	CancelledBy string    `json:"cancelled_by"`
	SentAt      time.Time `json:"sent_at"`
}
