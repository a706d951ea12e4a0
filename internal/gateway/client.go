// Package gateway talks to the external mobile-money processor. The
// contract is small on purpose: initiate a movement, ask for its status.
// Everything else (retries, breaker, polling) wraps those two calls.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// Status is the processor's view of a transaction.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// Terminal reports whether the processor will never change this status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// InitiateRequest starts a movement of funds between the processor and a
// subscriber. Phone must be in canonical form.
type InitiateRequest struct {
	Phone       string  `json:"phone"`
	Amount      float64 `json:"amount"`
	NetworkCode string  `json:"network_code"`
	Reference   string  `json:"reference"`
}

// InitiateResult carries the processor-side id used for all later polling.
type InitiateResult struct {
	TransactionID string `json:"transaction_id"`
}

// StatusResult is one answer to a status poll.
type StatusResult struct {
	Status       Status     `json:"status"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExternalCode string     `json:"external_code,omitempty"`
}

// Client is the processor contract consumed by the ledger service.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Status(ctx context.Context, transactionID string) (*StatusResult, error)
}

// GatewayError wraps transport, breaker and processor-side failures.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// PollExhaustedError reports a poll that never saw a terminal status. The
// underlying transaction is still pending on the processor side and stays
// pending locally.
type PollExhaustedError struct {
	TransactionID string
	Attempts      int
}

func (e *PollExhaustedError) Error() string {
	return fmt.Sprintf("gateway transaction %s still pending after %d status polls", e.TransactionID, e.Attempts)
}

// PollOptions bound a status poll.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// PollStatus asks for the transaction status until a terminal answer
// arrives or MaxAttempts is spent. Transport errors consume an attempt and
// the loop keeps going; a cancelled context stops it immediately. On
// exhaustion the caller gets *PollExhaustedError and the transaction is
// left for the next verification pass.
func PollStatus(ctx context.Context, c Client, transactionID string, opts PollOptions) (*StatusResult, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(opts.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		res, err := c.Status(ctx, transactionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if res.Status.Terminal() {
			return res, nil
		}
	}

	return nil, &PollExhaustedError{TransactionID: transactionID, Attempts: opts.MaxAttempts}
}
