// Package ledger is the transaction log and the balance authority built on
// it. Balances are derived by folding completed transactions; the cached
// directory balance is a projection the reconciler heals, never a source.
package ledger

import (
	"fmt"
	"time"
)

// Type classifies a transaction.
type Type string

const (
	TypeDeposit         Type = "deposit"
	TypeWithdrawal      Type = "withdrawal"
	TypeSend            Type = "send"
	TypeAgentWithdrawal Type = "agent_withdrawal"
	TypeAgentReceive    Type = "agent_receive"
	TypeAgentCommission Type = "agent_commission"
)

// Status of a transaction. Completed transactions are immutable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is one movement of value. Parties are nullable because
// gateway-backed movements have an external counterparty that is not an
// account.
type Transaction struct {
	ID          string     `json:"id"`
	FromParty   *string    `json:"from_party,omitempty"`
	ToParty     *string    `json:"to_party,omitempty"`
	Amount      float64    `json:"amount"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	RequestID   *string    `json:"request_id,omitempty"`
	GatewayRef  *string    `json:"gateway_ref,omitempty"`
	NetworkCode *string    `json:"network_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NotFoundError reports a lookup for a transaction that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found", e.ID)
}

// InsufficientBalanceError reports a debit the reconciled balance cannot
// cover.
type InsufficientBalanceError struct {
	AccountID string
	Balance   float64
	Requested float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("account %s balance %.2f cannot cover %.2f", e.AccountID, e.Balance, e.Requested)
}
