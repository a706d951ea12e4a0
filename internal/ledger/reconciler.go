package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/agentcash/internal/directory"
)

// Reconciler derives authoritative balances from the transaction log and
// heals the cached directory balance whenever the two disagree by more than
// the tolerance. Running it twice in a row is a no-op; running it
// concurrently is safe because the log is append-only and the fold is pure.
type Reconciler struct {
	store     Store
	directory directory.Store
	policy    Policy
	tolerance float64
	logger    *slog.Logger
}

func NewReconciler(store Store, dir directory.Store, policy Policy, tolerance float64, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		directory: dir,
		policy:    policy,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Fold computes the balance an account should hold from its completed
// transactions. Pending and failed transactions never move a balance.
func Fold(accountID string, txs []*Transaction) float64 {
	var balance float64
	for _, tx := range txs {
		balance += signedAmount(tx, accountID)
	}
	return balance
}

// signedAmount is the effect of one completed transaction on one account.
func signedAmount(tx *Transaction, accountID string) float64 {
	from := tx.FromParty != nil && *tx.FromParty == accountID
	to := tx.ToParty != nil && *tx.ToParty == accountID
	if !from && !to {
		return 0
	}
	if from && to {
		// Self-transfer nets to zero regardless of type.
		return 0
	}

	switch tx.Type {
	case TypeDeposit:
		if to {
			return tx.Amount
		}
	case TypeWithdrawal:
		if from {
			return -tx.Amount
		}
	case TypeSend:
		if from {
			return -tx.Amount
		}
		return tx.Amount
	case TypeAgentWithdrawal:
		if from {
			return -tx.Amount
		}
	case TypeAgentReceive, TypeAgentCommission:
		if to {
			return tx.Amount
		}
	}
	return 0
}

// Balance returns the reconciled balance for an account, healing the cached
// directory value as a side effect when it has drifted.
func (r *Reconciler) Balance(ctx context.Context, accountID string) (float64, error) {
	account, err := r.directory.Lookup(ctx, accountID)
	if err != nil {
		return 0, err
	}

	balance, _, err := r.reconcile(ctx, account)
	return balance, err
}

// reconcile folds the log for one account and heals drift. The heal itself
// is best effort: a failed cache write leaves the next read to repair it,
// and the fold result is returned either way.
func (r *Reconciler) reconcile(ctx context.Context, account *directory.Account) (float64, bool, error) {
	txs, err := r.store.ListCompletedForAccount(ctx, account.ID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load transactions for account %s: %w", account.ID, err)
	}

	balance := Fold(account.ID, txs)
	drift := balance - account.Balance
	if math.Abs(drift) <= r.tolerance {
		return balance, false, nil
	}

	r.logger.Warn("reconciliation drift healed",
		"account_id", account.ID,
		"stored", account.Balance,
		"recomputed", balance,
		"drift", drift,
	)
	if err := r.directory.SetBalance(ctx, account.ID, balance); err != nil {
		r.logger.Error("failed to persist healed balance",
			"account_id", account.ID,
			"error", err,
		)
	}
	return balance, true, nil
}

// ReconcileAgents folds the log for every agent profile and returns how
// many cached balances were healed. cmd/sweeper runs this on a schedule.
func (r *Reconciler) ReconcileAgents(ctx context.Context) (int, error) {
	agents, err := r.directory.ListAgents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list agents: %w", err)
	}

	healed := 0
	for _, agent := range agents {
		_, fixed, err := r.reconcile(ctx, agent)
		if err != nil {
			return healed, err
		}
		if fixed {
			healed++
		}
	}
	return healed, nil
}

// BackfillSettlements re-emits the settlement legs any COMPLETED request is
// missing, most often the commission when settlement crashed between
// inserts. Legs already present are skipped by the (request id, type)
// guard, so repeated and concurrent passes stay idempotent. Returns the
// number of transactions inserted.
func (r *Reconciler) BackfillSettlements(ctx context.Context) (int, error) {
	missing, err := r.store.ListCompletedRequestsWithoutCommission(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, req := range missing {
		now := time.Now().UTC()
		requesterID := req.RequesterID
		agentID := req.AgentID
		requestID := req.ID

		set := []*Transaction{
			{
				FromParty:   &requesterID,
				Amount:      req.Amount,
				Type:        TypeAgentWithdrawal,
				Status:      StatusCompleted,
				RequestID:   &requestID,
				CompletedAt: &now,
			},
			{
				ToParty:     &agentID,
				Amount:      req.Amount,
				Type:        TypeAgentReceive,
				Status:      StatusCompleted,
				RequestID:   &requestID,
				CompletedAt: &now,
			},
			{
				ToParty:     &agentID,
				Amount:      r.policy.CommissionFor(req.Amount),
				Type:        TypeAgentCommission,
				Status:      StatusCompleted,
				RequestID:   &requestID,
				CompletedAt: &now,
			},
		}

		n, err := r.store.InsertSettlement(ctx, set)
		if err != nil {
			return created, fmt.Errorf("failed to back-fill settlement for request %s: %w", req.ID, err)
		}
		if n > 0 {
			r.logger.Info("settlement back-filled",
				"request_id", req.ID,
				"agent_id", req.AgentID,
				"transactions", n,
			)
			created += n
		}
	}
	return created, nil
}
