package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/gateway"
	"github.com/example/agentcash/internal/phone"
)

// Policy is the commission schedule applied when a withdrawal request
// settles: a flat rate with a floor.
type Policy struct {
	Rate  float64
	Floor float64
}

// CommissionFor returns the agent commission for servicing amount.
func (p Policy) CommissionFor(amount float64) float64 {
	commission := amount * p.Rate
	if commission < p.Floor {
		return p.Floor
	}
	return commission
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store      Store
	Reconciler *Reconciler
	Directory  directory.Store
	Gateway    gateway.Client
	Normalizer *phone.Normalizer
	Policy     Policy
	Poll       gateway.PollOptions
	Logger     *slog.Logger
}

// Service carries every money movement in the system: internal sends,
// gateway-backed deposits and withdrawals, and the settlement emitted when
// a withdrawal request completes.
type Service struct {
	store      Store
	reconciler *Reconciler
	directory  directory.Store
	gateway    gateway.Client
	normalizer *phone.Normalizer
	policy     Policy
	poll       gateway.PollOptions
	logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:      cfg.Store,
		reconciler: cfg.Reconciler,
		directory:  cfg.Directory,
		gateway:    cfg.Gateway,
		normalizer: cfg.Normalizer,
		policy:     cfg.Policy,
		poll:       cfg.Poll,
		logger:     cfg.Logger,
	}
}

// Balance returns the reconciled balance for an account.
func (s *Service) Balance(ctx context.Context, accountID string) (float64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("account ID is required")
	}
	return s.reconciler.Balance(ctx, accountID)
}

// Transactions returns the newest transactions the account participates in.
func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID is required")
	}
	return s.store.ListForAccount(ctx, accountID, limit)
}

// Send moves amount between two accounts as one completed transaction. The
// sufficiency check runs against the sender's reconciled balance, not the
// cached one.
func (s *Service) Send(ctx context.Context, fromID, toID string, amount float64) (*Transaction, error) {
	if fromID == "" || toID == "" {
		return nil, fmt.Errorf("both parties are required")
	}
	if fromID == toID {
		return nil, fmt.Errorf("sender and recipient must differ")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	if _, err := s.directory.Lookup(ctx, toID); err != nil {
		return nil, err
	}

	balance, err := s.reconciler.Balance(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, &InsufficientBalanceError{AccountID: fromID, Balance: balance, Requested: amount}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		FromParty:   &fromID,
		ToParty:     &toID,
		Amount:      amount,
		Type:        TypeSend,
		Status:      StatusCompleted,
		CompletedAt: &now,
	}
	if err := s.store.Insert(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// InitiateDeposit starts a gateway collection from the subscriber's mobile
// wallet into their account. The transaction stays pending until the
// gateway reports a terminal status.
func (s *Service) InitiateDeposit(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*Transaction, error) {
	return s.initiateGateway(ctx, accountID, rawPhone, networkCode, amount, TypeDeposit)
}

// InitiateWithdrawal starts a gateway payout from the account to the
// subscriber's mobile wallet, after a reconciled sufficiency check.
func (s *Service) InitiateWithdrawal(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*Transaction, error) {
	balance, err := s.reconciler.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, &InsufficientBalanceError{AccountID: accountID, Balance: balance, Requested: amount}
	}
	return s.initiateGateway(ctx, accountID, rawPhone, networkCode, amount, TypeWithdrawal)
}

func (s *Service) initiateGateway(ctx context.Context, accountID, rawPhone, networkCode string, amount float64, txType Type) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	canonical, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	if _, err := s.directory.Lookup(ctx, accountID); err != nil {
		return nil, err
	}

	reference := uuid.NewString()
	res, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		Phone:       canonical,
		Amount:      amount,
		NetworkCode: networkCode,
		Reference:   reference,
	})
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:         reference,
		Amount:     amount,
		Type:       txType,
		Status:     StatusPending,
		GatewayRef: &res.TransactionID,
	}
	if networkCode != "" {
		tx.NetworkCode = &networkCode
	}
	switch txType {
	case TypeDeposit:
		tx.ToParty = &accountID
	case TypeWithdrawal:
		tx.FromParty = &accountID
	default:
		return nil, fmt.Errorf("type %s is not gateway-backed", txType)
	}

	if err := s.store.Insert(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("gateway transaction initiated",
		"transaction_id", tx.ID,
		"type", tx.Type,
		"gateway_ref", res.TransactionID,
		"amount", amount,
	)
	return tx, nil
}

// AwaitGateway polls the gateway for a terminal status and finalizes the
// transaction when one arrives. On poll exhaustion the transaction stays
// pending and the error is *gateway.PollExhaustedError; the verification
// pass picks it up later.
func (s *Service) AwaitGateway(ctx context.Context, txID string) (*Transaction, error) {
	tx, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.GatewayRef == nil {
		return nil, fmt.Errorf("transaction %s is not gateway-backed", txID)
	}
	if tx.Status != StatusPending {
		return tx, nil
	}

	res, err := gateway.PollStatus(ctx, s.gateway, *tx.GatewayRef, s.poll)
	if err != nil {
		return nil, err
	}
	return s.FinalizeGateway(ctx, txID, res.Status, res.CompletedAt)
}

// FinalizeGateway lands a pending gateway transaction on a terminal status.
// Finalizing an already-terminal transaction is a no-op returning its
// current state.
func (s *Service) FinalizeGateway(ctx context.Context, txID string, status gateway.Status, completedAt *time.Time) (*Transaction, error) {
	var target Status
	switch status {
	case gateway.StatusSuccess:
		target = StatusCompleted
	case gateway.StatusFailed, gateway.StatusExpired:
		target = StatusFailed
	default:
		return nil, fmt.Errorf("gateway status %s is not terminal", status)
	}

	at := time.Now().UTC()
	if completedAt != nil {
		at = completedAt.UTC()
	}

	updated, err := s.store.FinalizeGateway(ctx, txID, target, at)
	if err != nil {
		return nil, err
	}
	if updated {
		s.logger.Info("gateway transaction finalized",
			"transaction_id", txID,
			"status", target,
		)
	}
	return s.store.Get(ctx, txID)
}

// VerifyPendingGateway re-polls each pending gateway transaction older than
// maxAge exactly once and finalizes those the gateway reports terminal.
// Returns how many were finalized.
func (s *Service) VerifyPendingGateway(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	pending, err := s.store.ListPendingGateway(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, tx := range pending {
		res, err := s.gateway.Status(ctx, *tx.GatewayRef)
		if err != nil {
			s.logger.Warn("gateway verification poll failed",
				"transaction_id", tx.ID,
				"gateway_ref", *tx.GatewayRef,
				"error", err,
			)
			continue
		}
		if !res.Status.Terminal() {
			continue
		}
		if _, err := s.FinalizeGateway(ctx, tx.ID, res.Status, res.CompletedAt); err != nil {
			return finalized, err
		}
		finalized++
	}
	return finalized, nil
}

// SettleRequest emits the three transactions completing a withdrawal
// request: the customer's debit, the agent's principal credit and the
// agent's commission. Each is tagged with the request id, so settling the
// same request again inserts nothing.
func (s *Service) SettleRequest(ctx context.Context, requestID, requesterID, agentID string, amount float64) error {
	if requestID == "" || requesterID == "" || agentID == "" {
		return fmt.Errorf("request, requester and agent ids are required")
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	now := time.Now().UTC()
	txs := []*Transaction{
		{
			FromParty:   &requesterID,
			Amount:      amount,
			Type:        TypeAgentWithdrawal,
			Status:      StatusCompleted,
			RequestID:   &requestID,
			CompletedAt: &now,
		},
		{
			ToParty:     &agentID,
			Amount:      amount,
			Type:        TypeAgentReceive,
			Status:      StatusCompleted,
			RequestID:   &requestID,
			CompletedAt: &now,
		},
		{
			ToParty:     &agentID,
			Amount:      s.policy.CommissionFor(amount),
			Type:        TypeAgentCommission,
			Status:      StatusCompleted,
			RequestID:   &requestID,
			CompletedAt: &now,
		},
	}

	inserted, err := s.store.InsertSettlement(ctx, txs)
	if err != nil {
		return err
	}
	if inserted > 0 {
		s.logger.Info("request settled",
			"request_id", requestID,
			"agent_id", agentID,
			"amount", amount,
			"transactions", inserted,
		)
	}
	return nil
}

// CompletedCounts exposes per-account completed-transaction counts for the
// matching engine's candidate enrichment.
func (s *Service) CompletedCounts(ctx context.Context, accountIDs []string) (map[string]int, error) {
	return s.store.CompletedCounts(ctx, accountIDs)
}
