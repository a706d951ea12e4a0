package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/geo"
)

// Ledger is the money side of the lifecycle: balance checks at creation and
// settlement when a request completes.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (float64, error)
	SettleRequest(ctx context.Context, requestID, requesterID, agentID string, amount float64) error
}

// CodeStore issues and checks the short-lived handoff codes exchanged at
// the point of cash delivery. Codes expire on their own.
type CodeStore interface {
	Issue(ctx context.Context, requestID string, ttl time.Duration) (string, error)
	Verify(ctx context.Context, requestID, code string) (bool, error)
}

// Notifier delivers lifecycle events to the parties involved. Deliveries
// are fire-and-forget: failures are logged, never surfaced to callers.
type Notifier interface {
	RequestCreated(ctx context.Context, req *Request) error
	RequestMatched(ctx context.Context, req *Request, code string) error
	RequestCompleted(ctx context.Context, req *Request) error
	RequestCancelled(ctx context.Context, req *Request, actor Actor) error
}

// TransitionRecorder journals status transitions. *Journal satisfies it.
type TransitionRecorder interface {
	Record(ctx context.Context, requestID string, from, to Status, actor Actor) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store     Store
	Directory directory.Store
	Ledger    Ledger
	Codes     CodeStore
	Notifier  Notifier
	Journal   TransitionRecorder
	TTL       time.Duration
	MinAmount float64
	MaxAmount float64
	Logger    *slog.Logger
}

// Service drives the withdrawal request lifecycle. All status changes go
// through conditional updates in the store, so two actors racing on the
// same request resolve to exactly one winner.
type Service struct {
	store     Store
	directory directory.Store
	ledger    Ledger
	codes     CodeStore
	notifier  Notifier
	journal   TransitionRecorder
	ttl       time.Duration
	minAmount float64
	maxAmount float64
	logger    *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:     cfg.Store,
		directory: cfg.Directory,
		ledger:    cfg.Ledger,
		codes:     cfg.Codes,
		notifier:  cfg.Notifier,
		journal:   cfg.Journal,
		ttl:       cfg.TTL,
		minAmount: cfg.MinAmount,
		maxAmount: cfg.MaxAmount,
		logger:    cfg.Logger,
	}
}

// Create posts a new withdrawal request. The requester must exist, hold at
// least the requested amount, and have no other active request.
func (s *Service) Create(ctx context.Context, requesterID string, amount float64, location geo.Point) (*Request, error) {
	if requesterID == "" {
		return nil, &ValidationError{Field: "requester_id", Reason: "must not be empty"}
	}
	if amount < s.minAmount || amount > s.maxAmount {
		return nil, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %g and %g", s.minAmount, s.maxAmount),
		}
	}
	if !location.Valid() {
		return nil, &ValidationError{Field: "location", Reason: "coordinates out of range"}
	}

	if _, err := s.directory.Lookup(ctx, requesterID); err != nil {
		var notFound *directory.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &NotFoundError{Kind: "account", ID: requesterID}
		}
		return nil, fmt.Errorf("failed to look up requester: %w", err)
	}

	balance, err := s.ledger.Balance(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to check requester balance: %w", err)
	}
	if balance < amount {
		return nil, &ConflictError{Reason: ReasonInsufficientBalance}
	}

	req := &Request{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		Amount:      amount,
		Location:    location,
		Status:      StatusPending,
		ExpiresAt:   time.Now().Add(s.ttl),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}

	s.record(ctx, req.ID, "", StatusPending, ActorRequester)
	if err := s.notifier.RequestCreated(ctx, req); err != nil {
		s.logger.Error("notification delivery failed",
			"event", "request:created", "request_id", req.ID, "error", err)
	}
	s.logger.Info("withdrawal request created",
		"request_id", req.ID, "requester_id", requesterID, "amount", amount)
	return req, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// Accept matches an agent to a PENDING request. Exactly one of any number
// of concurrent accepts wins; the rest receive a conflict.
func (s *Service) Accept(ctx context.Context, requestID, agentID string) (*Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		if req.Status.Terminal() {
			return nil, &ConflictError{Reason: ReasonStaleTransition, RequestID: requestID}
		}
		return nil, &ConflictError{Reason: ReasonAlreadyMatched, RequestID: requestID}
	}
	if agentID == req.RequesterID {
		return nil, &ValidationError{Field: "agent_id", Reason: "cannot accept own request"}
	}

	agent, err := s.directory.Lookup(ctx, agentID)
	if err != nil {
		var notFound *directory.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &NotFoundError{Kind: "account", ID: agentID}
		}
		return nil, fmt.Errorf("failed to look up agent: %w", err)
	}
	if !agent.IsAgent || !agent.IsAvailable || !agent.CanHandle(req.Amount) {
		return nil, &ConflictError{Reason: ReasonAgentUnavailable, RequestID: requestID}
	}

	matched, ok, err := s.store.Accept(ctx, requestID, agentID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		// Still PENDING means the expiry guard refused the swap; a
		// terminal status means the request died while we validated.
		if current.Status == StatusPending || current.Status.Terminal() {
			return nil, &ConflictError{Reason: ReasonStaleTransition, RequestID: requestID}
		}
		return nil, &ConflictError{Reason: ReasonAlreadyMatched, RequestID: requestID}
	}

	s.record(ctx, requestID, StatusPending, StatusMatched, ActorAgent)

	code, err := s.codes.Issue(ctx, requestID, s.ttl)
	if err != nil {
		s.logger.Error("handoff code issue failed", "request_id", requestID, "error", err)
	}
	if err := s.notifier.RequestMatched(ctx, matched, code); err != nil {
		s.logger.Error("notification delivery failed",
			"event", "request:matched", "request_id", requestID, "error", err)
	}
	s.logger.Info("withdrawal request matched", "request_id", requestID, "agent_id", agentID)
	return matched, nil
}

// Confirm records one side's confirmation of the cash handoff. The first
// confirmation moves the request to IN_PROGRESS; the second lands on
// COMPLETED and settles the money. Re-confirming the same side is a no-op.
func (s *Service) Confirm(ctx context.Context, requestID string, actor Actor) (*Request, error) {
	if !actor.Valid() {
		return nil, &ValidationError{Field: "actor", Reason: `must be "requester" or "agent"`}
	}

	req, prior, ok, err := s.store.Confirm(ctx, requestID, actor, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if prior == "" {
			return nil, &NotFoundError{Kind: "request", ID: requestID}
		}
		return nil, &ConflictError{Reason: ReasonStaleTransition, RequestID: requestID}
	}

	if prior != req.Status {
		s.record(ctx, requestID, prior, req.Status, actor)
	}

	if req.Status == StatusCompleted {
		agentID := ""
		if req.AgentID != nil {
			agentID = *req.AgentID
		}
		if err := s.ledger.SettleRequest(ctx, req.ID, req.RequesterID, agentID, req.Amount); err != nil {
			// The settlement back-fill picks up completed requests whose
			// transactions never landed, so the confirmation stands.
			s.logger.Error("settlement failed", "request_id", req.ID, "error", err)
		}
		if err := s.notifier.RequestCompleted(ctx, req); err != nil {
			s.logger.Error("notification delivery failed",
				"event", "request:completed", "request_id", requestID, "error", err)
		}
		s.logger.Info("withdrawal request completed",
			"request_id", requestID, "agent_id", agentID, "amount", req.Amount)
	}
	return req, nil
}

// Cancel withdraws a request from PENDING or MATCHED.
func (s *Service) Cancel(ctx context.Context, requestID string, actor Actor) (*Request, error) {
	if !actor.Valid() {
		return nil, &ValidationError{Field: "actor", Reason: `must be "requester" or "agent"`}
	}

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor == ActorAgent && req.AgentID == nil {
		return nil, &ValidationError{Field: "actor", Reason: "request has no matched agent"}
	}

	cancelled, prior, ok, err := s.store.Cancel(ctx, requestID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{Reason: ReasonStaleTransition, RequestID: requestID}
	}

	s.record(ctx, requestID, prior, StatusCancelled, actor)
	if err := s.notifier.RequestCancelled(ctx, cancelled, actor); err != nil {
		s.logger.Error("notification delivery failed",
			"event", "request:cancelled", "request_id", requestID, "error", err)
	}
	s.logger.Info("withdrawal request cancelled", "request_id", requestID, "by", actor)
	return cancelled, nil
}

// Sweep expires every PENDING or MATCHED request past its deadline and
// returns how many it moved. Safe to run from concurrent schedulers.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, e := range expired {
		s.record(ctx, e.ID, e.From, StatusExpired, ActorSystem)
	}
	if len(expired) > 0 {
		s.logger.Info("expired stale requests", "count", len(expired))
	}
	return len(expired), nil
}

// VerifyHandoffCode checks the code a requester presents at handoff.
// Missing or expired codes are a normal false outcome.
func (s *Service) VerifyHandoffCode(ctx context.Context, requestID, code string) (bool, error) {
	if _, err := s.store.Get(ctx, requestID); err != nil {
		return false, err
	}
	ok, err := s.codes.Verify(ctx, requestID, code)
	if err != nil {
		return false, fmt.Errorf("failed to verify handoff code: %w", err)
	}
	return ok, nil
}

func (s *Service) record(ctx context.Context, requestID string, from, to Status, actor Actor) {
	if err := s.journal.Record(ctx, requestID, from, to, actor); err != nil {
		s.logger.Error("transition journal write failed",
			"request_id", requestID, "from", from, "to", to, "error", err)
	}
}
