// Package api exposes the withdrawal-request lifecycle, proximity search,
// and ledger operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/agentcash/internal/geo"
	"github.com/example/agentcash/internal/ledger"
	"github.com/example/agentcash/internal/matching"
	"github.com/example/agentcash/internal/request"
	"github.com/example/agentcash/internal/security"
	"github.com/example/agentcash/pkg/audit"
)

// Auditor appends one tamper-evident record per served request.
type Auditor interface {
	Append(payload string) audit.Record
}

// Dependencies carries everything the router serves from. Narrow inline
// interfaces keep handlers testable without the real services.
type Dependencies struct {
	Logger *slog.Logger

	Requests interface {
		Create(ctx context.Context, requesterID string, amount float64, location geo.Point) (*request.Request, error)
		Get(ctx context.Context, id string) (*request.Request, error)
		Accept(ctx context.Context, requestID, agentID string) (*request.Request, error)
		Confirm(ctx context.Context, requestID string, actor request.Actor) (*request.Request, error)
		Cancel(ctx context.Context, requestID string, actor request.Actor) (*request.Request, error)
		VerifyHandoffCode(ctx context.Context, requestID, code string) (bool, error)
	}

	Matcher interface {
		Nearby(ctx context.Context, origin geo.Point, radiusKm float64, requestID string) ([]*matching.Candidate, error)
	}

	Ledger interface {
		Balance(ctx context.Context, accountID string) (float64, error)
		Transactions(ctx context.Context, accountID string, limit int) ([]*ledger.Transaction, error)
		Send(ctx context.Context, fromID, toID string, amount float64) (*ledger.Transaction, error)
		InitiateDeposit(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*ledger.Transaction, error)
		InitiateWithdrawal(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*ledger.Transaction, error)
	}

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var verr error
	compile := func(schema string) *security.JSONSchemaValidator {
		v, err := security.NewJSONSchemaValidator(schema)
		if err != nil && verr == nil {
			verr = err
		}
		return v
	}

	createV := compile(createRequestSchema)
	acceptV := compile(acceptSchema)
	actorV := compile(actorSchema)
	verifyCodeV := compile(verifyCodeSchema)
	transferV := compile(transferSchema)
	gatewayV := compile(gatewayTransactionSchema)
	if verr != nil {
		return nil, verr
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(createV.Middleware).Post("/requests", handleCreateRequest(deps))
		r.Get("/requests/{request_id}", handleGetRequest(deps))
		r.With(acceptV.Middleware).Post("/requests/{request_id}/accept", handleAcceptRequest(deps))
		r.With(actorV.Middleware).Post("/requests/{request_id}/confirm", handleConfirmRequest(deps))
		r.With(actorV.Middleware).Post("/requests/{request_id}/cancel", handleCancelRequest(deps))
		r.With(verifyCodeV.Middleware).Post("/requests/{request_id}/verify-code", handleVerifyCode(deps))

		r.Get("/agents/nearby", handleAgentsNearby(deps))

		r.Get("/accounts/{account_id}/balance", handleBalance(deps))
		r.Get("/accounts/{account_id}/transactions", handleTransactions(deps))

		r.With(transferV.Middleware).Post("/transfers", handleTransfer(deps))
		r.With(gatewayV.Middleware).Post("/deposits", handleDeposit(deps))
		r.With(gatewayV.Middleware).Post("/withdrawals", handleWithdrawal(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
