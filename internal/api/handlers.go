package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/gateway"
	"github.com/example/agentcash/internal/geo"
	"github.com/example/agentcash/internal/ledger"
	"github.com/example/agentcash/internal/matching"
	"github.com/example/agentcash/internal/phone"
	"github.com/example/agentcash/internal/request"
	"github.com/example/agentcash/internal/security"
)

type createRequestBody struct {
	RequesterID string  `json:"requester_id"`
	Amount      float64 `json:"amount"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

type acceptBody struct {
	AgentID string `json:"agent_id"`
}

type actorBody struct {
	Actor string `json:"actor"`
}

type verifyCodeBody struct {
	Code string `json:"code"`
}

type transferBody struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

type gatewayTransactionBody struct {
	AccountID   string  `json:"account_id"`
	Phone       string  `json:"phone"`
	NetworkCode string  `json:"network_code"`
	Amount      float64 `json:"amount"`
}

type requestResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Request       *request.Request `json:"request"`
}

type verifyCodeResponse struct {
	CorrelationID string `json:"correlation_id"`
	RequestID     string `json:"request_id"`
	Valid         bool   `json:"valid"`
}

type nearbyResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Agents        []*matching.Candidate `json:"agents"`
}

type balanceResponse struct {
	CorrelationID string  `json:"correlation_id"`
	AccountID     string  `json:"account_id"`
	Balance       float64 `json:"balance"`
}

type transactionsResponse struct {
	CorrelationID string                `json:"correlation_id"`
	AccountID     string                `json:"account_id"`
	Transactions  []*ledger.Transaction `json:"transactions"`
}

type transactionResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Transaction   *ledger.Transaction `json:"transaction"`
}

// writeDomainError translates service errors into stable HTTP codes:
// validation 400, missing 404, conflicts 409, gateway trouble 502.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *request.ValidationError
		conflict     *request.ConflictError
		notFound     *request.NotFoundError
		acctNotFound *directory.NotFoundError
		txNotFound   *ledger.NotFoundError
		insufficient *ledger.InsufficientBalanceError
		badNumber    *phone.InvalidNumberError
		gatewayErr   *gateway.GatewayError
	)

	switch {
	case errors.As(err, &validation):
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", validation.Error())
	case errors.As(err, &badNumber):
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", badNumber.Error())
	case errors.As(err, &conflict):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, conflict.Reason, conflict.Error())
	case errors.As(err, &insufficient):
		security.WriteJSONErrorDetail(w, r, http.StatusConflict, "insufficient_balance", insufficient.Error())
	case errors.As(err, &notFound), errors.As(err, &acctNotFound), errors.As(err, &txNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	case errors.As(err, &gatewayErr):
		security.WriteJSONError(w, r, http.StatusBadGateway, "gateway_error")
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func handleCreateRequest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Requests == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "requests_unavailable")
			return
		}

		var body createRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		req, err := deps.Requests.Create(r.Context(), body.RequesterID, body.Amount, geo.Point{Lat: body.Lat, Lng: body.Lng})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleGetRequest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Requests == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "requests_unavailable")
			return
		}

		req, err := deps.Requests.Get(r.Context(), chi.URLParam(r, "request_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleAcceptRequest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Requests == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "requests_unavailable")
			return
		}

		var body acceptBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		req, err := deps.Requests.Accept(r.Context(), chi.URLParam(r, "request_id"), body.AgentID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleConfirmRequest(deps Dependencies) http.HandlerFunc {
	return handleActorTransition(deps, func(deps Dependencies) actorTransition {
		return deps.Requests.Confirm
	})
}

func handleCancelRequest(deps Dependencies) http.HandlerFunc {
	return handleActorTransition(deps, func(deps Dependencies) actorTransition {
		return deps.Requests.Cancel
	})
}

type actorTransition func(ctx context.Context, requestID string, actor request.Actor) (*request.Request, error)

func handleActorTransition(deps Dependencies, pick func(Dependencies) actorTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Requests == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "requests_unavailable")
			return
		}

		var body actorBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		req, err := pick(deps)(r.Context(), chi.URLParam(r, "request_id"), request.Actor(body.Actor))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleVerifyCode(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Requests == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "requests_unavailable")
			return
		}

		var body verifyCodeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		requestID := chi.URLParam(r, "request_id")
		valid, err := deps.Requests.VerifyHandoffCode(r.Context(), requestID, body.Code)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, verifyCodeResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			RequestID:     requestID,
			Valid:         valid,
		})
	}
}

func handleAgentsNearby(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Matcher == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "matching_unavailable")
			return
		}

		q := r.URL.Query()
		requestID := q.Get("request_id")

		var origin geo.Point
		if requestID == "" {
			lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
			lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
			if errLat != nil || errLng != nil {
				security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", "lat and lng are required without request_id")
				return
			}
			origin = geo.Point{Lat: lat, Lng: lng}
			if !origin.Valid() {
				security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", "coordinates out of range")
				return
			}
		}

		var radius float64
		if v := q.Get("radius_km"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 {
				security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", "radius_km must be a positive number")
				return
			}
			radius = f
		}

		agents, err := deps.Matcher.Nearby(r.Context(), origin, radius, requestID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if agents == nil {
			agents = []*matching.Candidate{}
		}

		writeJSON(w, http.StatusOK, nearbyResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Agents:        agents,
		})
	}
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		accountID := chi.URLParam(r, "account_id")
		balance, err := deps.Ledger.Balance(r.Context(), accountID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Balance:       balance,
		})
	}
}

func handleTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				limit = i
			}
		}

		accountID := chi.URLParam(r, "account_id")
		txs, err := deps.Ledger.Transactions(r.Context(), accountID, limit)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if txs == nil {
			txs = []*ledger.Transaction{}
		}

		writeJSON(w, http.StatusOK, transactionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Transactions:  txs,
		})
	}
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		var body transferBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
		if body.From == body.To {
			security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error", "sender and recipient must differ")
			return
		}

		tx, err := deps.Ledger.Send(r.Context(), body.From, body.To, body.Amount)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, transactionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transaction:   tx,
		})
	}
}

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return handleGatewayTransaction(deps, func(deps Dependencies) gatewayInitiate {
		return deps.Ledger.InitiateDeposit
	})
}

func handleWithdrawal(deps Dependencies) http.HandlerFunc {
	return handleGatewayTransaction(deps, func(deps Dependencies) gatewayInitiate {
		return deps.Ledger.InitiateWithdrawal
	})
}

type gatewayInitiate func(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*ledger.Transaction, error)

// Gateway-backed transactions come back 202: the money is still moving when
// the response leaves.
func handleGatewayTransaction(deps Dependencies, pick func(Dependencies) gatewayInitiate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ledger == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
			return
		}

		var body gatewayTransactionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		tx, err := pick(deps)(r.Context(), body.AccountID, body.Phone, body.NetworkCode, body.Amount)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusAccepted, transactionResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transaction:   tx,
		})
	}
}
