package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/gateway"
	"github.com/example/agentcash/internal/geo"
	"github.com/example/agentcash/internal/ledger"
	"github.com/example/agentcash/internal/matching"
	"github.com/example/agentcash/internal/phone"
	"github.com/example/agentcash/internal/request"
	"github.com/example/agentcash/internal/security"
	"github.com/example/agentcash/pkg/audit"
)

func sampleRequest(id string, status request.Status) *request.Request {
	now := time.Now().UTC()
	return &request.Request{
		ID:          id,
		RequesterID: "bob",
		Amount:      500,
		Location:    geo.Point{Lat: 5.6037, Lng: -0.1870},
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(30 * time.Minute),
	}
}

type fakeRequests struct {
	createErr  error
	getErr     error
	acceptErr  error
	confirmErr error
	cancelErr  error
	verifyErr  error

	verifyValid bool
	createCalls int
	lastActor   request.Actor
	lastAgentID string
}

func (f *fakeRequests) Create(ctx context.Context, requesterID string, amount float64, location geo.Point) (*request.Request, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createCalls++
	req := sampleRequest("req-1", request.StatusPending)
	req.RequesterID = requesterID
	req.Amount = amount
	req.Location = location
	return req, nil
}

func (f *fakeRequests) Get(ctx context.Context, id string) (*request.Request, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return sampleRequest(id, request.StatusPending), nil
}

func (f *fakeRequests) Accept(ctx context.Context, requestID, agentID string) (*request.Request, error) {
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	f.lastAgentID = agentID
	req := sampleRequest(requestID, request.StatusMatched)
	req.AgentID = &agentID
	return req, nil
}

func (f *fakeRequests) Confirm(ctx context.Context, requestID string, actor request.Actor) (*request.Request, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.lastActor = actor
	return sampleRequest(requestID, request.StatusInProgress), nil
}

func (f *fakeRequests) Cancel(ctx context.Context, requestID string, actor request.Actor) (*request.Request, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.lastActor = actor
	return sampleRequest(requestID, request.StatusCancelled), nil
}

func (f *fakeRequests) VerifyHandoffCode(ctx context.Context, requestID, code string) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.verifyValid, nil
}

type fakeMatcher struct {
	err        error
	candidates []*matching.Candidate

	lastOrigin    geo.Point
	lastRadius    float64
	lastRequestID string
}

func (f *fakeMatcher) Nearby(ctx context.Context, origin geo.Point, radiusKm float64, requestID string) ([]*matching.Candidate, error) {
	f.lastOrigin = origin
	f.lastRadius = radiusKm
	f.lastRequestID = requestID
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeAPILedger struct {
	balance     float64
	balanceErr  error
	txs         []*ledger.Transaction
	txsErr      error
	sendErr     error
	depositErr  error
	withdrawErr error
}

func (f *fakeAPILedger) Balance(ctx context.Context, accountID string) (float64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeAPILedger) Transactions(ctx context.Context, accountID string, limit int) ([]*ledger.Transaction, error) {
	if f.txsErr != nil {
		return nil, f.txsErr
	}
	return f.txs, nil
}

func (f *fakeAPILedger) Send(ctx context.Context, fromID, toID string, amount float64) (*ledger.Transaction, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	now := time.Now().UTC()
	return &ledger.Transaction{
		ID:          "tx-1",
		FromParty:   &fromID,
		ToParty:     &toID,
		Amount:      amount,
		Type:        ledger.TypeSend,
		Status:      ledger.StatusCompleted,
		CreatedAt:   now,
		CompletedAt: &now,
	}, nil
}

func (f *fakeAPILedger) InitiateDeposit(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*ledger.Transaction, error) {
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	return &ledger.Transaction{ID: "tx-2", ToParty: &accountID, Amount: amount, Type: ledger.TypeDeposit, Status: ledger.StatusPending}, nil
}

func (f *fakeAPILedger) InitiateWithdrawal(ctx context.Context, accountID, rawPhone, networkCode string, amount float64) (*ledger.Transaction, error) {
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	return &ledger.Transaction{ID: "tx-3", FromParty: &accountID, Amount: amount, Type: ledger.TypeWithdrawal, Status: ledger.StatusPending}, nil
}

type auditSpy struct {
	payloads []string
}

func (a *auditSpy) Append(payload string) audit.Record {
	a.payloads = append(a.payloads, payload)
	return audit.Record{Payload: payload}
}

type testAPI struct {
	server   *httptest.Server
	requests *fakeRequests
	matcher  *fakeMatcher
	ledger   *fakeAPILedger
	audit    *auditSpy
	deps     Dependencies
}

func newTestAPI(t *testing.T, mutate func(*Dependencies)) *testAPI {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testAPI{
		requests: &fakeRequests{verifyValid: true},
		matcher:  &fakeMatcher{},
		ledger:   &fakeAPILedger{balance: 1200},
		audit:    &auditSpy{},
	}

	deps := Dependencies{
		Requests:     env.requests,
		Matcher:      env.matcher,
		Ledger:       env.ledger,
		Auditor:      env.audit,
		RateLimiter:  &security.RedisTokenBucket{Redis: rdb, Prefix: "test", Capacity: 100, RefillRate: 100},
		MaxBodyBytes: 1 << 20,
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.deps = deps

	h, err := NewRouter(deps)
	require.NoError(t, err)

	env.server = httptest.NewServer(h)
	t.Cleanup(env.server.Close)
	return env
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeErrorResponse(t *testing.T, resp *http.Response) security.ErrorResponse {
	t.Helper()
	var er security.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	return er
}

func TestHealthz(t *testing.T) {
	env := newTestAPI(t, nil)
	resp := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRequest(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/requests", map[string]any{
		"requester_id": "bob",
		"amount":       500,
		"lat":          5.6037,
		"lng":          -0.1870,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(security.CorrelationIDHeader))

	var body requestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "req-1", body.Request.ID)
	assert.Equal(t, "bob", body.Request.RequesterID)
	assert.NotEmpty(t, body.CorrelationID)
	assert.Equal(t, 1, env.requests.createCalls)
}

func TestCreateRequestSchemaRejected(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/requests", map[string]any{
		"requester_id": "bob",
		"lat":          5.6,
		"lng":          -0.18,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	er := decodeErrorResponse(t, resp)
	assert.Equal(t, "validation_error", er.Error)
	assert.Contains(t, er.Detail, "amount")
	assert.Equal(t, 0, env.requests.createCalls)
}

func TestDomainErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", &request.NotFoundError{Kind: "request", ID: "req-9"}, http.StatusNotFound, "not_found"},
		{"conflict", &request.ConflictError{Reason: request.ReasonAlreadyMatched, RequestID: "req-9"}, http.StatusConflict, "already_matched"},
		{"validation", &request.ValidationError{Field: "amount", Reason: "too large"}, http.StatusBadRequest, "validation_error"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestAPI(t, nil)
			env.requests.getErr = tt.err

			resp := env.do(t, http.MethodGet, "/v1/requests/req-9", nil)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decodeErrorResponse(t, resp).Error)
		})
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/requests/req-1/accept", map[string]any{"agent_id": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", env.requests.lastAgentID)

	resp = env.do(t, http.MethodPost, "/v1/requests/req-1/confirm", map[string]any{"actor": "agent"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, request.ActorAgent, env.requests.lastActor)

	resp = env.do(t, http.MethodPost, "/v1/requests/req-1/cancel", map[string]any{"actor": "requester"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, request.ActorRequester, env.requests.lastActor)
}

func TestConfirmRejectsUnknownActor(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/requests/req-1/confirm", map[string]any{"actor": "auditor"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decodeErrorResponse(t, resp).Error)
}

func TestVerifyCode(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/requests/req-1/verify-code", map[string]any{"code": "123456"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body verifyCodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Valid)
	assert.Equal(t, "req-1", body.RequestID)

	resp = env.do(t, http.MethodPost, "/v1/requests/req-1/verify-code", map[string]any{"code": "12"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentsNearby(t *testing.T) {
	env := newTestAPI(t, nil)
	env.matcher.candidates = []*matching.Candidate{
		{Agent: &directory.Account{ID: "alice", IsAgent: true}, DistanceKm: 1.2},
	}

	resp := env.do(t, http.MethodGet, "/v1/agents/nearby?lat=5.6&lng=-0.18&radius_km=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body nearbyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "alice", body.Agents[0].Agent.ID)
	assert.Equal(t, 10.0, env.matcher.lastRadius)
	assert.Equal(t, 5.6, env.matcher.lastOrigin.Lat)
}

func TestAgentsNearbyEmptyIsOK(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodGet, "/v1/agents/nearby?lat=5.6&lng=-0.18", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"agents":[]`)
}

func TestAgentsNearbyValidation(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodGet, "/v1/agents/nearby", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/agents/nearby?lat=95&lng=-0.18", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/agents/nearby?lat=5.6&lng=-0.18&radius_km=-2", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentsNearbyScopedToRequest(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodGet, "/v1/agents/nearby?request_id=req-7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-7", env.matcher.lastRequestID)

	env.matcher.err = &request.NotFoundError{Kind: "request", ID: "req-8"}
	resp = env.do(t, http.MethodGet, "/v1/agents/nearby?request_id=req-8", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBalance(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodGet, "/v1/accounts/bob/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body balanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "bob", body.AccountID)
	assert.Equal(t, 1200.0, body.Balance)

	env.ledger.balanceErr = &directory.NotFoundError{ID: "ghost"}
	resp = env.do(t, http.MethodGet, "/v1/accounts/ghost/balance", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransactions(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodGet, "/v1/accounts/bob/transactions?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"transactions":[]`)
}

func TestTransfer(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/transfers", map[string]any{"from": "bob", "to": "alice", "amount": 50})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body transactionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, ledger.TypeSend, body.Transaction.Type)

	resp = env.do(t, http.MethodPost, "/v1/transfers", map[string]any{"from": "bob", "to": "bob", "amount": 50})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.ledger.sendErr = &ledger.InsufficientBalanceError{AccountID: "bob", Balance: 10, Requested: 50}
	resp = env.do(t, http.MethodPost, "/v1/transfers", map[string]any{"from": "bob", "to": "alice", "amount": 50})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_balance", decodeErrorResponse(t, resp).Error)
}

func TestDepositAndWithdrawal(t *testing.T) {
	env := newTestAPI(t, nil)
	payload := map[string]any{"account_id": "bob", "phone": "0244123456", "network_code": "MTN", "amount": 200}

	resp := env.do(t, http.MethodPost, "/v1/deposits", payload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/withdrawals", payload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	env.ledger.depositErr = &gateway.GatewayError{Op: "initiate", Err: errors.New("connection refused")}
	resp = env.do(t, http.MethodPost, "/v1/deposits", payload)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "gateway_error", decodeErrorResponse(t, resp).Error)

	env.ledger.withdrawErr = &phone.InvalidNumberError{Raw: "junk", Reason: "contains non-digit characters"}
	resp = env.do(t, http.MethodPost, "/v1/withdrawals", payload)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decodeErrorResponse(t, resp).Error)
}

func TestRateLimitTrips(t *testing.T) {
	env := newTestAPI(t, func(deps *Dependencies) {
		deps.RateLimiter.Capacity = 1
		deps.RateLimiter.RefillRate = 0.0000001
	})

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestBodySizeLimitCaps(t *testing.T) {
	env := newTestAPI(t, func(deps *Dependencies) {
		deps.MaxBodyBytes = 32
	})

	resp := env.do(t, http.MethodPost, "/v1/requests", map[string]any{
		"requester_id": strings.Repeat("b", 64),
		"amount":       500,
		"lat":          5.6,
		"lng":          -0.18,
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "payload_too_large", decodeErrorResponse(t, resp).Error)
}

func TestAuditTrail(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/requests", map[string]any{
		"requester_id": "bob",
		"amount":       500,
		"lat":          5.6,
		"lng":          -0.18,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NotEmpty(t, env.audit.payloads)
	last := env.audit.payloads[len(env.audit.payloads)-1]
	assert.Contains(t, last, "method=POST")
	assert.Contains(t, last, "path=/v1/requests")
	assert.Contains(t, last, "status=201")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestAPI(t, nil)

	resp := env.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeErrorResponse(t, resp).Error)

	resp = env.do(t, http.MethodDelete, "/v1/requests/req-1", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
