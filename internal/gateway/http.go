package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPClient implements Client against the processor's REST API. All calls
// go through a circuit breaker so a dead processor fails fast instead of
// tying up handler goroutines.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    2 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.5)
		},
	}

	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Initiate starts a movement and returns the processor transaction id.
func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &GatewayError{Op: "initiate", Err: err}
	}

	code, body, err := c.do(ctx, http.MethodPost, "/payments", payload)
	if err != nil {
		return nil, &GatewayError{Op: "initiate", Err: err}
	}
	if code != http.StatusOK && code != http.StatusCreated {
		return nil, &GatewayError{Op: "initiate", StatusCode: code, Err: errors.New(snippet(body))}
	}

	var out InitiateResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{Op: "initiate", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if out.TransactionID == "" {
		return nil, &GatewayError{Op: "initiate", Err: errors.New("response carried no transaction id")}
	}
	return &out, nil
}

// Status asks for the current state of a previously initiated movement.
func (c *HTTPClient) Status(ctx context.Context, transactionID string) (*StatusResult, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/payments/"+transactionID, nil)
	if err != nil {
		return nil, &GatewayError{Op: "status", Err: err}
	}
	if code == http.StatusNotFound {
		return nil, &GatewayError{Op: "status", StatusCode: code, Err: fmt.Errorf("transaction %s unknown to processor", transactionID)}
	}
	if code != http.StatusOK {
		return nil, &GatewayError{Op: "status", StatusCode: code, Err: errors.New(snippet(body))}
	}

	var out StatusResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{Op: "status", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &out, nil
}

type httpResult struct {
	code int
	body []byte
}

// do executes one request through the breaker. Processor 5xx answers and
// transport errors count against the breaker; 4xx answers do not, they are
// the caller's problem.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("processor returned %d: %s", resp.StatusCode, snippet(body))
		}
		return httpResult{code: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return 0, nil, err
	}

	out := res.(httpResult)
	return out.code, out.body, nil
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(bytes.TrimSpace(body))
}
