package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader carries the request correlation ID. Callers may supply
// their own; anything missing gets a fresh UUID so every log line and error
// body can be tied back to one request.
const CorrelationIDHeader = "X-Correlation-ID"

// Client-supplied IDs land in log lines and audit payloads, so anything
// oversized is replaced rather than trusted.
const maxCorrelationIDLen = 64

type correlationIDKey struct{}

// CorrelationID tags each request with a correlation ID and echoes it on the
// response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" || len(cid) > maxCorrelationIDLen {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDFromContext returns the correlation ID tagged onto ctx, or ""
// when the middleware never ran.
func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return s
	}
	return ""
}
