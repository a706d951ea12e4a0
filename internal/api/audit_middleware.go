package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/example/agentcash/internal/security"
)

// AuditMiddleware appends one hash-chained record per request after the
// handler finishes, so the recorded status is the one actually sent. Health
// probes are not audited; they would dominate the chain.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)

			a.Append(fmt.Sprintf("cid=%s remote=%s method=%s path=%s status=%d dur_ms=%d",
				security.CorrelationIDFromContext(r.Context()),
				r.RemoteAddr, r.Method, r.URL.Path, sw.status,
				time.Since(start).Milliseconds()))
		})
	}
}
