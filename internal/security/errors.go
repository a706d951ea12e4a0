// Package security provides the middleware chain guarding the HTTP API:
// correlation IDs, IP allowlisting, Redis-backed rate limiting, body size
// caps, and JSON Schema validation of request payloads.
package security

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the wire shape of every error the API returns. Error is a
// stable machine-readable code; Detail, when present, is for humans.
type ErrorResponse struct {
	Error         string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteJSONError writes a bare error code.
func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorDetail(w, r, status, code, "")
}

// WriteJSONErrorDetail writes an error code together with a human-readable
// detail line.
func WriteJSONErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         code,
		Detail:        detail,
		CorrelationID: cid,
	})
}
