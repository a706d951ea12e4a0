package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as the response body. The correlation ID header is
// already set by the middleware; response structs repeat the ID in the body
// for clients that persist payloads without headers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
