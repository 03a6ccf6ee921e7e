package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// maxBody caps request bodies read by the body-inspecting middleware.
const maxBody = 64 << 10

// SchemaValidator checks a request body against a named JSON schema.
type SchemaValidator interface {
	Validate(ctx context.Context, name string, body []byte) error
}

// ValidateJSON hard-rejects request bodies that do not match schema, then
// replaces r.Body so downstream handlers can re-read it.
func ValidateJSON(v SchemaValidator, schema string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, ok := readBody(w, r)
			if !ok {
				return
			}
			if err := v.Validate(r.Context(), schema, bodyBytes); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// readBody reads at most maxBody bytes and restores r.Body. It writes the
// error response itself and reports false on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	r.Body.Close()
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return nil, false
	}
	if len(bodyBytes) > maxBody {
		http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
		return nil, false
	}
	// Restore body for the handler.
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	return bodyBytes, true
}
