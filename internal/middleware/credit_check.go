package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// BalanceReader reports a user's current credit balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

type peekedRequest struct {
	SourceRef string `json:"source_ref"`
	Style     string `json:"style"`
}

// CreditCheck rejects generation requests early when the style is unknown or
// the user cannot afford cost. It reads the body to extract "style", then
// replaces r.Body so downstream handlers can re-read it. The orchestrator's
// conditional deduction remains the authoritative check.
func CreditCheck(balances BalanceReader, knownStyle func(string) bool, cost int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserFromCtx(r.Context())
			if !ok {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, ok := readBody(w, r)
			if !ok {
				return
			}

			var peek peekedRequest
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if peek.Style != "" && !knownStyle(peek.Style) {
				http.Error(w, fmt.Sprintf(`{"error":"style %q is not supported"}`, peek.Style), http.StatusBadRequest)
				return
			}

			bal, err := balances.GetBalance(r.Context(), userID)
			if err != nil {
				http.Error(w, `{"error":"failed to check balance"}`, http.StatusInternalServerError)
				return
			}
			if bal < cost {
				http.Error(w, fmt.Sprintf(`{"error":"balance %d is below generation cost %d"}`, bal, cost), http.StatusPaymentRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
