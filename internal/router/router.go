package router

import (
	"net/http"

	"github.com/mochiface/backend/internal/auth"
	"github.com/mochiface/backend/internal/dashboard"
	"github.com/mochiface/backend/internal/generation"
	"github.com/mochiface/backend/internal/ledger"
	"github.com/mochiface/backend/internal/rewards"
	"github.com/mochiface/backend/internal/uploads"
	"github.com/mochiface/backend/internal/validation"
)

type Handlers struct {
	Auth       *auth.Handler
	Account    *dashboard.Handler
	Ledger     *ledger.Handler
	Rewards    *rewards.Handler
	Generation *generation.Handler
	Uploads    *uploads.Handler
}

// Middleware wraps a handler, e.g. middleware.RequireUser.
type Middleware func(http.Handler) http.Handler

type Middlewares struct {
	// RequireUser guards every per-user route.
	RequireUser Middleware
	// CreditCheck additionally guards generation creation.
	CreditCheck Middleware
	// Validate returns a middleware checking the body against a schema.
	Validate func(schema string) Middleware
}

// New returns an http.Handler that serves API under /api/v1.
func New(h Handlers, m Middlewares) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("POST "+base+"/auth/register", m.Validate(validation.RegisterRequest)(http.HandlerFunc(h.Auth.Register)))
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)
	mux.HandleFunc("POST "+base+"/auth/check-email", h.Auth.CheckEmail)
	mux.HandleFunc("GET "+base+"/styles", h.Generation.Styles)
	mux.HandleFunc("GET "+base+"/rewards/tasks", h.Rewards.ListTasks)

	user := func(f http.HandlerFunc) http.Handler { return m.RequireUser(f) }
	validUser := func(schema string, f http.HandlerFunc) http.Handler {
		return m.RequireUser(m.Validate(schema)(f))
	}

	mux.Handle("GET "+base+"/account/me", user(h.Account.GetMe))
	mux.Handle("PATCH "+base+"/account/settings", validUser(validation.AccountSettings, h.Account.UpdateSettings))

	mux.Handle("GET "+base+"/credits/me", user(h.Ledger.GetBalance))
	mux.Handle("GET "+base+"/credits/transactions", user(h.Ledger.ListTransactions))

	mux.Handle("POST "+base+"/rewards/proofs", validUser(validation.RewardProofRequest, h.Rewards.Issue))
	mux.Handle("POST "+base+"/rewards/redeem", validUser(validation.RewardRedeemRequest, h.Rewards.Redeem))

	mux.Handle("POST "+base+"/uploads", user(h.Uploads.Upload))

	mux.Handle("POST "+base+"/generations", m.RequireUser(
		m.Validate(validation.GenerationRequest)(m.CreditCheck(http.HandlerFunc(h.Generation.Create))),
	))
	mux.Handle("GET "+base+"/generations", user(h.Generation.List))
	mux.Handle("GET "+base+"/generations/{id}", user(h.Generation.Get))
	mux.Handle("DELETE "+base+"/generations/{id}", user(h.Generation.Delete))

	return mux
}
