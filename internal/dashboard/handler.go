package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/auth"
	"github.com/mochiface/backend/internal/ledger"
	"github.com/mochiface/backend/internal/middleware"
	"github.com/mochiface/backend/internal/models"
)

const recentLimit = 10

// Profiles is satisfied by auth.Service.
type Profiles interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) (*models.User, error)
}

type Credits interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type Jobs interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error)
	CountByStatus(ctx context.Context, userID uuid.UUID) (map[string]int, error)
}

type AccountResponse struct {
	ID                 string                      `json:"id"`
	Email              string                      `json:"email"`
	DisplayName        string                      `json:"display_name"`
	Credits            int64                       `json:"credits"`
	Generations        map[string]int              `json:"generations"`
	RecentTransactions []*models.CreditTransaction `json:"recent_transactions"`
	RecentJobs         []*models.GenerationJob     `json:"recent_jobs"`
	CreatedAt          time.Time                   `json:"created_at"`
}

type SettingsRequest struct {
	DisplayName string `json:"display_name"`
}

// Handler serves the signed-in user's account overview.
type Handler struct {
	profiles Profiles
	credits  Credits
	jobs     Jobs
	log      *slog.Logger
}

func NewHandler(profiles Profiles, credits Credits, jobs Jobs, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{profiles: profiles, credits: credits, jobs: jobs, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()
	u, err := h.profiles.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.log.Error("get account failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	balance, err := h.credits.GetBalance(ctx, userID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		h.log.Error("get balance failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	txs, err := h.credits.Transactions(ctx, userID, recentLimit)
	if err != nil {
		h.log.Error("list transactions failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jobs, err := h.jobs.ListByUser(ctx, userID, recentLimit)
	if err != nil {
		h.log.Error("list jobs failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	counts, err := h.jobs.CountByStatus(ctx, userID)
	if err != nil {
		h.log.Error("count jobs failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []*models.CreditTransaction{}
	}
	if jobs == nil {
		jobs = []*models.GenerationJob{}
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		ID:                 u.ID.String(),
		Email:              u.Email,
		DisplayName:        u.DisplayName,
		Credits:            balance,
		Generations:        counts,
		RecentTransactions: txs,
		RecentJobs:         jobs,
		CreatedAt:          u.CreatedAt,
	})
}

// PATCH /api/v1/account/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	u, err := h.profiles.UpdateDisplayName(r.Context(), userID, body.DisplayName)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.log.Error("update settings failed", "user_id", userID, "error", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, auth.UserResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	})
}
