package rewards

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mochiface/backend/internal/middleware"
)

type IssueRequest struct {
	TaskType string `json:"task_type"`
}

type IssueResponse struct {
	Proof     string `json:"proof"`
	ExpiresIn int    `json:"expires_in"`
}

type RedeemRequest struct {
	Proof string `json:"proof"`
}

type RedeemResponse struct {
	Credited bool   `json:"credited"`
	Points   int64  `json:"points"`
	TaskType string `json:"task_type,omitempty"`
}

type Handler struct {
	svc Service
	ttl int
	log *slog.Logger
}

func NewHandler(svc Service, ttlSeconds int, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, ttl: ttlSeconds, log: log}
}

// Issue is called once the client reports a completed task.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	token, err := h.svc.IssueProof(r.Context(), userID, req.TaskType)
	if err != nil {
		if errors.Is(err, ErrUnknownTask) {
			http.Error(w, "unknown task type", http.StatusBadRequest)
			return
		}
		h.log.Error("issue reward proof failed", "user_id", userID, "error", err)
		http.Error(w, "issue proof failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(IssueResponse{Proof: token, ExpiresIn: h.ttl})
}

// Redeem always answers 200 for a well-formed request; credited reports
// whether the proof was accepted.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Proof == "" {
		http.Error(w, "proof is required", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Redeem(r.Context(), req.Proof, userID)
	if err != nil {
		h.log.Error("redeem reward failed", "user_id", userID, "error", err)
		http.Error(w, "redeem failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RedeemResponse{Credited: res.Credited, Points: res.Points, TaskType: res.TaskType})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tasks": Tasks()})
}
