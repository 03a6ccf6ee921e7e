package generation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/jobs"
	"github.com/mochiface/backend/internal/middleware"
	"github.com/mochiface/backend/internal/models"
	"github.com/mochiface/backend/internal/provider"
)

// Service is what the HTTP layer needs from the orchestrator.
type Service interface {
	CreateAndDispatch(ctx context.Context, userID uuid.UUID, sourceRef, style string) (*models.GenerationJob, error)
	GetJobStatus(ctx context.Context, jobID, userID uuid.UUID) (*models.GenerationJob, error)
	ListJobs(ctx context.Context, userID uuid.UUID) ([]*models.GenerationJob, error)
	DeleteJob(ctx context.Context, jobID, userID uuid.UUID) error
}

var _ Service = (*Orchestrator)(nil)

type CreateRequest struct {
	SourceRef string `json:"source_ref"`
	Style     string `json:"style"`
}

type JobResponse struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Style        string    `json:"style"`
	SourceRef    string    `json:"source_ref"`
	ResultRef    *string   `json:"result_ref,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreditsSpent int64     `json:"credits_spent"`
	CreatedAt    time.Time `json:"created_at"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	job, err := h.svc.CreateAndDispatch(r.Context(), userID, req.SourceRef, req.Style)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientCredits):
			http.Error(w, "insufficient credits", http.StatusPaymentRequired)
		case errors.Is(err, ErrMissingSource), errors.Is(err, ErrUnknownStyle):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrQueueUnavailable):
			http.Error(w, "generation queue is busy, credits were refunded", http.StatusServiceUnavailable)
		default:
			h.log.Error("create generation failed", "user_id", userID, "error", err)
			http.Error(w, "create generation failed", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(jobToResponse(job))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetJobStatus(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.log.Error("get generation failed", "job_id", jobID, "error", err)
		http.Error(w, "get generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jobToResponse(job))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListJobs(r.Context(), userID)
	if err != nil {
		h.log.Error("list generations failed", "user_id", userID, "error", err)
		http.Error(w, "list generations failed", http.StatusInternalServerError)
		return
	}
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToResponse(j))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	if err := h.svc.DeleteJob(r.Context(), jobID, userID); err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, ErrJobActive):
			http.Error(w, "job is still in progress", http.StatusConflict)
		default:
			h.log.Error("delete generation failed", "job_id", jobID, "error", err)
			http.Error(w, "delete generation failed", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Styles lists the style catalogue. No authentication required.
func (h *Handler) Styles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"styles": provider.Styles()})
}

func jobToResponse(j *models.GenerationJob) JobResponse {
	return JobResponse{
		JobID:        j.ID.String(),
		Status:       j.Status,
		Style:        j.Style,
		SourceRef:    j.SourceRef,
		ResultRef:    j.ResultRef,
		ErrorMessage: j.ErrorMessage,
		CreditsSpent: j.CreditsSpent,
		CreatedAt:    j.CreatedAt,
	}
}
