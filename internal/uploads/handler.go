package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/middleware"
	"github.com/mochiface/backend/internal/provider"
)

// formField is the multipart field carrying the image.
const formField = "file"

type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type UploadResponse struct {
	SourceRef   string `json:"source_ref"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Handler accepts source images and stores them under uploads/<user id>/.
// The returned source_ref is what a generation request refers to.
type Handler struct {
	store    Uploader
	maxBytes int64
	log      *slog.Logger
}

func NewHandler(store Uploader, maxBytes int64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, maxBytes: maxBytes, log: log}
}

// POST /api/v1/uploads
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+64<<10)
	file, _, err := r.FormFile(formField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("image exceeds %d bytes", h.maxBytes), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "no file selected", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		http.Error(w, "read upload failed", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > h.maxBytes {
		http.Error(w, fmt.Sprintf("image exceeds %d bytes", h.maxBytes), http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty file", http.StatusBadRequest)
		return
	}
	contentType, ok := provider.AcceptedMIME(data)
	if !ok {
		http.Error(w, "unsupported image type "+contentType, http.StatusUnsupportedMediaType)
		return
	}

	key := fmt.Sprintf("uploads/%s/%s.%s", userID, uuid.NewString(), provider.Extension(contentType))
	ref, err := h.store.Upload(r.Context(), key, data, contentType)
	if err != nil {
		h.log.Error("store upload failed", "user_id", userID, "key", key, "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("source image uploaded", "user_id", userID, "key", key, "bytes", len(data))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(UploadResponse{SourceRef: ref, ContentType: contentType, Size: len(data)})
}
