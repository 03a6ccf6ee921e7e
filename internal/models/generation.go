package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation job statuses.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobSuccess = "success"
	JobFailed  = "failed"
)

type GenerationJob struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	SourceRef    string    `json:"source_ref"`
	Style        string    `json:"style"`
	Status       string    `json:"status"`
	ResultRef    *string   `json:"result_ref,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreditsSpent int64     `json:"credits_spent"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Terminal reports whether the job can no longer change status.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobSuccess || j.Status == JobFailed
}
