package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// CanTransition reports whether from -> to is an edge of the job state
// machine: queued -> running -> (success | failed).
func CanTransition(from, to string) bool {
	switch from {
	case models.JobQueued:
		return to == models.JobRunning
	case models.JobRunning:
		return to == models.JobSuccess || to == models.JobFailed
	default:
		return false
	}
}

// Update carries the fields written together with a status change.
type Update struct {
	ResultRef    *string
	ErrorMessage *string
}

// Store persists generation jobs. Transition is a conditional update: it
// applies only while the stored status still equals from, and reports
// whether it did.
type Store interface {
	Insert(ctx context.Context, j *models.GenerationJob) error
	Get(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error)
	Transition(ctx context.Context, id uuid.UUID, from, to string, u Update) (bool, error)
	// ListStale returns non-terminal jobs created before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.GenerationJob, error)
	// DeleteTerminal removes a finished job owned by userID and reports
	// whether a row was removed.
	DeleteTerminal(ctx context.Context, id, userID uuid.UUID) (bool, error)
	CountByStatus(ctx context.Context, userID uuid.UUID) (map[string]int, error)
}
