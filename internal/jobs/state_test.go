package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

func TestCanTransition(t *testing.T) {
	all := []string{models.JobQueued, models.JobRunning, models.JobSuccess, models.JobFailed}
	allowed := map[[2]string]bool{
		{models.JobQueued, models.JobRunning}:  true,
		{models.JobRunning, models.JobSuccess}: true,
		{models.JobRunning, models.JobFailed}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]string{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func newQueuedJob(t *testing.T, s Store) *models.GenerationJob {
	t.Helper()
	j := &models.GenerationJob{ID: uuid.New(), UserID: uuid.New(), SourceRef: "src", Style: "anime", Status: models.JobQueued}
	if err := s.Insert(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func TestMemoryStore_ConditionalTransition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	j := newQueuedJob(t, s)

	ok, err := s.Transition(ctx, j.ID, models.JobQueued, models.JobRunning, Update{})
	if err != nil || !ok {
		t.Fatalf("queued->running: ok=%v err=%v", ok, err)
	}
	ok, _ = s.Transition(ctx, j.ID, models.JobQueued, models.JobRunning, Update{})
	if ok {
		t.Fatal("second queued->running must not apply")
	}

	msg := "boom"
	ok, _ = s.Transition(ctx, j.ID, models.JobRunning, models.JobFailed, Update{ErrorMessage: &msg})
	if !ok {
		t.Fatal("running->failed should apply")
	}

	// A late success must not resurrect a failed job.
	ref := "https://cdn/x.png"
	ok, _ = s.Transition(ctx, j.ID, models.JobRunning, models.JobSuccess, Update{ResultRef: &ref})
	if ok {
		t.Fatal("running->success applied to a failed job")
	}

	got, _ := s.Get(ctx, j.ID)
	if got.Status != models.JobFailed || got.ResultRef != nil || got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Fatalf("unexpected job state: %+v", got)
	}
}

func TestMemoryStore_RejectsInvalidEdges(t *testing.T) {
	s := NewMemoryStore()
	j := newQueuedJob(t, s)
	_, err := s.Transition(context.Background(), j.ID, models.JobQueued, models.JobSuccess, Update{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	if _, err := NewMemoryStore().Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListStale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	old := newQueuedJob(t, s)
	done := newQueuedJob(t, s)
	s.Transition(ctx, done.ID, models.JobQueued, models.JobRunning, Update{})
	s.Transition(ctx, done.ID, models.JobRunning, models.JobSuccess, Update{})

	s.now = func() time.Time { return base.Add(time.Hour) }
	newQueuedJob(t, s)

	stale, err := s.ListStale(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old queued job, got %+v", stale)
	}
}

func TestMemoryStore_DeleteTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	j := newQueuedJob(t, s)

	if ok, _ := s.DeleteTerminal(ctx, j.ID, j.UserID); ok {
		t.Fatal("queued job must not be deletable")
	}
	_, _ = s.Transition(ctx, j.ID, models.JobQueued, models.JobRunning, Update{})
	ref := "mem://b/x.png"
	_, _ = s.Transition(ctx, j.ID, models.JobRunning, models.JobSuccess, Update{ResultRef: &ref})

	if ok, _ := s.DeleteTerminal(ctx, j.ID, uuid.New()); ok {
		t.Fatal("foreign user must not delete the job")
	}
	counts, _ := s.CountByStatus(ctx, j.UserID)
	if counts[models.JobSuccess] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if ok, err := s.DeleteTerminal(ctx, j.ID, j.UserID); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, err := s.Get(ctx, j.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
