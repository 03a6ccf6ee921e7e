package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.GenerationJob
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.GenerationJob), now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(_ context.Context, j *models.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	j.CreatedAt, j.UpdatedAt = now, now
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.GenerationJob
	for _, j := range m.jobs {
		if j.UserID == userID {
			cp := *j
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.After(list[b].CreatedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemoryStore) Transition(_ context.Context, id uuid.UUID, from, to string, u Update) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	if u.ResultRef != nil {
		j.ResultRef = u.ResultRef
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = u.ErrorMessage
	}
	j.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) ListStale(_ context.Context, cutoff time.Time) ([]*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.GenerationJob
	for _, j := range m.jobs {
		if !j.Terminal() && j.CreatedAt.Before(cutoff) {
			cp := *j
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.Before(list[b].CreatedAt) })
	return list, nil
}

func (m *MemoryStore) DeleteTerminal(_ context.Context, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.UserID != userID || !j.Terminal() {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, userID uuid.UUID) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, j := range m.jobs {
		if j.UserID == userID {
			counts[j.Status]++
		}
	}
	return counts, nil
}
