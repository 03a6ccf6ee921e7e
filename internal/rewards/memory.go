package rewards

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

type MemoryStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.RewardProof
	byToken map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*models.RewardProof),
		byToken: make(map[string]uuid.UUID),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(_ context.Context, p *models.RewardProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.byID[p.ID] = &cp
	m.byToken[p.Token] = p.ID
	return nil
}

func (m *MemoryStore) FindUnused(_ context.Context, token string, userID uuid.UUID) (*models.RewardProof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrProofNotFound
	}
	p := m.byID[id]
	if p.UserID != userID || p.Used {
		return nil, ErrProofNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Consume(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.Used || now.After(p.ExpiresAt) {
		return false, nil
	}
	p.Used = true
	return true, nil
}
