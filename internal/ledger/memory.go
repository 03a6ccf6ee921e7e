package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

// MemoryStore keeps balances in process. All operations hold one mutex, which
// gives the same no-double-spend guarantee as the conditional UPDATE.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*models.Balance
	log      []*models.CreditTransaction
	refs     map[refKey]struct{}
	now      func() time.Time
}

type refKey struct {
	user   uuid.UUID
	reason string
	ref    string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[uuid.UUID]*models.Balance),
		refs:     make(map[refKey]struct{}),
		now:      time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Open(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = &models.Balance{UserID: userID, UpdatedAt: m.now()}
	}
	return nil
}

func (m *MemoryStore) Balance(_ context.Context, userID uuid.UUID) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) Debit(_ context.Context, userID uuid.UUID, amount int64, reason, refID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok || b.Credits < amount {
		return false, nil
	}
	if err := m.appendLocked(userID, -amount, reason, refID); err != nil {
		return false, err
	}
	b.Credits -= amount
	b.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) Credit(_ context.Context, userID uuid.UUID, amount int64, reason, refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(userID, amount, reason, refID); err != nil {
		return err
	}
	b, ok := m.balances[userID]
	if !ok {
		b = &models.Balance{UserID: userID}
		m.balances[userID] = b
	}
	b.Credits += amount
	b.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) appendLocked(userID uuid.UUID, delta int64, reason, refID string) error {
	if refID != "" {
		k := refKey{user: userID, reason: reason, ref: refID}
		if _, dup := m.refs[k]; dup {
			return ErrDuplicateRef
		}
		m.refs[k] = struct{}{}
	}
	m.log = append(m.log, &models.CreditTransaction{
		ID:        uuid.New(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		RefID:     refID,
		CreatedAt: m.now(),
	})
	return nil
}

func (m *MemoryStore) Transactions(_ context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.CreditTransaction
	for i := len(m.log) - 1; i >= 0 && len(list) < limit; i-- {
		if m.log[i].UserID == userID {
			cp := *m.log[i]
			list = append(list, &cp)
		}
	}
	return list, nil
}
