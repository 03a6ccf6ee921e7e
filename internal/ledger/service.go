package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/models"
)

var (
	// ErrNotFound is returned by GetBalance for a user without a balance row.
	ErrNotFound = errors.New("balance not found")
	// ErrInsufficientCredits is the user-facing error for a failed deduction.
	// Deduct itself reports insufficiency as false, callers map it to this.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDuplicateRef is returned when (user, reason, ref_id) was already recorded.
	ErrDuplicateRef = errors.New("credit transaction already recorded for reference")

	ErrInvalidAmount = errors.New("amount must be positive")
)

// Store persists balances and their transaction log. Every balance change
// must be written together with exactly one transaction row.
type Store interface {
	Open(ctx context.Context, userID uuid.UUID) error
	Balance(ctx context.Context, userID uuid.UUID) (*models.Balance, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) (bool, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type Service interface {
	Open(ctx context.Context, userID uuid.UUID) error
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	// Deduct returns false, with no side effect, when the balance is lower
	// than amount.
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) (bool, error)
	Add(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) Open(ctx context.Context, userID uuid.UUID) error {
	return s.store.Open(ctx, userID)
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	b, err := s.store.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.Credits, nil
}

func (s *service) Deduct(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	ok, err := s.store.Debit(ctx, userID, amount, reason, refID)
	if err != nil {
		return false, fmt.Errorf("deduct %d credits (%s): %w", amount, reason, err)
	}
	return ok, nil
}

func (s *service) Add(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := s.store.Credit(ctx, userID, amount, reason, refID); err != nil {
		return fmt.Errorf("add %d credits (%s): %w", amount, reason, err)
	}
	return nil
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Transactions(ctx, userID, limit)
}
