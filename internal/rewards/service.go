package rewards

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mochiface/backend/internal/ledger"
	"github.com/mochiface/backend/internal/models"
)

var (
	// ErrProofInvalid covers expired, used, unknown and forged proofs alike.
	ErrProofInvalid  = errors.New("reward proof is invalid")
	ErrUnknownTask   = errors.New("unknown reward task")
	ErrProofNotFound = errors.New("reward proof not found")
)

const (
	DefaultProofTTL = 10 * time.Minute
	nonceSize       = 16
)

// Store persists issued proofs. Consume must flip used from false to true
// atomically and report whether this call did it.
type Store interface {
	Insert(ctx context.Context, p *models.RewardProof) error
	FindUnused(ctx context.Context, token string, userID uuid.UUID) (*models.RewardProof, error)
	Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// Crediter grants credits. Satisfied by ledger.Service.
type Crediter interface {
	Add(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error
}

type Redemption struct {
	Credited bool
	Points   int64
	TaskType string
}

type Service interface {
	IssueProof(ctx context.Context, userID uuid.UUID, taskType string) (string, error)
	VerifyProof(ctx context.Context, token string, userID uuid.UUID) (bool, error)
	Redeem(ctx context.Context, token string, userID uuid.UUID) (*Redemption, error)
}

type service struct {
	store   Store
	signer  Signer
	credits Crediter
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewService(store Store, signer Signer, credits Crediter, ttl time.Duration, log *slog.Logger) Service {
	return newService(store, signer, credits, ttl, log)
}

func newService(store Store, signer Signer, credits Crediter, ttl time.Duration, log *slog.Logger) *service {
	if ttl <= 0 {
		ttl = DefaultProofTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, signer: signer, credits: credits, ttl: ttl, now: time.Now, log: log}
}

var _ Service = (*service)(nil)

func (s *service) IssueProof(ctx context.Context, userID uuid.UUID, taskType string) (string, error) {
	if _, ok := LookupTask(taskType); !ok {
		return "", ErrUnknownTask
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)
	token, err := s.signer.Sign(Claims{
		UserID:    userID,
		TaskType:  taskType,
		ExpiresAt: expiresAt,
		Nonce:     hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	err = s.store.Insert(ctx, &models.RewardProof{
		ID:        uuid.New(),
		Token:     token,
		UserID:    userID,
		TaskType:  taskType,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("store proof: %w", err)
	}
	return token, nil
}

func (s *service) VerifyProof(ctx context.Context, token string, userID uuid.UUID) (bool, error) {
	p, err := s.check(ctx, token, userID)
	if err == nil {
		err = s.consume(ctx, p)
	}
	if errors.Is(err, ErrProofInvalid) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// check looks up the stored record, then expiry, then the signature. It does
// not mark the proof used.
func (s *service) check(ctx context.Context, token string, userID uuid.UUID) (*models.RewardProof, error) {
	p, err := s.store.FindUnused(ctx, token, userID)
	if errors.Is(err, ErrProofNotFound) {
		return nil, ErrProofInvalid
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(p.ExpiresAt) {
		return nil, ErrProofInvalid
	}
	claims, err := s.signer.Verify(token)
	if err != nil {
		s.log.Warn("reward proof signature rejected", "user_id", userID, "error", err)
		return nil, ErrProofInvalid
	}
	if claims.UserID != userID || claims.TaskType != p.TaskType {
		return nil, ErrProofInvalid
	}
	return p, nil
}

func (s *service) consume(ctx context.Context, p *models.RewardProof) error {
	ok, err := s.store.Consume(ctx, p.ID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrProofInvalid
	}
	return nil
}

// Redeem credits the task points before marking the proof used. The ledger
// records (user, reward_task, proof id) at most once, so a redemption that
// failed halfway can be retried with the same token.
func (s *service) Redeem(ctx context.Context, token string, userID uuid.UUID) (*Redemption, error) {
	p, err := s.check(ctx, token, userID)
	if errors.Is(err, ErrProofInvalid) {
		return &Redemption{}, nil
	}
	if err != nil {
		return nil, err
	}
	task, ok := LookupTask(p.TaskType)
	if !ok {
		s.log.Warn("reward proof for retired task", "user_id", userID, "task_type", p.TaskType)
		return &Redemption{}, nil
	}

	credited := true
	err = s.credits.Add(ctx, userID, task.Points, models.ReasonRewardTask, p.ID.String())
	switch {
	case errors.Is(err, ledger.ErrDuplicateRef):
		credited = false
	case err != nil:
		return nil, fmt.Errorf("credit reward %s: %w", p.ID, err)
	}
	if err := s.consume(ctx, p); err != nil && !errors.Is(err, ErrProofInvalid) {
		return nil, fmt.Errorf("mark proof %s used: %w", p.ID, err)
	}
	if !credited {
		return &Redemption{}, nil
	}
	s.log.Info("reward redeemed", "user_id", userID, "task_type", p.TaskType, "points", task.Points)
	return &Redemption{Credited: true, Points: task.Points, TaskType: p.TaskType}, nil
}
