package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mochiface/backend/internal/models"
)

const tokenTTL = 24 * time.Hour

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid token")
)

// Store persists users. Lookups return ErrUserNotFound for unknown users.
type Store interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Registrar is implemented by stores that can create a user together with
// its credit account and signup grant atomically.
type Registrar interface {
	CreateWithCredits(ctx context.Context, u *models.User, bonus int64) error
}

// Accounts opens a credit account for a new user and grants the signup bonus.
type Accounts interface {
	Open(ctx context.Context, userID uuid.UUID) error
	Add(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error
}

type Service interface {
	Register(ctx context.Context, email, password, displayName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	EmailAvailable(ctx context.Context, email string) (bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) (*models.User, error)
}

type service struct {
	store       Store
	accounts    Accounts
	secret      []byte
	signupBonus int64
	log         *slog.Logger
}

func NewService(store Store, accounts Accounts, secret string, signupBonus int64, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, accounts: accounts, secret: []byte(secret), signupBonus: signupBonus, log: log}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
}

func (s *service) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if r, ok := s.store.(Registrar); ok {
		if err := r.CreateWithCredits(ctx, u, s.signupBonus); err != nil {
			return nil, err
		}
	} else if err := s.createWithCredits(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID, "signup_bonus", s.signupBonus)
	return u, nil
}

// createWithCredits runs the registration steps one by one and removes the
// user again if the credit account cannot be set up, so the email stays free.
func (s *service) createWithCredits(ctx context.Context, u *models.User) error {
	if err := s.store.Create(ctx, u); err != nil {
		return err
	}
	err := s.accounts.Open(ctx, u.ID)
	if err != nil {
		err = fmt.Errorf("open credit account: %w", err)
	} else if s.signupBonus > 0 {
		if err = s.accounts.Add(ctx, u.ID, s.signupBonus, models.ReasonSignupBonus, u.ID.String()); err != nil {
			err = fmt.Errorf("grant signup bonus: %w", err)
		}
	}
	if err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), u.ID); derr != nil {
			s.log.Error("remove half-registered user", "user_id", u.ID, "error", derr)
		}
		return err
	}
	return nil
}

// EmailAvailable reports whether email can still be registered.
func (s *service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	_, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, ErrUserNotFound):
		return true, nil
	case err != nil:
		return false, err
	}
	return false, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.store.GetByID(ctx, id)
}

func (s *service) UpdateDisplayName(ctx context.Context, id uuid.UUID, displayName string) (*models.User, error) {
	if err := s.store.UpdateDisplayName(ctx, id, strings.TrimSpace(displayName)); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
