package rewards

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the signed payload of a reward proof.
type Claims struct {
	UserID    uuid.UUID
	TaskType  string
	ExpiresAt time.Time
	Nonce     string
}

// Signer produces and checks proof tokens.
type Signer interface {
	Sign(c Claims) (string, error)
	Verify(token string) (*Claims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	TaskType string `json:"task_type"`
}

// HMACSigner signs proofs as HS256 JWTs.
type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret string) (*HMACSigner, error) {
	if secret == "" {
		return nil, errors.New("reward signing secret is empty")
	}
	return &HMACSigner{secret: []byte(secret)}, nil
}

var _ Signer = (*HMACSigner)(nil)

func (s *HMACSigner) Sign(c Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			ID:        c.Nonce,
		},
		TaskType: c.TaskType,
	})
	return tok.SignedString(s.secret)
}

// Verify checks the signature only. Expiry is enforced by the caller against
// the stored record so that a single clock decides it.
func (s *HMACSigner) Verify(token string) (*Claims, error) {
	var c jwtClaims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("proof subject: %w", err)
	}
	out := &Claims{UserID: userID, TaskType: c.TaskType, Nonce: c.ID}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
