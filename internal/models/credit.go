package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction reasons.
const (
	ReasonSignupBonus     = "signup_bonus"
	ReasonRewardTask      = "reward_task"
	ReasonImageGeneration = "image_generation"
	ReasonRefund          = "refund"
)

type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Credits   int64     `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is one append-only ledger row. Delta is negative for
// deductions and positive for grants.
type CreditTransaction struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	RefID     string    `json:"ref_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
