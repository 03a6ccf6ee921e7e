package rewards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mochiface/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Insert(ctx context.Context, p *models.RewardProof) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reward_proofs (id, user_id, task_type, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.UserID, p.TaskType, p.Token, p.ExpiresAt, p.CreatedAt)
	return err
}

func (r *Repository) FindUnused(ctx context.Context, token string, userID uuid.UUID) (*models.RewardProof, error) {
	var p models.RewardProof
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, task_type, token, expires_at, used, created_at
		FROM reward_proofs
		WHERE token = $1 AND user_id = $2 AND used = false
	`, token, userID)
	err := row.Scan(&p.ID, &p.UserID, &p.TaskType, &p.Token, &p.ExpiresAt, &p.Used, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProofNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Consume is a compare-and-swap on used; of N concurrent callers exactly one
// sees a row affected.
func (r *Repository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE reward_proofs SET used = true, used_at = $2
		WHERE id = $1 AND used = false AND expires_at >= $2
	`, id, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}
