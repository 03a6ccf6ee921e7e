package jobs

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

const jobColumns = `id, user_id, source_ref, style, status, result_ref, error_message, credits_spent, created_at, updated_at`

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.UserID, &j.SourceRef, &j.Style, &j.Status, &j.ResultRef, &j.ErrorMessage,
		&j.CreditsSpent, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) Insert(ctx context.Context, j *models.GenerationJob) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO generation_jobs (id, user_id, source_ref, style, status, credits_spent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, j.ID, j.UserID, j.SourceRef, j.Style, j.Status, j.CreditsSpent)
	return row.Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to string, u Update) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrInvalidTransition
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $3,
			result_ref = COALESCE($4, result_ref),
			error_message = COALESCE($5, error_message),
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to, u.ResultRef, u.ErrorMessage)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE status IN ('queued', 'running') AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func (r *Repository) DeleteTerminal(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM generation_jobs
		WHERE id = $1 AND user_id = $2 AND status IN ('success', 'failed')
	`, id, userID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *Repository) CountByStatus(ctx context.Context, userID uuid.UUID) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM generation_jobs
		WHERE user_id = $1 GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
