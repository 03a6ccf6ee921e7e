package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

func (r *Repository) Open(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credit_balances (user_id, credits) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

// OpenTx opens the account for userID inside tx and, when amount is positive,
// grants it as the first transaction.
func OpenTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, reason, refID string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_balances (user_id, credits) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, amount)
	if err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	return insertTransaction(ctx, tx, userID, amount, reason, refID)
}

func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	b := models.Balance{UserID: userID}
	row := r.pool.QueryRow(ctx, `SELECT credits, updated_at FROM credit_balances WHERE user_id = $1`, userID)
	if err := row.Scan(&b.Credits, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Debit decrements the balance with a single conditional UPDATE, so two
// concurrent debits can never both succeed past zero. The transaction row is
// written in the same database transaction.
func (r *Repository) Debit(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE credit_balances
		SET credits = credits - $1, updated_at = now()
		WHERE user_id = $2 AND credits >= $1
	`, amount, userID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertTransaction(ctx, tx, userID, -amount, reason, refID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) Credit(ctx context.Context, userID uuid.UUID, amount int64, reason, refID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_balances (user_id, credits) VALUES ($2, $1)
		ON CONFLICT (user_id) DO UPDATE
		SET credits = credit_balances.credits + EXCLUDED.credits, updated_at = now()
	`, amount, userID)
	if err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, userID, amount, reason, refID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertTransaction(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64, reason, refID string) error {
	var ref *string
	if refID != "" {
		ref = &refID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, delta, reason, ref_id)
		VALUES ($1, $2, $3, $4)
	`, userID, delta, reason, ref)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateRef
	}
	return err
}

func (r *Repository) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, reason, COALESCE(ref_id, ''), created_at
		FROM credit_transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.Reason, &t.RefID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
