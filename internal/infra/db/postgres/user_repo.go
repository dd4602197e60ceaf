package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, is_student, current_tier, stripe_customer_id, had_trial, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := r.pool.Exec(ctx, q, u.ID, u.Email, u.IsStudent, u.CurrentTier, u.StripeCustomerID, u.HadTrial, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, mapError(err))
	}
	return nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	const q = `
SELECT id, email, is_student, current_tier, stripe_customer_id, had_trial, created_at
  FROM users WHERE id=$1;`
	var u model.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.IsStudent, &u.CurrentTier, &u.StripeCustomerID, &u.HadTrial, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (r *PostgresUserRepo) UpdateBilling(ctx context.Context, id string, patch model.UserBillingPatch) error {
	sets := []string{"updated_at=NOW()"}
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.CurrentTier != nil {
		add("current_tier", *patch.CurrentTier)
	}
	if patch.StripeCustomerID != nil {
		add("stripe_customer_id", *patch.StripeCustomerID)
	}
	if patch.MarkHadTrial {
		sets = append(sets, "had_trial=TRUE")
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE id=$%d;`, strings.Join(sets, ", "), len(args))

	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
