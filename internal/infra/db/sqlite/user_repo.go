package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Save(ctx context.Context, u *model.User) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, is_student, current_tier, stripe_customer_id, had_trial, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, boolToInt(u.IsStudent), u.CurrentTier, u.StripeCustomerID, boolToInt(u.HadTrial),
		toUnix(u.CreatedAt), now,
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, mapError(err))
	}
	return nil
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var (
		u                 model.User
		student, hadTrial int
		created           int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, is_student, current_tier, stripe_customer_id, had_trial, created_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &student, &u.CurrentTier, &u.StripeCustomerID, &hadTrial, &created)
	if err != nil {
		return nil, mapError(err)
	}
	u.IsStudent = student != 0
	u.HadTrial = hadTrial != 0
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

func (r *UserRepo) UpdateBilling(ctx context.Context, id string, patch model.UserBillingPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Unix()}
	if patch.CurrentTier != nil {
		sets = append(sets, "current_tier = ?")
		args = append(args, *patch.CurrentTier)
	}
	if patch.StripeCustomerID != nil {
		sets = append(sets, "stripe_customer_id = ?")
		args = append(args, *patch.StripeCustomerID)
	}
	if patch.MarkHadTrial {
		sets = append(sets, "had_trial = 1")
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
