package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

type PostgresSubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionRepo(pool *pgxpool.Pool) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, customer_id, tier_id, status, cancel_at_period_end,
       start_date, expires_at, billing_interval, canceled_at, last_event_at`

func (r *PostgresSubscriptionRepo) Upsert(ctx context.Context, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  user_id=$2, customer_id=$3, tier_id=$4, status=$5, cancel_at_period_end=$6,
  start_date=$7, expires_at=$8, billing_interval=$9, canceled_at=$10, last_event_at=$11,
  updated_at=NOW();`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.UserID, s.CustomerID, s.TierID, string(s.Status), s.CancelAtPeriodEnd,
		s.StartDate.UTC(), s.ExpiresAt.UTC(), string(s.Interval), utcPtr(s.CanceledAt), utcPtr(s.LastEventAt),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", s.ID, mapError(err))
	}
	return nil
}

func (r *PostgresSubscriptionRepo) Update(ctx context.Context, id string, p model.SubscriptionPatch) error {
	sets := []string{"updated_at=NOW()"}
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.TierID != nil {
		add("tier_id", *p.TierID)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.CancelAtPeriodEnd != nil {
		add("cancel_at_period_end", *p.CancelAtPeriodEnd)
	}
	if p.StartDate != nil {
		add("start_date", p.StartDate.UTC())
	}
	if p.ExpiresAt != nil {
		add("expires_at", p.ExpiresAt.UTC())
	}
	if p.Interval != nil {
		add("billing_interval", string(*p.Interval))
	}
	if p.CanceledAtSet {
		add("canceled_at", utcPtr(p.CanceledAt))
	}
	if p.LastEventAt != nil {
		add("last_event_at", p.LastEventAt.UTC())
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id=$%d;`, strings.Join(sets, ", "), len(args))

	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1;`
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (r *PostgresSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id=$1
 ORDER BY expires_at DESC, start_date DESC;`
	return r.list(ctx, q, userID)
}

func (r *PostgresSubscriptionRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	live := make([]string, 0, len(model.LiveStatuses))
	for _, s := range model.LiveStatuses {
		live = append(live, string(s))
	}
	q := `SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status = ANY($1) AND expires_at < $2
 ORDER BY expires_at ASC
 LIMIT $3;`
	return r.list(ctx, q, live, cutoff.UTC(), limit)
}

func (r *PostgresSubscriptionRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	defer rows.Close()

	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.SubscriptionStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *PostgresSubscriptionRepo) list(ctx context.Context, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var (
		s                model.Subscription
		status, interval string
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.CustomerID, &s.TierID, &status, &s.CancelAtPeriodEnd,
		&s.StartDate, &s.ExpiresAt, &interval, &s.CanceledAt, &s.LastEventAt,
	); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	s.Interval = model.Interval(interval)
	s.StartDate = s.StartDate.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CanceledAt = utcPtr(s.CanceledAt)
	s.LastEventAt = utcPtr(s.LastEventAt)
	return &s, nil
}
