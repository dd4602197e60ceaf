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

var _ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, customer_id, tier_id, status, cancel_at_period_end,
	start_date, expires_at, billing_interval, canceled_at, last_event_at`

func (r *SubscriptionRepo) Upsert(ctx context.Context, s *model.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			customer_id = excluded.customer_id,
			tier_id = excluded.tier_id,
			status = excluded.status,
			cancel_at_period_end = excluded.cancel_at_period_end,
			start_date = excluded.start_date,
			expires_at = excluded.expires_at,
			billing_interval = excluded.billing_interval,
			canceled_at = excluded.canceled_at,
			last_event_at = excluded.last_event_at,
			updated_at = excluded.updated_at`,
		s.ID, s.UserID, s.CustomerID, s.TierID, string(s.Status), boolToInt(s.CancelAtPeriodEnd),
		toUnix(s.StartDate), toUnix(s.ExpiresAt), string(s.Interval),
		nullableUnix(s.CanceledAt), nullableUnix(s.LastEventAt), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", s.ID, mapError(err))
	}
	return nil
}

func (r *SubscriptionRepo) Update(ctx context.Context, id string, p model.SubscriptionPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Unix()}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.TierID != nil {
		add("tier_id", *p.TierID)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.CancelAtPeriodEnd != nil {
		add("cancel_at_period_end", boolToInt(*p.CancelAtPeriodEnd))
	}
	if p.StartDate != nil {
		add("start_date", toUnix(*p.StartDate))
	}
	if p.ExpiresAt != nil {
		add("expires_at", toUnix(*p.ExpiresAt))
	}
	if p.Interval != nil {
		add("billing_interval", string(*p.Interval))
	}
	if p.CanceledAtSet {
		add("canceled_at", nullableUnix(p.CanceledAt))
	}
	if p.LastEventAt != nil {
		add("last_event_at", toUnix(*p.LastEventAt))
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	s, err := scanSubscription(row)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (r *SubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = ? ORDER BY expires_at DESC, start_date DESC`, userID)
}

func (r *SubscriptionRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	marks := make([]string, 0, len(model.LiveStatuses))
	args := make([]interface{}, 0, len(model.LiveStatuses)+2)
	for _, s := range model.LiveStatuses {
		marks = append(marks, "?")
		args = append(args, string(s))
	}
	args = append(args, toUnix(cutoff), limit)
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN (`+strings.Join(marks, ", ")+`) AND expires_at < ?
		ORDER BY expires_at ASC LIMIT ?`, args...)
}

func (r *SubscriptionRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
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

func (r *SubscriptionRepo) list(ctx context.Context, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
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
		s                     model.Subscription
		status, interval      string
		cancelAtEnd           int
		start, expires        int64
		canceledAt, lastEvent sql.NullInt64
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.CustomerID, &s.TierID, &status, &cancelAtEnd,
		&start, &expires, &interval, &canceledAt, &lastEvent,
	); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	s.Interval = model.Interval(interval)
	s.CancelAtPeriodEnd = cancelAtEnd != 0
	s.StartDate = fromUnix(start)
	s.ExpiresAt = fromUnix(expires)
	s.CanceledAt = fromNullUnix(canceledAt)
	s.LastEventAt = fromNullUnix(lastEvent)
	return &s, nil
}
