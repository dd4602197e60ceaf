//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/usecase"
)

func TestProfileUseCase_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a student on first sight", func(t *testing.T) {
		// --- Arrange ---
		users, subs := NewMockUserRepo(), NewMockSubscriptionRepo()
		uc := usecase.NewProfileUseCase(users, subs, newTestLogger())

		// --- Act ---
		p, err := uc.GetOrCreate(ctx, "u1", "ada@cs.stanford.edu")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !p.User.IsStudent || p.User.CurrentTier != model.TierBasic {
			t.Errorf("unexpected user %+v", p.User)
		}
		if _, err := users.FindByID(ctx, "u1"); err != nil {
			t.Errorf("expected the user persisted, got %v", err)
		}
	})

	t.Run("should return existing user with subscriptions", func(t *testing.T) {
		users, subs := NewMockUserRepo(), NewMockSubscriptionRepo()
		_ = users.Save(ctx, &model.User{ID: "u1", Email: "u1@example.com", CurrentTier: "pro-monthly"})
		_ = subs.Upsert(ctx, &model.Subscription{ID: "sub_1", UserID: "u1"})
		uc := usecase.NewProfileUseCase(users, subs, newTestLogger())

		p, err := uc.GetOrCreate(ctx, "u1", "other@example.com")

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.User.Email != "u1@example.com" || len(p.Subscriptions) != 1 {
			t.Errorf("unexpected profile %+v", p)
		}
	})

	t.Run("should recover from a concurrent create", func(t *testing.T) {
		users, subs := NewMockUserRepo(), NewMockSubscriptionRepo()
		existing := &model.User{ID: "u1", Email: "u1@example.com"}
		calls := 0
		users.FindByIDFunc = func(ctx context.Context, id string) (*model.User, error) {
			calls++
			if calls == 1 {
				return nil, domain.ErrNotFound
			}
			return existing, nil
		}
		users.SaveFunc = func(ctx context.Context, u *model.User) error { return domain.ErrAlreadyExists }
		uc := usecase.NewProfileUseCase(users, subs, newTestLogger())

		p, err := uc.GetOrCreate(ctx, "u1", "u1@example.com")

		if err != nil || p.User != existing {
			t.Errorf("expected the concurrently created user, got %+v, %v", p, err)
		}
	})

	t.Run("should reject an invalid email", func(t *testing.T) {
		uc := usecase.NewProfileUseCase(NewMockUserRepo(), NewMockSubscriptionRepo(), newTestLogger())
		if _, err := uc.GetOrCreate(ctx, "u1", "nope"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}
