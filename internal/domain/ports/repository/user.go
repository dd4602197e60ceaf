package repository

import (
	"context"

	"bookbrief-billing/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	// Save inserts a new user, ErrAlreadyExists when the id or email is taken.
	Save(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	// UpdateBilling applies the patch to an existing user, ErrNotFound otherwise.
	UpdateBilling(ctx context.Context, id string, patch model.UserBillingPatch) error
}
