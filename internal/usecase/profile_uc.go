package usecase

import (
	"context"
	"errors"
	"fmt"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/repository"
	"bookbrief-billing/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ProfileUseCase = (*profileUC)(nil)

// Profile is a user with its mirrored subscriptions.
type Profile struct {
	User          *model.User           `json:"user"`
	Subscriptions []*model.Subscription `json:"subscriptions"`
}

type ProfileUseCase interface {
	// GetOrCreate returns the user's profile, creating the user on first sight.
	GetOrCreate(ctx context.Context, userID, email string) (*Profile, error)
}

type profileUC struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	log   *zerolog.Logger
}

func NewProfileUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, logger *zerolog.Logger) *profileUC {
	l := logger.With().Str("component", "ProfileUC").Logger()
	return &profileUC{users: users, subs: subs, log: &l}
}

func (p *profileUC) GetOrCreate(ctx context.Context, userID, email string) (*Profile, error) {
	defer logging.TraceDuration(p.log, "ProfileUC.GetOrCreate")()

	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	user, err := p.users.FindByID(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		user, err = p.create(ctx, userID, email)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("find user: %w", err)
	}

	subs, err := p.subs.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return &Profile{User: user, Subscriptions: subs}, nil
}

func (p *profileUC) create(ctx context.Context, userID, email string) (*model.User, error) {
	nu, err := model.NewUser(userID, email)
	if err != nil {
		return nil, err
	}
	if err := p.users.Save(ctx, nu); err != nil {
		// Lost a race with a concurrent first request.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return p.users.FindByID(ctx, userID)
		}
		return nil, fmt.Errorf("save user: %w", err)
	}
	logging.With(ctx, p.log).Info().Str("email", logging.PII(email)).Bool("student", nu.IsStudent).Msg("user created")
	return nu, nil
}
