//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/usecase"
)

type billingFixture struct {
	users    *MockUserRepo
	subs     *MockSubscriptionRepo
	provider *MockBillingProvider
	limiter  *MockRateLimiter
	uc       usecase.BillingUseCase
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	plans := NewMockPlanRepo(
		&model.Plan{Key: "pro-monthly", PriceID: "price_pro", TrialDays: 7, TrialFeePriceID: "price_fee", Interval: model.IntervalMonth},
		&model.Plan{Key: "vip-monthly", PriceID: "price_vip", Interval: model.IntervalMonth},
		&model.Plan{Key: "basic-monthly", PriceID: "price_basic", Interval: model.IntervalMonth},
		&model.Plan{Key: "student-yearly", PriceID: "price_student", Interval: model.IntervalYear, StudentOnly: true},
	)
	f := &billingFixture{
		users:    NewMockUserRepo(),
		subs:     NewMockSubscriptionRepo(),
		provider: NewMockBillingProvider(),
		limiter:  &MockRateLimiter{},
	}
	_ = f.users.Save(context.Background(), &model.User{ID: "u1", Email: "u1@example.com", CurrentTier: model.TierBasic})
	f.uc = usecase.NewBillingUseCase(f.users, f.subs, plans, f.provider, f.limiter, usecase.BillingOptions{
		SuccessURL:     "https://app.test/success",
		CancelURL:      "https://app.test/cancel",
		CheckoutLimit:  5,
		CheckoutWindow: time.Minute,
	}, newTestLogger())
	return f
}

func TestBillingUseCase_CreateCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a customer and a checkout session", func(t *testing.T) {
		// --- Arrange ---
		f := newBillingFixture(t)

		// --- Act ---
		cs, err := f.uc.CreateCheckout(ctx, "u1", "pro-monthly")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cs.URL == "" {
			t.Error("expected a checkout url")
		}
		user, _ := f.users.FindByID(ctx, "u1")
		if user.StripeCustomerID != "cus_new" {
			t.Errorf("expected the new customer stored, got %q", user.StripeCustomerID)
		}
		req := f.provider.CreatedFor[0]
		if req.UserID != "u1" || req.CustomerID != "cus_new" || req.Plan.Key != "pro-monthly" || req.SuccessURL != "https://app.test/success" {
			t.Errorf("unexpected checkout request %+v", req)
		}
	})

	t.Run("should refuse unknown plans", func(t *testing.T) {
		f := newBillingFixture(t)
		if _, err := f.uc.CreateCheckout(ctx, "u1", "gold"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should refuse student plans to non-students", func(t *testing.T) {
		f := newBillingFixture(t)
		if _, err := f.uc.CreateCheckout(ctx, "u1", "student-yearly"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("should refuse a second trial", func(t *testing.T) {
		f := newBillingFixture(t)
		_ = f.users.UpdateBilling(ctx, "u1", model.UserBillingPatch{MarkHadTrial: true})

		if _, err := f.uc.CreateCheckout(ctx, "u1", "pro-monthly"); !errors.Is(err, domain.ErrTrialAlreadyUsed) {
			t.Errorf("expected ErrTrialAlreadyUsed, got %v", err)
		}
		if _, err := f.uc.CreateCheckout(ctx, "u1", "vip-monthly"); err != nil {
			t.Errorf("expected a plan without trial to be allowed, got %v", err)
		}
	})

	t.Run("should stop when rate limited", func(t *testing.T) {
		f := newBillingFixture(t)
		var gotKey string
		f.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			gotKey = key
			return false, nil
		}

		_, err := f.uc.CreateCheckout(ctx, "u1", "pro-monthly")

		if !errors.Is(err, domain.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
		if gotKey != "ratelimit:checkout:u1" {
			t.Errorf("unexpected limiter key %q", gotKey)
		}
	})

	t.Run("should fail open when the limiter is down", func(t *testing.T) {
		f := newBillingFixture(t)
		f.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			return false, errors.New("redis down")
		}
		if _, err := f.uc.CreateCheckout(ctx, "u1", "pro-monthly"); err != nil {
			t.Errorf("expected checkout to proceed, got %v", err)
		}
	})
}

func TestBillingUseCase_ChangePlan(t *testing.T) {
	ctx := context.Background()

	seed := func(f *billingFixture) {
		_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_1", UserID: "u1", TierID: "pro-monthly", Status: model.SubscriptionStatusActive})
		f.provider.Subs["sub_1"] = &model.SubscriptionSnapshot{ID: "sub_1", PriceID: "price_pro", ItemID: "si_1"}
		f.provider.Prices = map[string]int64{"price_pro": 900, "price_vip": 1900, "price_basic": 400}
	}

	t.Run("should invoice immediately on upgrade", func(t *testing.T) {
		f := newBillingFixture(t)
		seed(f)

		if err := f.uc.ChangePlan(ctx, "u1", "vip-monthly"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.provider.Changed[0] != "sub_1:price_vip:"+string(adapter.ProrationAlwaysInvoice) {
			t.Errorf("unexpected change %v", f.provider.Changed)
		}
	})

	t.Run("should not prorate a downgrade", func(t *testing.T) {
		f := newBillingFixture(t)
		seed(f)

		if err := f.uc.ChangePlan(ctx, "u1", "basic-monthly"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.provider.Changed[0] != "sub_1:price_basic:"+string(adapter.ProrationNone) {
			t.Errorf("unexpected change %v", f.provider.Changed)
		}
	})

	t.Run("should require a live subscription", func(t *testing.T) {
		f := newBillingFixture(t)
		_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_old", UserID: "u1", Status: model.SubscriptionStatusCanceled})

		if err := f.uc.ChangePlan(ctx, "u1", "vip-monthly"); !errors.Is(err, domain.ErrNoActiveSubscription) {
			t.Errorf("expected ErrNoActiveSubscription, got %v", err)
		}
	})

	t.Run("should not upgrade a past_due or incomplete subscription", func(t *testing.T) {
		for _, status := range []model.SubscriptionStatus{model.SubscriptionStatusPastDue, model.SubscriptionStatusIncomplete} {
			// --- Arrange ---
			f := newBillingFixture(t)
			seed(f)
			_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_1", UserID: "u1", TierID: "pro-monthly", Status: status})

			// --- Act ---
			err := f.uc.ChangePlan(ctx, "u1", "vip-monthly")

			// --- Assert ---
			if !errors.Is(err, domain.ErrNoActiveSubscription) {
				t.Errorf("%s: expected ErrNoActiveSubscription, got %v", status, err)
			}
			if len(f.provider.Changed) != 0 {
				t.Errorf("%s: expected no provider change, got %v", status, f.provider.Changed)
			}
		}
	})

	t.Run("should pass over a newer past_due subscription for the active one", func(t *testing.T) {
		f := newBillingFixture(t)
		seed(f)
		_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_1", UserID: "u1", TierID: "pro-monthly", Status: model.SubscriptionStatusActive, ExpiresAt: t0})
		_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_2", UserID: "u1", TierID: "pro-monthly", Status: model.SubscriptionStatusPastDue, ExpiresAt: t0.Add(time.Hour)})

		if err := f.uc.ChangePlan(ctx, "u1", "vip-monthly"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if f.provider.Changed[0] != "sub_1:price_vip:"+string(adapter.ProrationAlwaysInvoice) {
			t.Errorf("unexpected change %v", f.provider.Changed)
		}
	})
}

func TestBillingUseCase_PortalAndInvoices(t *testing.T) {
	ctx := context.Background()

	t.Run("should need a customer for the portal", func(t *testing.T) {
		f := newBillingFixture(t)
		if _, err := f.uc.CreatePortal(ctx, "u1"); !errors.Is(err, domain.ErrNoBillingCustomer) {
			t.Errorf("expected ErrNoBillingCustomer, got %v", err)
		}
	})

	t.Run("should return an empty page without a customer", func(t *testing.T) {
		f := newBillingFixture(t)
		page, err := f.uc.Invoices(ctx, "u1", "")
		if err != nil || len(page.Invoices) != 0 {
			t.Errorf("expected empty page, got %+v, %v", page, err)
		}
	})

	t.Run("should page invoices for the customer", func(t *testing.T) {
		f := newBillingFixture(t)
		cus := "cus_1"
		_ = f.users.UpdateBilling(ctx, "u1", model.UserBillingPatch{StripeCustomerID: &cus})
		f.provider.InvoicePageFn = func(customerID, startingAfter string, limit int) (*adapter.InvoicePage, error) {
			if customerID != "cus_1" || startingAfter != "in_9" || limit != 10 {
				t.Errorf("unexpected query %s %s %d", customerID, startingAfter, limit)
			}
			return &adapter.InvoicePage{Invoices: []adapter.Invoice{{ID: "in_10"}}, HasMore: true}, nil
		}

		page, err := f.uc.Invoices(ctx, "u1", "in_9")

		if err != nil || !page.HasMore || page.Invoices[0].ID != "in_10" {
			t.Errorf("unexpected page %+v, %v", page, err)
		}
	})

	t.Run("should schedule cancellation of the live subscription", func(t *testing.T) {
		f := newBillingFixture(t)
		_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_1", UserID: "u1", Status: model.SubscriptionStatusTrialing})
		f.provider.CancelAt = t0

		at, err := f.uc.Cancel(ctx, "u1")

		if err != nil || !at.Equal(t0) {
			t.Errorf("expected cancel at %v, got %v, %v", t0, at, err)
		}
	})

	t.Run("should not cancel a past_due subscription", func(t *testing.T) {
		f := newBillingFixture(t)
		_ = f.subs.Upsert(ctx, &model.Subscription{ID: "sub_1", UserID: "u1", Status: model.SubscriptionStatusPastDue})

		if _, err := f.uc.Cancel(ctx, "u1"); !errors.Is(err, domain.ErrNoActiveSubscription) {
			t.Errorf("expected ErrNoActiveSubscription, got %v", err)
		}
	})
}
