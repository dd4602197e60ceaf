//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Subscription

	Writes int

	UpsertFunc        func(ctx context.Context, sub *model.Subscription) error
	UpdateFunc        func(ctx context.Context, id string, patch model.SubscriptionPatch) error
	FindByIDFunc      func(ctx context.Context, id string) (*model.Subscription, error)
	ListByUserFunc    func(ctx context.Context, userID string) ([]*model.Subscription, error)
	ListStaleFunc     func(ctx context.Context, cutoff time.Time, limit int) ([]*model.Subscription, error)
	CountByStatusFunc func(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{byID: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	if r.UpsertFunc != nil {
		return r.UpsertFunc(ctx, sub)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.byID[cp.ID] = &cp
	r.Writes++
	return nil
}

func (r *MockSubscriptionRepo) Update(ctx context.Context, id string, patch model.SubscriptionPatch) error {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, id, patch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	next := patch.Apply(*s)
	r.byID[id] = &next
	r.Writes++
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if r.ListByUserFunc != nil {
		return r.ListByUserFunc(ctx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

func (r *MockSubscriptionRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	if r.ListStaleFunc != nil {
		return r.ListStaleFunc(ctx, cutoff, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if s.Status.IsLive() && s.ExpiresAt.Before(cutoff) && len(out) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	if r.CountByStatusFunc != nil {
		return r.CountByStatusFunc(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.byID {
		out[s.Status]++
	}
	return out, nil
}

// Snapshot copies the stored rows for before/after comparisons.
func (r *MockSubscriptionRepo) Snapshot() map[string]model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Subscription, len(r.byID))
	for id, s := range r.byID {
		out[id] = *s
	}
	return out
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User

	SaveFunc          func(ctx context.Context, u *model.User) error
	FindByIDFunc      func(ctx context.Context, id string) (*model.User, error)
	UpdateBillingFunc func(ctx context.Context, id string, patch model.UserBillingPatch) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}}
}

func (r *MockUserRepo) Save(ctx context.Context, u *model.User) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if _, ok := r.byID[cp.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.byID[cp.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) UpdateBilling(ctx context.Context, id string, patch model.UserBillingPatch) error {
	if r.UpdateBillingFunc != nil {
		return r.UpdateBillingFunc(ctx, id, patch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	next := patch.Apply(*u)
	r.byID[id] = &next
	return nil
}

func (r *MockUserRepo) Snapshot() map[string]model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.User, len(r.byID))
	for id, u := range r.byID {
		out[id] = *u
	}
	return out
}

// ---- Mock PlanRepository ----

type MockPlanRepo struct {
	data map[string]*model.Plan
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo(plans ...*model.Plan) *MockPlanRepo {
	r := &MockPlanRepo{data: map[string]*model.Plan{}}
	for _, p := range plans {
		r.data[p.Key] = p
	}
	return r
}

func (r *MockPlanRepo) FindByKey(ctx context.Context, key string) (*model.Plan, error) {
	if p, ok := r.data[key]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) FindByPriceID(ctx context.Context, priceID string) (*model.Plan, error) {
	for _, p := range r.data {
		if p.PriceID == priceID {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) ListAll(ctx context.Context) ([]*model.Plan, error) {
	out := make([]*model.Plan, 0, len(r.data))
	for _, p := range r.data {
		out = append(out, p)
	}
	return out, nil
}

// =============================
// Adapters
// =============================

// ---- Mock BillingProvider ----

type MockBillingProvider struct {
	mu   sync.Mutex
	Subs map[string]*model.SubscriptionSnapshot

	Prices        map[string]int64
	Changed       []string // "sub:price:proration"
	CreatedFor    []adapter.CheckoutRequest
	FetchCalls    int
	NextCustomer  string
	CancelAt      time.Time
	InvoicePageFn func(customerID, startingAfter string, limit int) (*adapter.InvoicePage, error)

	FetchSubscriptionFunc func(ctx context.Context, id string) (*model.SubscriptionSnapshot, error)
	EnsureCustomerFunc    func(ctx context.Context, customerID, userID, email string) (string, error)
	CreateCheckoutFunc    func(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error)
}

var _ adapter.BillingProvider = (*MockBillingProvider)(nil)

func NewMockBillingProvider() *MockBillingProvider {
	return &MockBillingProvider{
		Subs:         map[string]*model.SubscriptionSnapshot{},
		Prices:       map[string]int64{},
		NextCustomer: "cus_new",
	}
}

func (m *MockBillingProvider) FetchSubscription(ctx context.Context, id string) (*model.SubscriptionSnapshot, error) {
	m.mu.Lock()
	m.FetchCalls++
	m.mu.Unlock()
	if m.FetchSubscriptionFunc != nil {
		return m.FetchSubscriptionFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Subs[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockBillingProvider) EnsureCustomer(ctx context.Context, customerID, userID, email string) (string, error) {
	if m.EnsureCustomerFunc != nil {
		return m.EnsureCustomerFunc(ctx, customerID, userID, email)
	}
	if customerID != "" {
		return customerID, nil
	}
	return m.NextCustomer, nil
}

func (m *MockBillingProvider) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreatedFor = append(m.CreatedFor, req)
	return &adapter.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func (m *MockBillingProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.stripe.test/" + customerID, nil
}

func (m *MockBillingProvider) PriceAmount(ctx context.Context, priceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.Prices[priceID]; ok {
		return a, nil
	}
	return 0, domain.ErrNotFound
}

func (m *MockBillingProvider) ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string, proration adapter.Proration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Changed = append(m.Changed, subscriptionID+":"+priceID+":"+string(proration))
	return nil
}

func (m *MockBillingProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	return m.CancelAt, nil
}

func (m *MockBillingProvider) ListInvoices(ctx context.Context, customerID, startingAfter string, limit int) (*adapter.InvoicePage, error) {
	if m.InvoicePageFn != nil {
		return m.InvoicePageFn(customerID, startingAfter, limit)
	}
	return &adapter.InvoicePage{}, nil
}

// ---- Mock Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlocked    []string
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.TryLockFunc != nil {
		return l.TryLockFunc(ctx, key, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrBusy
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	l.Unlocked = append(l.Unlocked, key)
	return nil
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
