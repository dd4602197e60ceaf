package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/model"
	"bookbrief-billing/internal/infra/logging"
	"bookbrief-billing/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server exposes the billing API for signed-in users.
type Server struct {
	profiles usecase.ProfileUseCase
	billing  usecase.BillingUseCase
	auth     *AuthManager
	log      *zerolog.Logger
}

func NewServer(profiles usecase.ProfileUseCase, billing usecase.BillingUseCase, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "billing_api").Logger()
	return &Server{profiles: profiles, billing: billing, auth: auth, log: &l}
}

// RegisterRoutes mounts every route on r behind the auth middleware.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/profile", s.profile)
		r.Post("/checkout-session", s.checkout)
		r.Post("/portal-session", s.portal)
		r.Post("/subscription/upgrade", s.upgrade)
		r.Post("/subscription/cancel", s.cancel)
		r.Get("/invoices", s.invoices)
	})
}

type planRequest struct {
	Plan string `json:"plan"`
}

type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	IsStudent   bool   `json:"is_student"`
	CurrentTier string `json:"current_tier"`
	HadTrial    bool   `json:"had_trial"`
}

type subscriptionView struct {
	ID                string     `json:"id"`
	TierID            string     `json:"tier_id"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	StartDate         time.Time  `json:"start_date"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Interval          string     `json:"interval"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
}

type profileResponse struct {
	User          userView           `json:"user"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	c := ClaimsFrom(r.Context())
	p, err := s.profiles.GetOrCreate(r.Context(), c.Subject, c.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := profileResponse{
		User: userView{
			ID: p.User.ID, Email: p.User.Email, IsStudent: p.User.IsStudent,
			CurrentTier: p.User.CurrentTier, HadTrial: p.User.HadTrial,
		},
		Subscriptions: make([]subscriptionView, 0, len(p.Subscriptions)),
	}
	for _, sub := range p.Subscriptions {
		resp.Subscriptions = append(resp.Subscriptions, toSubscriptionView(sub))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	c := ClaimsFrom(r.Context())
	var req planRequest
	if !decode(w, r, &req) {
		return
	}
	// Checkout needs the local user row; first-time callers get one here.
	if _, err := s.profiles.GetOrCreate(r.Context(), c.Subject, c.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	cs, err := s.billing.CreateCheckout(r.Context(), c.Subject, req.Plan)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": cs.ID, "url": cs.URL})
}

func (s *Server) portal(w http.ResponseWriter, r *http.Request) {
	url, err := s.billing.CreatePortal(r.Context(), ClaimsFrom(r.Context()).Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.billing.ChangePlan(r.Context(), ClaimsFrom(r.Context()).Subject, req.Plan); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	at, err := s.billing.Cancel(r.Context(), ClaimsFrom(r.Context()).Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"cancel_at": at})
}

func (s *Server) invoices(w http.ResponseWriter, r *http.Request) {
	page, err := s.billing.Invoices(r.Context(), ClaimsFrom(r.Context()).Subject, r.URL.Query().Get("starting_after"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// fail maps use case errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNoBillingCustomer):
		status, msg = http.StatusBadRequest, "no billing account yet"
	case errors.Is(err, domain.ErrTrialAlreadyUsed):
		status, msg = http.StatusForbidden, "trial already used"
	case errors.Is(err, domain.ErrForbidden):
		status, msg = http.StatusForbidden, "plan not available"
	case errors.Is(err, domain.ErrNoActiveSubscription):
		status, msg = http.StatusNotFound, "no active subscription"
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, domain.ErrProviderLookupFailed):
		status, msg = http.StatusBadGateway, "billing provider unavailable"
	}
	l := logging.With(r.Context(), s.log)
	if status >= 500 {
		l.Error().Err(err).Str("path", r.URL.Path).Msg("billing api failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("billing api refused")
	}
	writeError(w, status, msg)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func toSubscriptionView(s *model.Subscription) subscriptionView {
	return subscriptionView{
		ID: s.ID, TierID: s.TierID, Status: string(s.Status), CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		StartDate: s.StartDate, ExpiresAt: s.ExpiresAt, Interval: string(s.Interval), CanceledAt: s.CanceledAt,
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
