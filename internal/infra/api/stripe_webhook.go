package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"bookbrief-billing/internal/domain"
	"bookbrief-billing/internal/domain/ports/adapter"
	"bookbrief-billing/internal/infra/logging"
	"bookbrief-billing/internal/infra/metrics"
	"bookbrief-billing/internal/usecase"

	"github.com/rs/zerolog"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

type webhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   string `json:"ignored,omitempty"`
}

// StripeWebhookHandler authenticates provider deliveries and hands them to the
// reconciler. A 2xx tells the provider to stop retrying; 5xx asks for redelivery.
type StripeWebhookHandler struct {
	verifier   adapter.EventVerifier
	reconciler usecase.ReconcilerUseCase
	dedupe     adapter.EventDeduper // optional
	log        *zerolog.Logger
}

func NewStripeWebhookHandler(
	verifier adapter.EventVerifier,
	reconciler usecase.ReconcilerUseCase,
	dedupe adapter.EventDeduper,
	logger *zerolog.Logger,
) *StripeWebhookHandler {
	l := logger.With().Str("component", "stripe_webhook").Logger()
	return &StripeWebhookHandler{verifier: verifier, reconciler: reconciler, dedupe: dedupe, log: &l}
}

func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.ObserveWebhook(eventType, status, time.Since(start))
	}()

	reply := func(code int, v interface{}) {
		status = code
		writeJSON(w, code, v)
	}

	if r.Method != http.MethodPost {
		reply(http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		reply(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	ev, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, domain.ErrUnsupportedEvent):
		h.log.Debug().Err(err).Msg("webhook ignored")
		reply(http.StatusOK, webhookResponse{Received: true, Ignored: "unsupported_event"})
		return
	case err != nil:
		logging.With(r.Context(), h.log).Warn().Err(err).Msg("webhook rejected")
		reply(http.StatusBadRequest, errorResponse{Error: "invalid Stripe signature"})
		return
	}

	eventType = string(ev.Type())
	ctx := logging.WithEventID(r.Context(), ev.Meta().ID)
	l := logging.With(ctx, h.log)

	claimed := false
	if h.dedupe != nil {
		state, err := h.dedupe.Claim(ctx, ev.Meta().ID)
		switch {
		case err != nil:
			// Reconciliation is idempotent; process without the claim.
			l.Warn().Err(err).Msg("dedupe unavailable")
		case state == adapter.DedupeDone:
			reply(http.StatusOK, webhookResponse{Received: true, Duplicate: true})
			return
		case state == adapter.DedupeInFlight:
			reply(http.StatusConflict, errorResponse{Error: "event is being processed"})
			return
		default:
			claimed = true
		}
	}

	err = h.reconciler.Reconcile(ctx, ev)
	switch {
	case err == nil:
		h.finish(ctx, l, ev.Meta().ID, claimed, true)
		reply(http.StatusOK, webhookResponse{Received: true})
	case errors.Is(err, domain.ErrMissingUserReference):
		l.Warn().Err(err).Str("subscription_id", ev.SubscriptionRef()).Msg("event without a known user")
		h.finish(ctx, l, ev.Meta().ID, claimed, true)
		reply(http.StatusOK, webhookResponse{Received: true, Ignored: "missing_user_reference"})
	default:
		l.Error().Err(err).Str("event_type", eventType).Msg("webhook processing failed")
		h.finish(ctx, l, ev.Meta().ID, claimed, false)
		reply(http.StatusInternalServerError, errorResponse{Error: "processing failed"})
	}
}

// finish marks the event done, or drops the claim so the redelivery runs again.
func (h *StripeWebhookHandler) finish(ctx context.Context, l *zerolog.Logger, eventID string, claimed, done bool) {
	if !claimed {
		return
	}
	// The request may already be cancelled; the bookkeeping must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	var err error
	if done {
		err = h.dedupe.Complete(ctx, eventID)
	} else {
		err = h.dedupe.Release(ctx, eventID)
	}
	if err != nil {
		l.Warn().Err(err).Bool("done", done).Msg("dedupe bookkeeping failed")
	}
}
