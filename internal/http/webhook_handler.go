package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/petmarket/internal/cache"
	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	maxWebhookBodySize = 64 << 10
	webhookDedupeTTL   = 24 * time.Hour
	signatureHeader    = "Stripe-Signature"
)

// PaymentCallbackHandler applies a gateway outcome to the order holding the intent.
type PaymentCallbackHandler interface {
	HandleGatewayCallback(ctx context.Context, intentID string, succeeded bool) (*domain.Order, error)
}

type WebhookHandler struct {
	callbacks PaymentCallbackHandler
	dedupe    cache.Deduper
	secret    string
	timeout   time.Duration
}

func NewWebhookHandler(callbacks PaymentCallbackHandler, dedupe cache.Deduper, secret string, timeout time.Duration) *WebhookHandler {
	if dedupe == nil {
		dedupe = cache.Noop{}
	}
	return &WebhookHandler{
		callbacks: callbacks,
		dedupe:    dedupe,
		secret:    secret,
		timeout:   timeout,
	}
}

// intentOutcome maps the Stripe event types we act on to a payment result.
func intentOutcome(t stripe.EventType) (succeeded, ok bool) {
	switch t {
	case "payment_intent.succeeded":
		return true, true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return false, true
	default:
		return false, false
	}
}

// POST /api/v1/payments/webhook
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get(signatureHeader), h.secret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn().Err(err).Msg("rejected webhook with invalid signature")
		respondError(w, http.StatusBadRequest, "invalid_signature", "invalid webhook signature")
		return
	}

	succeeded, ok := intentOutcome(event.Type)
	if !ok {
		log.Debug().Str("event_type", string(event.Type)).Msg("ignoring webhook event")
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	var intent stripe.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &intent) != nil || intent.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_payload", "event does not carry a payment intent")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	evLog := log.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Str("intent_id", intent.ID).Logger()

	dedupeKey := "stripe:" + event.ID
	seen, err := h.dedupe.Seen(ctx, dedupeKey)
	if err != nil {
		// Process anyway; a repeated callback is a no-op.
		evLog.Warn().Err(err).Msg("webhook dedupe unavailable")
	}
	if seen {
		evLog.Debug().Msg("duplicate webhook delivery")
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if _, err := h.callbacks.HandleGatewayCallback(ctx, intent.ID, succeeded); err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidState) {
			evLog.Error().Err(err).Msg("webhook processing failed")
			respondError(w, http.StatusInternalServerError, "internal_error", "webhook processing failed")
			return
		}
		evLog.Warn().Err(err).Msg("webhook acknowledged without changes")
	}

	// only an event that reached a final answer is remembered
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancelRecord()
	if err := h.dedupe.Remember(recordCtx, dedupeKey, webhookDedupeTTL); err != nil {
		evLog.Warn().Err(err).Msg("failed to record webhook event")
	}

	evLog.Info().Bool("succeeded", succeeded).Msg("webhook processed")
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
