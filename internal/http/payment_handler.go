package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/petmarket/internal/service"
	"github.com/go-chi/chi/v5"
)

type PaymentHandler struct {
	payments *service.PaymentService
	timeout  time.Duration
}

func NewPaymentHandler(payments *service.PaymentService, timeout time.Duration) *PaymentHandler {
	return &PaymentHandler{payments: payments, timeout: timeout}
}

type IntentValidityDTO struct {
	IntentID string `json:"intent_id"`
	Valid    bool   `json:"valid"`
}

// POST /api/v1/payments/intent
func (h *PaymentHandler) SyncIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	result, err := h.payments.SyncIntentForCart(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toIntentDTO(result))
}

// GET /api/v1/payments/intent/{intent_id}/valid
func (h *PaymentHandler) ValidateIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	intentID := chi.URLParam(r, "intent_id")
	valid, err := h.payments.ValidateOrderExistsForPayment(ctx, userID, intentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, IntentValidityDTO{IntentID: intentID, Valid: valid})
}
