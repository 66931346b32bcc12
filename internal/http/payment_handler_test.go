package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncIntent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/payments/intent", user: buyer})
	assert.Equal(t, http.StatusConflict, rec.Code, "empty cart")

	ts.addItem(t, buyer, 1, 2)
	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/payments/intent", user: buyer})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[IntentResponseDTO](t, rec)
	assert.NotEmpty(t, first.IntentID)
	assert.NotEmpty(t, first.ClientSecret)
	assert.Equal(t, "20.00", first.Amount)

	ts.addItem(t, buyer, 1, 1)
	rec = ts.do(t, call{method: http.MethodPost, path: "/api/v1/payments/intent", user: buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[IntentResponseDTO](t, rec)
	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, "30.00", second.Amount)
	assert.Equal(t, 1, ts.gateway.Creates)
}

func TestSyncIntent_GatewayFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.addItem(t, buyer, 1, 1)
	ts.gateway.FailNext(assert.AnError)

	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/payments/intent", user: buyer})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "payment_gateway_failure", resp.Code)
	assert.Equal(t, "payment gateway unavailable", resp.Error)
}

func TestValidateIntent(t *testing.T) {
	ts := newTestServer(t)
	ts.addItem(t, buyer, 1, 1)
	order := ts.placeOrder(t, buyer, "ONLINE")

	rec := ts.do(t, call{method: http.MethodGet, path: "/api/v1/payments/intent/" + order.PaymentIntentID + "/valid", user: buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[IntentValidityDTO](t, rec).Valid)

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/payments/intent/" + order.PaymentIntentID + "/valid", user: otherUser})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[IntentValidityDTO](t, rec).Valid, "foreign intent")

	rec = ts.do(t, call{method: http.MethodGet, path: "/api/v1/payments/intent/pi_unknown/valid", user: buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[IntentValidityDTO](t, rec).Valid)
}
