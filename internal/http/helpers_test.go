package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/petmarket/internal/cache"
	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/service"
	"github.com/fjod/petmarket/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "whsec_test"
	buyer      = "user-1"
	otherUser  = "user-2"
)

type testServer struct {
	store    *store.MemoryStore
	gateway  *payment.FakeGateway
	payments *service.PaymentService
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithDeduper(t, cache.Noop{})
}

func newTestServerWithDeduper(t *testing.T, dedupe cache.Deduper) *testServer {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	s.SetProduct(domain.Product{ID: 1, Name: "Dog food", Price: decimal.NewFromInt(10), Stock: 10, Active: true})
	s.SetProduct(domain.Product{ID: 2, Name: "Cat toy", Price: decimal.NewFromInt(3), Stock: 1, Active: true})
	s.SetDeliveryMethod(domain.DeliveryMethod{ID: 1, Name: "Standard", Cost: decimal.NewFromInt(5)})
	lapsed := time.Now().Add(-time.Hour)
	s.SetCoupon(domain.Coupon{ID: 1, Code: "FIVEOFF", Rate: decimal.NewFromInt(5), Active: true})
	s.SetCoupon(domain.Coupon{ID: 2, Code: "OLDPROMO", Rate: decimal.NewFromInt(20), IsPercentage: true, Active: true, ExpiresAt: &lapsed})

	gateway := payment.NewFakeGateway()
	notifier := notify.LogSender{}
	carts := service.NewCartService(s, s, cache.Noop{})
	pricer := service.NewPricer(s)
	payments := service.NewPaymentService(carts, s, pricer, gateway, notifier, "usd")
	orders := service.NewOrderService(carts, s, s, pricer, payments, gateway, notifier)

	timeout := 5 * time.Second
	return &testServer{
		store:    s,
		gateway:  gateway,
		payments: payments,
		handler: NewRouter(Handlers{
			Cart:     NewCartHandler(carts, timeout),
			Payments: NewPaymentHandler(payments, timeout),
			Orders:   NewOrdersHandler(orders, timeout),
			Webhooks: NewWebhookHandler(payments, dedupe, testSecret, timeout),
		}),
	}
}

type call struct {
	method string
	path   string
	body   any
	user   string
	role   string
}

func (ts *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		switch b := c.body.(type) {
		case string:
			body.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&body).Encode(b))
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(HeaderUserID, c.user)
	}
	if c.role != "" {
		req.Header.Set(HeaderUserRole, c.role)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) addItem(t *testing.T, userID string, productID int64, qty int) CartResponseDTO {
	t.Helper()
	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/cart/items", user: userID,
		body: AddItemRequestDTO{ProductID: productID, Quantity: qty}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CartResponseDTO](t, rec)
}

func orderBody(method string) CreateOrderRequestDTO {
	return CreateOrderRequestDTO{
		BuyerEmail:       "ada@example.com",
		DeliveryMethodID: 1,
		PaymentMethod:    method,
		ShippingAddress: ShippingAddressDTO{
			FirstName: "Ada", LastName: "Lovelace", Street: "1 Kennel Rd",
			City: "London", ZipCode: "N1", Country: "UK",
		},
	}
}

func (ts *testServer) placeOrder(t *testing.T, userID, method string) OrderResponseDTO {
	t.Helper()
	rec := ts.do(t, call{method: http.MethodPost, path: "/api/v1/orders", user: userID, body: orderBody(method)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[OrderResponseDTO](t, rec)
}
