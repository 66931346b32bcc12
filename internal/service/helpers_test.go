package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/petmarket/internal/cache"
	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	dogFood   int64 = 1 // $10, stock 10
	catToy    int64 = 2 // $3, stock 1
	oldLeash  int64 = 3 // inactive
	birdSeed  int64 = 4 // $1, stock 100
	standard  int64 = 1 // $5
	express   int64 = 2 // $12
	buyer           = "user-1"
	otherUser       = "user-2"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Subject)
	}
	return out
}

type fixture struct {
	store    *store.MemoryStore
	gateway  *payment.FakeGateway
	notifier *recordingNotifier
	carts    *CartService
	pricer   *Pricer
	payments *PaymentService
	orders   *OrderService
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setup(t *testing.T) *fixture {
	return setupWithCache(t, cache.Noop{})
}

func setupWithCache(t *testing.T, c cache.CartCache) *fixture {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	s.SetProduct(domain.Product{ID: dogFood, Name: "Dog food", Price: money("10"), Stock: 10, Active: true})
	s.SetProduct(domain.Product{ID: catToy, Name: "Cat toy", Price: money("3"), Stock: 1, Active: true})
	s.SetProduct(domain.Product{ID: oldLeash, Name: "Old leash", Price: money("7"), Stock: 9, Active: false})
	s.SetProduct(domain.Product{ID: birdSeed, Name: "Bird seed", Price: money("1"), Stock: 100, Active: true})
	s.SetDeliveryMethod(domain.DeliveryMethod{ID: standard, Name: "Standard", Cost: money("5")})
	s.SetDeliveryMethod(domain.DeliveryMethod{ID: express, Name: "Express", Cost: money("12")})

	lapsed := time.Now().Add(-time.Hour)
	s.SetCoupon(domain.Coupon{ID: 1, Code: "PET10", Rate: money("10"), IsPercentage: true, Active: true, MinOrderAmount: money("15")})
	s.SetCoupon(domain.Coupon{ID: 2, Code: "FIVEOFF", Rate: money("5"), Active: true})
	s.SetCoupon(domain.Coupon{ID: 3, Code: "OLDPROMO", Rate: money("20"), IsPercentage: true, Active: true, ExpiresAt: &lapsed})
	s.SetCoupon(domain.Coupon{ID: 4, Code: "DISABLED", Rate: money("20"), IsPercentage: true, Active: false})

	f := &fixture{
		store:    s,
		gateway:  payment.NewFakeGateway(),
		notifier: &recordingNotifier{},
	}
	f.carts = NewCartService(s, s, c)
	f.pricer = NewPricer(s)
	f.payments = NewPaymentService(f.carts, s, f.pricer, f.gateway, f.notifier, "usd")
	f.orders = NewOrderService(f.carts, s, s, f.pricer, f.payments, f.gateway, f.notifier)
	return f
}

func (f *fixture) addItem(t *testing.T, userID string, productID int64, qty int) *domain.Cart {
	cart, err := f.carts.AddItem(context.Background(), userID, productID, qty)
	require.NoError(t, err)
	return cart
}

func (f *fixture) checkout(userID string, method domain.PaymentMethod) (*domain.Order, error) {
	return f.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:           userID,
		BuyerEmail:       userID + "@example.com",
		DeliveryMethodID: standard,
		PaymentMethod:    method,
		ShippingAddress: domain.ShippingAddress{
			FirstName: "Ada", LastName: "Lovelace", Street: "1 Kennel Rd", City: "London", ZipCode: "N1", Country: "UK",
		},
	})
}
