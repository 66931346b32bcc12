package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	store    *store.MemoryStore
	gateway  *payment.FakeGateway
	notifier *recordingNotifier
	reaper   *Reaper
	now      time.Time
}

func setup(t *testing.T) *fixture {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	s.SetProduct(domain.Product{ID: 1, Name: "Dog food", Price: decimal.NewFromInt(10), Stock: 10, Active: true})

	f := &fixture{
		store:    s,
		gateway:  payment.NewFakeGateway(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.reaper = New(s, f.gateway, f.notifier, time.Hour, 24*time.Hour)
	f.reaper.now = func() time.Time { return f.now }
	return f
}

// placeOrder stores an order created age ago, reserving qty units of product 1.
func (f *fixture) placeOrder(t *testing.T, status domain.OrderStatus, age time.Duration, qty int) *domain.Order {
	intent, err := f.gateway.CreateIntent(context.Background(), decimal.NewFromInt(int64(10*qty)), "usd")
	require.NoError(t, err)

	created := f.now.Add(-age)
	order := &domain.Order{
		ID:              uuid.New(),
		BuyerID:         "buyer-1",
		Status:          status,
		Items:           []domain.OrderItem{{ProductID: 1, ProductName: "Dog food", UnitPrice: decimal.NewFromInt(10), Quantity: qty}},
		Subtotal:        decimal.NewFromInt(int64(10 * qty)),
		PaymentMethod:   domain.PaymentMethodOnline,
		PaymentIntentID: intent.ID,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	require.NoError(t, f.store.CreateOrder(context.Background(), order))
	return order
}

func TestRunCycle_ExpiresStaleUnpaidOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	order := f.placeOrder(t, domain.OrderStatusPendingPayment, 25*time.Hour, 3)
	require.Equal(t, 7, f.store.Stock(1))

	stats, err := f.reaper.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Scanned: 1, Expired: 1}, stats)

	assert.Equal(t, 10, f.store.Stock(1), "stock is restored")

	_, err = f.store.GetOrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound, "order is deleted")

	intent, ok := f.gateway.Intent(order.PaymentIntentID)
	require.True(t, ok)
	assert.Equal(t, payment.IntentCanceled, intent.Status)

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "buyer-1", f.notifier.sent[0].UserID)
	assert.Equal(t, "order_expired", f.notifier.sent[0].Subject)

	assert.Contains(t, f.store.EventTypes(), domain.EventOrderExpired)
}

func TestRunCycle_LeavesOtherOrdersAlone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fresh := f.placeOrder(t, domain.OrderStatusPendingPayment, time.Hour, 1)
	paid := f.placeOrder(t, domain.OrderStatusProcessing, 48*time.Hour, 1)
	cod := f.placeOrder(t, domain.OrderStatusPending, 48*time.Hour, 1)

	stats, err := f.reaper.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats)

	for _, o := range []*domain.Order{fresh, paid, cod} {
		_, err := f.store.GetOrderByID(ctx, o.ID)
		assert.NoError(t, err)
	}
	assert.Equal(t, 7, f.store.Stock(1))
	assert.Zero(t, f.gateway.Cancels)
}

func TestRunCycle_GatewayAndNotifyFailuresAreNotFatal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	order := f.placeOrder(t, domain.OrderStatusPendingPayment, 30*time.Hour, 2)
	f.gateway.FailNext(errors.New("gateway down"))
	f.notifier.err = errors.New("broker down")

	stats, err := f.reaper.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	_, err = f.store.GetOrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 10, f.store.Stock(1))
}

type flakyOrders struct {
	*store.MemoryStore
	failID uuid.UUID
}

func (f *flakyOrders) ExpireOrder(ctx context.Context, id uuid.UUID, before time.Time) (*domain.Order, error) {
	if id == f.failID {
		return nil, errors.New("deadlock detected")
	}
	return f.MemoryStore.ExpireOrder(ctx, id, before)
}

func TestRunCycle_IsolatesPerOrderFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.placeOrder(t, domain.OrderStatusPendingPayment, 50*time.Hour, 1)
	broken := f.placeOrder(t, domain.OrderStatusPendingPayment, 40*time.Hour, 1)
	last := f.placeOrder(t, domain.OrderStatusPendingPayment, 30*time.Hour, 1)

	f.reaper.orders = &flakyOrders{MemoryStore: f.store, failID: broken.ID}

	stats, err := f.reaper.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Scanned: 3, Expired: 2, Failed: 1}, stats)

	for _, o := range []*domain.Order{first, last} {
		_, err := f.store.GetOrderByID(ctx, o.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}

	// the failed order is still there, stock untouched, and the next cycle picks it up
	_, err = f.store.GetOrderByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, f.store.Stock(1))

	f.reaper.orders = f.store
	stats, err = f.reaper.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Scanned: 1, Expired: 1}, stats)
	assert.Equal(t, 10, f.store.Stock(1))
}

type racingOrders struct {
	*store.MemoryStore
	paid uuid.UUID
}

// ExpireOrder simulates the payment callback landing between the scan and the expiry.
func (r *racingOrders) ExpireOrder(ctx context.Context, id uuid.UUID, before time.Time) (*domain.Order, error) {
	if id == r.paid {
		if _, _, err := r.MemoryStore.TransitionOrder(ctx, id, domain.OrderStatusProcessing); err != nil {
			return nil, err
		}
	}
	return r.MemoryStore.ExpireOrder(ctx, id, before)
}

func TestRunCycle_SkipsOrderPaidDuringCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	order := f.placeOrder(t, domain.OrderStatusPendingPayment, 30*time.Hour, 2)
	f.reaper.orders = &racingOrders{MemoryStore: f.store, paid: order.ID}

	stats, err := f.reaper.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Scanned: 1, Skipped: 1}, stats)

	got, err := f.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)
	assert.Equal(t, 8, f.store.Stock(1))
	assert.Zero(t, f.notifier.count())
}

func TestRunCycle_StopsBetweenOrdersOnCancel(t *testing.T) {
	f := setup(t)

	f.placeOrder(t, domain.OrderStatusPendingPayment, 30*time.Hour, 1)
	f.placeOrder(t, domain.OrderStatusPendingPayment, 31*time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.reaper.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stats.Scanned)
	assert.Zero(t, stats.Expired)
	assert.Equal(t, 8, f.store.Stock(1))
}

// stoppingOrders cancels the cycle right after the first expiry commits.
type stoppingOrders struct {
	*store.MemoryStore
	stop context.CancelFunc
}

func (s *stoppingOrders) ExpireOrder(ctx context.Context, id uuid.UUID, before time.Time) (*domain.Order, error) {
	order, err := s.MemoryStore.ExpireOrder(ctx, id, before)
	s.stop()
	return order, err
}

// ctxGateway refuses calls on a done context, like a real client does.
type ctxGateway struct {
	*payment.FakeGateway
}

func (g ctxGateway) CancelIntent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.FakeGateway.CancelIntent(ctx, id)
}

func TestRunCycle_FinishesExpiredOrderWhenStopping(t *testing.T) {
	f := setup(t)
	first := f.placeOrder(t, domain.OrderStatusPendingPayment, 31*time.Hour, 1)
	second := f.placeOrder(t, domain.OrderStatusPendingPayment, 30*time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.reaper.orders = &stoppingOrders{MemoryStore: f.store, stop: cancel}
	f.reaper.gateway = ctxGateway{FakeGateway: f.gateway}

	stats, err := f.reaper.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Expired)

	intent, ok := f.gateway.Intent(first.PaymentIntentID)
	require.True(t, ok)
	assert.Equal(t, payment.IntentCanceled, intent.Status)
	assert.Equal(t, 1, f.notifier.count())

	// the second order waits for the next cycle
	_, err = f.store.GetOrderByID(context.Background(), second.ID)
	assert.NoError(t, err)
}

type panickingOrders struct {
	*store.MemoryStore
}

func (panickingOrders) ListExpiredOrders(context.Context, time.Time) ([]*domain.Order, error) {
	panic("boom")
}

func TestSafeCycle_RecoversFromPanic(t *testing.T) {
	f := setup(t)
	f.reaper.orders = panickingOrders{MemoryStore: f.store}

	assert.NotPanics(t, func() { f.reaper.safeCycle(context.Background()) })
}

func TestRun_FirstCycleImmediatelyAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := setup(t)
	defer f.store.Close()
	order := f.placeOrder(t, domain.OrderStatusPendingPayment, 30*time.Hour, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.reaper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := f.store.GetOrderByID(context.Background(), order.ID)
		return errors.Is(err, domain.ErrNotFound)
	}, time.Second, 10*time.Millisecond, "first cycle should run without waiting for the interval")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
