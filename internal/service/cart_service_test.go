package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/petmarket/internal/cache"
	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	m     sync.RWMutex
	carts map[string]*domain.Cart
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if cur, ok := m.carts[userID]; ok && cur.Version > cart.Version {
		return nil
	}
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	m.carts[userID] = &cp
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *mockCache) has(userID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[userID]
	return ok
}

func TestGetOrCreateCart_CreatesOnFirstAccess(t *testing.T) {
	mc := newMockCache()
	f := setupWithCache(t, mc)
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, buyer, cart.UserID)
	assert.True(t, cart.IsEmpty())
	assert.NotEmpty(t, cart.ID)

	stored, err := f.store.GetCart(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, stored.ID)

	assert.True(t, mc.has(buyer), "cart was not set in cache")

	again, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID)
}

func TestGetOrCreateCart_RequiresUser(t *testing.T) {
	f := setup(t)
	_, err := f.carts.GetOrCreateCart(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMutation_RefreshesCache(t *testing.T) {
	mc := newMockCache()
	f := setupWithCache(t, mc)
	ctx := context.Background()

	_, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	require.True(t, mc.has(buyer))

	f.addItem(t, buyer, dogFood, 1)
	cached, err := mc.Get(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, cached.Items, 1)

	cart, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

// gatedCache holds the first Set until release is closed.
type gatedCache struct {
	cache.CartCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.CartCache.Set(ctx, userID, cart)
}

func TestGetOrCreateCart_SlowCacheWriteDoesNotHideMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gc := &gatedCache{
		CartCache: cache.NewRedisCache(client),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	f := setupWithCache(t, gc)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.carts.GetOrCreateCart(ctx, buyer)
		done <- err
	}()
	<-gc.entered

	f.addItem(t, buyer, dogFood, 2)
	close(gc.release)
	require.NoError(t, <-done)

	cart, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	f.addItem(t, buyer, catToy, 1)
	_, err = f.checkout(buyer, domain.PaymentMethodCashOnDelivery)
	require.NoError(t, err)

	cart, err = f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty(), "cart is empty after checkout")
}

func TestAddItem_CapturesPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart := f.addItem(t, buyer, dogFood, 2)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Items[0].UnitPrice.Equal(money("10")))
	assert.Equal(t, "Dog food", cart.Items[0].ProductName)

	// a catalog price change does not move the cart total
	f.store.SetProduct(domain.Product{ID: dogFood, Name: "Dog food", Price: money("12"), Stock: 10, Active: true})

	cart, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, cart.Subtotal().Equal(money("20")), "got %s", cart.Subtotal())
}

func TestAddItem_MergesQuantity(t *testing.T) {
	f := setup(t)

	f.addItem(t, buyer, dogFood, 2)
	cart := f.addItem(t, buyer, dogFood, 3)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestAddItem_SoftStockCheck(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, dogFood, 8)
	_, err := f.carts.AddItem(ctx, buyer, dogFood, 3)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, dogFood, stockErr.ProductID)
	assert.Equal(t, 11, stockErr.Requested)
	assert.Equal(t, 10, stockErr.Available)

	// nothing reserved
	assert.Equal(t, 10, f.store.Stock(dogFood))
}

func TestAddItem_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		productID int64
		qty       int
		want      error
	}{
		{"inactive product", oldLeash, 1, domain.ErrNotFound},
		{"missing product", 999, 1, domain.ErrProductNotFound},
		{"zero quantity", dogFood, 0, domain.ErrInvalidArgument},
		{"negative quantity", dogFood, -2, domain.ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.carts.AddItem(ctx, buyer, tt.productID, tt.qty)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart := f.addItem(t, buyer, dogFood, 1)
	itemID := cart.Items[0].ID

	cart, err := f.carts.UpdateItem(ctx, buyer, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	_, err = f.carts.UpdateItem(ctx, buyer, itemID, 11)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = f.carts.UpdateItem(ctx, buyer, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrCartItemNotFound)

	// product withdrawn from sale after it was added
	f.store.SetProduct(domain.Product{ID: dogFood, Name: "Dog food", Price: money("10"), Stock: 10, Active: false})
	_, err = f.carts.UpdateItem(ctx, buyer, itemID, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveItemAndClear(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, dogFood, 2)
	cart := f.addItem(t, buyer, birdSeed, 5)
	require.Len(t, cart.Items, 2)

	cart, err := f.carts.RemoveItem(ctx, buyer, cart.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, birdSeed, cart.Items[0].ProductID)

	_, err = f.carts.RemoveItem(ctx, buyer, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.addItem(t, buyer, dogFood, 2)
	_, err = f.carts.ApplyCoupon(ctx, buyer, "FIVEOFF")
	require.NoError(t, err)

	cart, err = f.carts.ClearCart(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Empty(t, cart.CouponCode)
	assert.True(t, cart.Discount.IsZero())
}

func TestApplyCoupon_PercentageScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, dogFood, 2)
	cart, err := f.carts.ApplyCoupon(ctx, buyer, "pet10")
	require.NoError(t, err)

	assert.Equal(t, "PET10", cart.CouponCode)
	assert.True(t, cart.Subtotal().Equal(money("20")))
	assert.True(t, cart.Discount.Equal(money("2")), "got %s", cart.Discount)
	assert.True(t, cart.Total().Equal(money("18")))
}

func TestApplyCoupon_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, dogFood, 3)
	first, err := f.carts.ApplyCoupon(ctx, buyer, "PET10")
	require.NoError(t, err)
	second, err := f.carts.ApplyCoupon(ctx, buyer, "PET10")
	require.NoError(t, err)

	assert.True(t, first.Discount.Equal(second.Discount))
	assert.True(t, second.Discount.Equal(money("3")))
}

func TestApplyCoupon_FixedIsClampedToSubtotal(t *testing.T) {
	f := setup(t)

	f.addItem(t, buyer, birdSeed, 3)
	cart, err := f.carts.ApplyCoupon(context.Background(), buyer, "FIVEOFF")
	require.NoError(t, err)

	assert.True(t, cart.Discount.Equal(money("3")))
	assert.True(t, cart.Total().IsZero())
}

func TestApplyCoupon_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.carts.ApplyCoupon(ctx, buyer, "PET10")
	assert.ErrorIs(t, err, domain.ErrCartEmpty)

	f.addItem(t, buyer, dogFood, 1)

	tests := []struct {
		code string
		want error
	}{
		{"NOPE", domain.ErrCouponNotFound},
		{"DISABLED", domain.ErrNotFound},
		{"", domain.ErrNotFound},
		{"OLDPROMO", domain.ErrCouponExpired},
		{"PET10", domain.ErrCouponBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := f.carts.ApplyCoupon(ctx, buyer, tt.code)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = f.carts.ApplyCoupon(ctx, buyer, "OLDPROMO")
	assert.ErrorIs(t, err, domain.ErrCouponIneligible)

	cart, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, cart.CouponCode, "failed apply leaves no coupon")
}

func TestCoupon_RecomputedOnMutation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, dogFood, 2)
	_, err := f.carts.ApplyCoupon(ctx, buyer, "PET10")
	require.NoError(t, err)

	cart := f.addItem(t, buyer, dogFood, 1)
	assert.Equal(t, "PET10", cart.CouponCode)
	assert.True(t, cart.Discount.Equal(money("3")), "got %s", cart.Discount)
}

func TestCoupon_SilentlyClearedWhenIneligible(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart := f.addItem(t, buyer, dogFood, 2)
	_, err := f.carts.ApplyCoupon(ctx, buyer, "PET10")
	require.NoError(t, err)

	// $10 is below the $15 minimum
	cart, err = f.carts.UpdateItem(ctx, buyer, cart.Items[0].ID, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.CouponCode)
	assert.True(t, cart.Discount.IsZero())
}

func TestRemoveCoupon(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, dogFood, 2)
	_, err := f.carts.ApplyCoupon(ctx, buyer, "FIVEOFF")
	require.NoError(t, err)

	cart, err := f.carts.RemoveCoupon(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, cart.CouponCode)
	assert.True(t, cart.Total().Equal(money("20")))
}

func TestSetDeliveryMethod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart, err := f.carts.SetDeliveryMethod(ctx, buyer, express)
	require.NoError(t, err)
	require.NotNil(t, cart.DeliveryMethodID)
	assert.Equal(t, express, *cart.DeliveryMethodID)

	_, err = f.carts.SetDeliveryMethod(ctx, buyer, 77)
	assert.ErrorIs(t, err, domain.ErrDeliveryMethodNotFound)
}

func TestConcurrentMutations_AreSerialized(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addItem(t, buyer, birdSeed, 20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				_, _ = f.carts.ApplyCoupon(ctx, buyer, "PET10")
				return
			}
			_, err := f.carts.AddItem(ctx, buyer, birdSeed, 1)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	cart, err := f.carts.GetOrCreateCart(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 36, cart.Items[0].Quantity)
	assert.Equal(t, "PET10", cart.CouponCode)
	assert.True(t, cart.Discount.Equal(money("3.6")), "discount must match the final item set, got %s", cart.Discount)

	assert.Zero(t, f.carts.locks.size(), "locks are released")
}

// conflictingCarts reports a concurrent write on the first n saves.
type conflictingCarts struct {
	repository.CartRepository
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingCarts) SaveCart(ctx context.Context, cart *domain.Cart) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return repository.ErrCartVersionConflict
	}
	c.mu.Unlock()
	return c.CartRepository.SaveCart(ctx, cart)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	f := setup(t)
	f.carts.carts = &conflictingCarts{CartRepository: f.store, conflicts: 2}

	cart := f.addItem(t, buyer, dogFood, 1)
	assert.Len(t, cart.Items, 1)
}

func TestMutate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := setup(t)
	f.carts.carts = &conflictingCarts{CartRepository: f.store, conflicts: maxSaveAttempts}

	_, err := f.carts.AddItem(context.Background(), buyer, dogFood, 1)
	assert.True(t, errors.Is(err, repository.ErrCartVersionConflict))
}
