package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/petmarket/internal/cache"
	"github.com/fjod/petmarket/internal/coupon"
	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// maxSaveAttempts bounds the optimistic retry loop when another instance
// wrote the same cart between our read and our write.
const maxSaveAttempts = 5

type CartService struct {
	carts   repository.CartRepository
	catalog repository.CatalogRepository
	cache   cache.CartCache
	sfg     singleflight.Group // Prevents cache stampede
	locks   *keyedMutex
	now     func() time.Time
}

func NewCartService(carts repository.CartRepository, catalog repository.CatalogRepository, c cache.CartCache) *CartService {
	if c == nil {
		c = cache.Noop{}
	}
	return &CartService{
		carts:   carts,
		catalog: catalog,
		cache:   c,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateCart returns the user's cart, creating an empty one on first access.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("cache get error")
		}

		cart, err = s.carts.GetCart(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			cart, err = s.createCart(ctx, userID)
		}
		if err != nil {
			return nil, err
		}

		// the cache refuses this cart if a mutation has already stored a newer one
		s.storeInCache(ctx, cart)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

func (s *CartService) createCart(ctx context.Context, userID string) (*domain.Cart, error) {
	now := s.now()
	cart := &domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.carts.SaveCart(ctx, cart)
	if errors.Is(err, repository.ErrCartVersionConflict) {
		// created by a concurrent request
		return s.carts.GetCart(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		product, err := s.activeProduct(ctx, productID)
		if err != nil {
			return err
		}

		idx, exists := cart.FindProduct(productID)
		total := quantity
		if exists {
			total += cart.Items[idx].Quantity
		}
		if total > product.Stock {
			return &domain.InsufficientStockError{ProductID: productID, Requested: total, Available: product.Stock}
		}

		if exists {
			cart.Items[idx].Quantity = total
			cart.Items[idx].UnitPrice = product.Price
			cart.Items[idx].ProductName = product.Name
			return nil
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:          uuid.NewString(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			UnitPrice:   product.Price,
			AddedAt:     s.now(),
		})
		return nil
	})
}

func (s *CartService) UpdateItem(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		idx, ok := cart.FindItem(itemID)
		if !ok {
			return domain.ErrCartItemNotFound
		}

		product, err := s.activeProduct(ctx, cart.Items[idx].ProductID)
		if err != nil {
			return err
		}
		if quantity > product.Stock {
			return &domain.InsufficientStockError{ProductID: product.ID, Requested: quantity, Available: product.Stock}
		}

		cart.Items[idx].Quantity = quantity
		cart.Items[idx].UnitPrice = product.Price
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		idx, ok := cart.FindItem(itemID)
		if !ok {
			return domain.ErrCartItemNotFound
		}
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return nil
	})
}

// ClearCart drops every item and the coupon. The delivery method and any
// in-flight payment intent are kept for the next checkout attempt.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		cart.Items = nil
		cart.ClearCoupon()
		return nil
	})
}

func (s *CartService) ApplyCoupon(ctx context.Context, userID, code string) (*domain.Cart, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return nil, domain.ErrCouponNotFound
	}

	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		if cart.IsEmpty() {
			return domain.ErrCartEmpty
		}

		c, err := s.catalog.FindActiveCouponByCode(ctx, code)
		if err != nil {
			return err
		}
		discount, err := coupon.Evaluate(c, cart.Subtotal(), s.now())
		if err != nil {
			return err
		}

		cart.CouponCode = c.Code
		cart.Discount = discount
		return nil
	})
}

func (s *CartService) RemoveCoupon(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		cart.ClearCoupon()
		return nil
	})
}

func (s *CartService) SetDeliveryMethod(ctx context.Context, userID string, deliveryMethodID int64) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(cart *domain.Cart) error {
		method, err := s.catalog.GetDeliveryMethod(ctx, deliveryMethodID)
		if err != nil {
			return err
		}
		cart.DeliveryMethodID = &method.ID
		return nil
	})
}

func (s *CartService) activeProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: product %d is inactive", domain.ErrProductNotFound, productID)
	}
	return product, nil
}

// lockCart serializes every mutation of one user's cart within this process.
func (s *CartService) lockCart(userID string) func() {
	return s.locks.Lock(userID)
}

func (s *CartService) mutate(ctx context.Context, userID string, fn func(cart *domain.Cart) error) (*domain.Cart, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	unlock := s.lockCart(userID)
	defer unlock()
	return s.mutateLocked(ctx, userID, fn)
}

// mutateLocked applies fn to the freshest stored cart, recomputes the discount
// and saves. The caller must hold the cart lock.
func (s *CartService) mutateLocked(ctx context.Context, userID string, fn func(cart *domain.Cart) error) (*domain.Cart, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		cart, err := s.loadCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(cart); err != nil {
			return nil, err
		}
		if err := s.refreshCoupon(ctx, cart); err != nil {
			return nil, err
		}
		cart.UpdatedAt = s.now()

		err = s.carts.SaveCart(ctx, cart)
		if errors.Is(err, repository.ErrCartVersionConflict) {
			logger.FromContext(ctx).Debug().Str("user_id", userID).Int("attempt", attempt).Msg("cart version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save cart: %w", err)
		}

		s.storeInCache(ctx, cart)
		return cart, nil
	}
	return nil, fmt.Errorf("save cart for user %s: %w", userID, repository.ErrCartVersionConflict)
}

// loadCart reads the stored cart, bypassing the cache. A missing cart is
// returned as a fresh unsaved one.
func (s *CartService) loadCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		now := s.now()
		return &domain.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

// refreshCoupon recomputes the discount for the current items. A coupon that
// is no longer eligible is dropped without an error.
func (s *CartService) refreshCoupon(ctx context.Context, cart *domain.Cart) error {
	if cart.CouponCode == "" {
		cart.ClearCoupon()
		return nil
	}

	c, err := s.catalog.FindActiveCouponByCode(ctx, cart.CouponCode)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load coupon: %w", err)
	}

	discount, err := coupon.Evaluate(c, cart.Subtotal(), s.now())
	if err != nil || discount.IsZero() {
		logger.FromContext(ctx).Debug().Err(err).Str("user_id", cart.UserID).Str("coupon", cart.CouponCode).Msg("coupon cleared")
		cart.ClearCoupon()
		return nil
	}
	cart.Discount = discount
	return nil
}

// storeInCache writes cart through to the cache. When that fails the cached
// entry is dropped instead, so readers fall back to storage.
func (s *CartService) storeInCache(ctx context.Context, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	err := s.cache.Set(ctx, cart.UserID, cart)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("user_id", cart.UserID).Msg("cache set error")
	if err := s.cache.Delete(ctx, cart.UserID); err != nil {
		log.Warn().Err(err).Str("user_id", cart.UserID).Msg("cache invalidate error")
	}
}
