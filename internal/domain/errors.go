package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by the core wraps one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCouponIneligible  = errors.New("coupon ineligible")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrGatewayFailure    = errors.New("payment gateway failure")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var (
	ErrCartNotFound           = fmt.Errorf("cart %w", ErrNotFound)
	ErrCartItemNotFound       = fmt.Errorf("cart item %w", ErrNotFound)
	ErrProductNotFound        = fmt.Errorf("product %w", ErrNotFound)
	ErrDeliveryMethodNotFound = fmt.Errorf("delivery method %w", ErrNotFound)
	ErrOrderNotFound          = fmt.Errorf("order %w", ErrNotFound)

	ErrCouponNotFound     = fmt.Errorf("coupon %w", ErrNotFound)
	ErrCouponInactive     = fmt.Errorf("%w: coupon is inactive", ErrCouponIneligible)
	ErrCouponExpired      = fmt.Errorf("%w: coupon has expired", ErrCouponIneligible)
	ErrCouponBelowMinimum = fmt.Errorf("%w: order is below the coupon minimum", ErrCouponIneligible)

	ErrCartEmpty          = fmt.Errorf("%w: cart is empty", ErrInvalidState)
	ErrIllegalTransition  = fmt.Errorf("%w: illegal order status transition", ErrInvalidState)
	ErrOrderForbidden     = fmt.Errorf("%w: order belongs to another user", ErrUnauthorized)
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	ErrInvalidOrderStatus = fmt.Errorf("%w: unknown order status", ErrInvalidArgument)
)

// InsufficientStockError names the product that could not be reserved.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProductUnavailableError is returned when a product referenced by a cart line
// is missing or inactive at checkout time.
type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is not available", e.ProductID)
}

func (e *ProductUnavailableError) Unwrap() error {
	return ErrProductNotFound
}
