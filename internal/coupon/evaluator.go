// Package coupon computes discounts for a cart subtotal.
package coupon

import (
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate returns the discount the coupon grants on subtotal at the given instant.
// Eligibility checks run first and return a typed reason; the discount is always
// clamped to [0, subtotal] and rounded to cents.
func Evaluate(c *domain.Coupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, domain.ErrCouponNotFound
	}
	if !c.Active {
		return decimal.Zero, domain.ErrCouponInactive
	}
	if c.IsExpired(now) {
		return decimal.Zero, domain.ErrCouponExpired
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return decimal.Zero, domain.ErrCouponBelowMinimum
	}

	var discount decimal.Decimal
	if c.IsPercentage {
		discount = subtotal.Mul(c.Rate).Div(hundred)
	} else {
		discount = c.Rate
	}

	return clamp(discount.Round(2), subtotal), nil
}

func clamp(discount, subtotal decimal.Decimal) decimal.Decimal {
	if discount.IsNegative() {
		return decimal.Zero
	}
	if subtotal.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}
