package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Coupon struct {
	ID             int64
	Code           string
	Rate           decimal.Decimal
	IsPercentage   bool
	Active         bool
	ExpiresAt      *time.Time
	MinOrderAmount decimal.Decimal
}

// IsExpired reports whether the coupon has lapsed at the given instant.
func (c *Coupon) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// NormalizeCouponCode is the canonical form used for lookups and storage.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
