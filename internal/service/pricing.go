package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/petmarket/internal/coupon"
	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/shopspring/decimal"
)

// Quote is the authoritative price of a cart at one instant.
type Quote struct {
	Items            []domain.OrderItem
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	CouponCode       string
	DeliveryMethodID int64
	ShippingCost     decimal.Decimal
}

func (q *Quote) Total() decimal.Decimal {
	return q.Subtotal.Sub(q.Discount).Add(q.ShippingCost)
}

// Pricer prices carts against the live catalog rather than the prices captured on cart lines.
type Pricer struct {
	catalog repository.CatalogRepository
	now     func() time.Time
}

func NewPricer(catalog repository.CatalogRepository) *Pricer {
	return &Pricer{catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// Quote re-reads every product and fails with *domain.ProductUnavailableError or
// *domain.InsufficientStockError naming the first line that cannot be bought.
// An ineligible coupon is dropped from the quote. A zero deliveryMethodID prices
// shipping at zero.
func (p *Pricer) Quote(ctx context.Context, cart *domain.Cart, deliveryMethodID int64) (*Quote, error) {
	q := &Quote{
		Items:            make([]domain.OrderItem, 0, len(cart.Items)),
		Subtotal:         decimal.Zero,
		Discount:         decimal.Zero,
		DeliveryMethodID: deliveryMethodID,
		ShippingCost:     decimal.Zero,
	}

	for _, line := range cart.Items {
		product, err := p.catalog.GetProduct(ctx, line.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) || (err == nil && !product.Active) {
			return nil, &domain.ProductUnavailableError{ProductID: line.ProductID}
		}
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", line.ProductID, err)
		}
		if product.Stock < line.Quantity {
			return nil, &domain.InsufficientStockError{ProductID: product.ID, Requested: line.Quantity, Available: product.Stock}
		}

		item := domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
		}
		q.Items = append(q.Items, item)
		q.Subtotal = q.Subtotal.Add(item.LineTotal())
	}
	q.Subtotal = q.Subtotal.Round(2)

	if cart.CouponCode != "" {
		c, err := p.catalog.FindActiveCouponByCode(ctx, cart.CouponCode)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load coupon: %w", err)
		}
		discount, err := coupon.Evaluate(c, q.Subtotal, p.now())
		if err != nil {
			logger.FromContext(ctx).Info().Err(err).Str("coupon", cart.CouponCode).Msg("coupon dropped from quote")
		} else if discount.IsPositive() {
			q.Discount = discount
			q.CouponCode = cart.CouponCode
		}
	}

	if deliveryMethodID != 0 {
		method, err := p.catalog.GetDeliveryMethod(ctx, deliveryMethodID)
		if err != nil {
			return nil, err
		}
		q.ShippingCost = method.Cost.Round(2)
	}

	return q, nil
}
