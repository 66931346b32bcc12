package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/google/uuid"
)

type OrderService struct {
	carts    *CartService
	catalog  repository.CatalogRepository
	orders   repository.OrderRepository
	pricer   *Pricer
	payments *PaymentService
	gateway  payment.Gateway
	notifier notify.Sender
	now      func() time.Time
}

func NewOrderService(
	carts *CartService,
	catalog repository.CatalogRepository,
	orders repository.OrderRepository,
	pricer *Pricer,
	payments *PaymentService,
	gateway payment.Gateway,
	notifier notify.Sender,
) *OrderService {
	return &OrderService{
		carts:    carts,
		catalog:  catalog,
		orders:   orders,
		pricer:   pricer,
		payments: payments,
		gateway:  gateway,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetOrder returns the order if userID owns it.
func (s *OrderService) GetOrder(ctx context.Context, userID string, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(userID) {
		return nil, domain.ErrOrderForbidden
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	orders, err := s.orders.ListOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders for user %s: %w", userID, err)
	}
	return orders, nil
}

// cancelIntent releases the gateway side of an order. Failures are logged only.
func (s *OrderService) cancelIntent(ctx context.Context, order *domain.Order) {
	if order.PaymentIntentID == "" {
		return
	}
	if err := s.gateway.CancelIntent(ctx, order.PaymentIntentID); err != nil {
		logFor(ctx, order).Warn().Err(err).Str("intent_id", order.PaymentIntentID).Msg("failed to cancel payment intent")
	}
}

func isStockError(err error) bool {
	var unavailable *domain.ProductUnavailableError
	return errors.Is(err, domain.ErrInsufficientStock) || errors.As(err, &unavailable)
}
