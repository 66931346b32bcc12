package service

import (
	"context"
	"fmt"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/google/uuid"
)

// ListOrders returns every order, or those in status when it is not empty.
func (s *OrderService) ListOrders(ctx context.Context, status string) ([]*domain.Order, error) {
	var filter domain.OrderStatus
	if status != "" {
		parsed, err := domain.ParseOrderStatus(status)
		if err != nil {
			return nil, err
		}
		filter = parsed
	}
	orders, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) AdminGetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.orders.GetOrderByID(ctx, orderID)
}

// UpdateStatus applies an admin transition. It follows the same state machine
// as every other path, and entering Cancelled restores stock.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (*domain.Order, error) {
	to, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}

	updated, changed, err := s.orders.TransitionOrder(ctx, orderID, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	logFor(ctx, updated).Info().Str("status", to.String()).Msg("order status changed by admin")
	if to == domain.OrderStatusCancelled {
		s.cancelIntent(ctx, updated)
	}

	notify.Send(ctx, s.notifier, domain.Notification{
		UserID:  updated.BuyerID,
		Subject: "order_status_changed",
		Message: fmt.Sprintf("Order %s is now %s.", updated.ID, updated.Status),
		OrderID: updated.ID.String(),
	})
	return updated, nil
}

// DeleteOrder restores the order's stock and removes it.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	deleted, err := s.orders.DeleteOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	logFor(ctx, deleted).Info().Msg("order deleted by admin")
	if deleted.Status == domain.OrderStatusPendingPayment {
		s.cancelIntent(ctx, deleted)
	}
	return deleted, nil
}
