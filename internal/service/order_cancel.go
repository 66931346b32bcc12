package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/google/uuid"
)

// CancelResult is the outcome of a buyer cancel. A refused cancel is an
// expected result, not an error.
type CancelResult struct {
	Cancelled bool               `json:"cancelled"`
	Status    domain.OrderStatus `json:"status"`
}

// Err converts a refused cancel into an ErrInvalidState error.
func (r *CancelResult) Err() error {
	if r.Cancelled {
		return nil
	}
	return fmt.Errorf("%w: order is %s", domain.ErrInvalidState, r.Status)
}

// CancelOrder cancels the buyer's own order while it is Pending or
// PendingPayment. Stock is restored in the same transaction as the status change.
func (s *OrderService) CancelOrder(ctx context.Context, userID string, orderID uuid.UUID) (*CancelResult, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsCancellable() {
		return &CancelResult{Cancelled: false, Status: order.Status}, nil
	}

	updated, changed, err := s.orders.TransitionOrder(ctx, orderID, domain.OrderStatusCancelled)
	if errors.Is(err, domain.ErrIllegalTransition) || (err == nil && !changed) {
		// lost a race with a payment callback or another cancel
		current, getErr := s.orders.GetOrderByID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		return &CancelResult{Cancelled: false, Status: current.Status}, nil
	}
	if err != nil {
		return nil, err
	}

	logFor(ctx, updated).Info().Msg("order cancelled by buyer")
	s.cancelIntent(ctx, updated)

	notify.Send(ctx, s.notifier, domain.Notification{
		UserID:  updated.BuyerID,
		Subject: "order_cancelled",
		Message: fmt.Sprintf("Order %s was cancelled.", updated.ID),
		OrderID: updated.ID.String(),
	})

	return &CancelResult{Cancelled: true, Status: updated.Status}, nil
}
