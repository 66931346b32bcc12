package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type CreateOrderRequest struct {
	UserID           string
	BuyerEmail       string
	DeliveryMethodID int64
	PaymentMethod    domain.PaymentMethod
	ShippingAddress  domain.ShippingAddress
}

func (r CreateOrderRequest) validate() error {
	switch {
	case r.UserID == "":
		return domain.ErrUnauthorized
	case strings.TrimSpace(r.BuyerEmail) == "":
		return fmt.Errorf("%w: buyer email is required", domain.ErrInvalidArgument)
	case !r.PaymentMethod.Valid():
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrInvalidArgument, r.PaymentMethod)
	case r.DeliveryMethodID <= 0:
		return fmt.Errorf("%w: delivery method is required", domain.ErrInvalidArgument)
	}
	return nil
}

// CreateOrder turns the user's cart into an order. Stock is reserved in the same
// transaction that stores the order; when anything fails no order exists and no
// stock has moved.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	unlock := s.carts.lockCart(req.UserID)
	defer unlock()

	cart, err := s.carts.loadCart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, domain.ErrCartEmpty
	}

	if _, err := s.catalog.GetDeliveryMethod(ctx, req.DeliveryMethodID); err != nil {
		return nil, err
	}
	deliveryID := req.DeliveryMethodID
	cart.DeliveryMethodID = &deliveryID

	quote, err := s.pricer.Quote(ctx, cart, req.DeliveryMethodID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		ID:               uuid.New(),
		BuyerID:          req.UserID,
		BuyerEmail:       req.BuyerEmail,
		Status:           domain.OrderStatusPending,
		Items:            quote.Items,
		Subtotal:         quote.Subtotal,
		Discount:         quote.Discount,
		CouponCode:       quote.CouponCode,
		DeliveryMethodID: quote.DeliveryMethodID,
		ShippingCost:     quote.ShippingCost,
		ShippingAddress:  req.ShippingAddress,
		PaymentMethod:    req.PaymentMethod,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	previousIntent := cart.PaymentIntentID
	if req.PaymentMethod == domain.PaymentMethodOnline {
		intent, err := s.payments.syncIntent(ctx, cart, order.Total())
		if err != nil {
			return nil, err
		}
		order.Status = domain.OrderStatusPendingPayment
		order.PaymentIntentID = intent.IntentID
		order.ClientSecret = intent.ClientSecret
	}

	log := logFor(ctx, order)

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if order.PaymentIntentID != "" && order.PaymentIntentID != previousIntent {
			s.rememberIntent(ctx, req.UserID, order.PaymentIntentID, order.ClientSecret)
		}
		if errors.Is(err, repository.ErrDuplicateIntent) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
		}
		if !isStockError(err) {
			err = fmt.Errorf("create order: %w", err)
		}
		return nil, err
	}
	log.Info().Str("total", order.Total().StringFixed(2)).Str("status", order.Status.String()).Msg("order created")

	if _, err := s.carts.mutateLocked(ctx, req.UserID, func(c *domain.Cart) error {
		c.ResetAfterCheckout()
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("order created but cart was not cleared")
	}

	notify.Send(ctx, s.notifier, domain.Notification{
		UserID:  order.BuyerID,
		Subject: "order_placed",
		Message: fmt.Sprintf("Order %s placed, total %s.", order.ID, order.Total().StringFixed(2)),
		OrderID: order.ID.String(),
	})

	return order, nil
}

// rememberIntent stores a freshly created intent on the cart after a failed
// checkout, so the next attempt resizes it instead of creating another one.
func (s *OrderService) rememberIntent(ctx context.Context, userID, intentID, clientSecret string) {
	_, err := s.carts.mutateLocked(ctx, userID, func(c *domain.Cart) error {
		c.PaymentIntentID = intentID
		c.ClientSecret = clientSecret
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("intent_id", intentID).Msg("failed to keep payment intent on cart")
	}
}

func logFor(ctx context.Context, order *domain.Order) *zerolog.Logger {
	l := logger.FromContext(ctx).With().
		Str("order_id", order.ID.String()).
		Str("buyer_id", order.BuyerID).
		Logger()
	return &l
}
