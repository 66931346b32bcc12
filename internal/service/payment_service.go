package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/shopspring/decimal"
)

type IntentResult struct {
	IntentID     string          `json:"intent_id"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
}

// PaymentService keeps the cart's payment intent sized to the cart and applies
// gateway outcomes to orders.
type PaymentService struct {
	carts    *CartService
	orders   repository.OrderRepository
	pricer   *Pricer
	gateway  payment.Gateway
	notifier notify.Sender
	currency string
}

func NewPaymentService(
	carts *CartService,
	orders repository.OrderRepository,
	pricer *Pricer,
	gateway payment.Gateway,
	notifier notify.Sender,
	currency string,
) *PaymentService {
	return &PaymentService{
		carts:    carts,
		orders:   orders,
		pricer:   pricer,
		gateway:  gateway,
		notifier: notifier,
		currency: currency,
	}
}

// SyncIntentForCart creates or resizes the cart's payment intent to the cart's
// current authoritative total and stores the reference on the cart.
func (s *PaymentService) SyncIntentForCart(ctx context.Context, userID string) (*IntentResult, error) {
	var result *IntentResult
	_, err := s.carts.mutate(ctx, userID, func(cart *domain.Cart) error {
		if cart.IsEmpty() {
			return domain.ErrCartEmpty
		}

		var deliveryID int64
		if cart.DeliveryMethodID != nil {
			deliveryID = *cart.DeliveryMethodID
		}
		quote, err := s.pricer.Quote(ctx, cart, deliveryID)
		if err != nil {
			return err
		}

		result, err = s.syncIntent(ctx, cart, quote.Total())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// syncIntent updates the cart's intent in place when the gateway still allows
// it and creates a new one otherwise. Only the cart value is modified; the
// caller persists it.
func (s *PaymentService) syncIntent(ctx context.Context, cart *domain.Cart, amount decimal.Decimal) (*IntentResult, error) {
	log := logger.FromContext(ctx)

	if cart.PaymentIntentID != "" {
		current, err := s.gateway.GetIntent(ctx, cart.PaymentIntentID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("intent_id", cart.PaymentIntentID).Msg("intent lookup failed, creating a new one")
		case current.Status.IsUpdatable():
			updated, err := s.gateway.UpdateIntentAmount(ctx, current.ID, amount)
			if err != nil {
				return nil, gatewayError("update intent", err)
			}
			if updated.ClientSecret != "" {
				cart.ClientSecret = updated.ClientSecret
			}
			return &IntentResult{IntentID: current.ID, ClientSecret: cart.ClientSecret, Amount: amount}, nil
		default:
			log.Info().Str("intent_id", current.ID).Str("status", string(current.Status)).Msg("intent cannot be reused")
		}
	}

	created, err := s.gateway.CreateIntent(ctx, amount, s.currency)
	if err != nil {
		return nil, gatewayError("create intent", err)
	}
	cart.PaymentIntentID = created.ID
	cart.ClientSecret = created.ClientSecret

	return &IntentResult{IntentID: created.ID, ClientSecret: created.ClientSecret, Amount: amount}, nil
}

// HandleGatewayCallback moves the order paid through intentID to Processing or
// Cancelled. Repeating a callback that was already applied changes nothing.
func (s *PaymentService) HandleGatewayCallback(ctx context.Context, intentID string, succeeded bool) (*domain.Order, error) {
	order, err := s.orders.GetOrderByPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	target := domain.OrderStatusCancelled
	if succeeded {
		target = domain.OrderStatusProcessing
	}

	updated, changed, err := s.orders.TransitionOrder(ctx, order.ID, target)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).With().Str("order_id", order.ID.String()).Str("intent_id", intentID).Logger()
	if !changed {
		log.Debug().Str("status", updated.Status.String()).Msg("duplicate payment callback ignored")
		return updated, nil
	}
	log.Info().Str("status", updated.Status.String()).Msg("order updated from payment callback")

	if succeeded {
		notify.Send(ctx, s.notifier, domain.Notification{
			UserID:  updated.BuyerID,
			Subject: "order_paid",
			Message: fmt.Sprintf("Payment received for order %s.", updated.ID),
			OrderID: updated.ID.String(),
		})
	} else {
		notify.Send(ctx, s.notifier, domain.Notification{
			UserID:  updated.BuyerID,
			Subject: "order_payment_failed",
			Message: fmt.Sprintf("Payment for order %s failed and the order was cancelled.", updated.ID),
			OrderID: updated.ID.String(),
		})
	}
	return updated, nil
}

// ValidateOrderExistsForPayment reports whether intentID belongs to an order
// of userID that is still waiting for payment. Another buyer's intent is
// reported as invalid, not as an error.
func (s *PaymentService) ValidateOrderExistsForPayment(ctx context.Context, userID, intentID string) (bool, error) {
	if userID == "" || intentID == "" {
		return false, nil
	}
	order, err := s.orders.GetOrderByPaymentIntent(ctx, intentID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if order.BuyerID != userID {
		logger.FromContext(ctx).Warn().Str("user_id", userID).Str("intent_id", intentID).Msg("intent validated by non-owner")
		return false, nil
	}
	return order.Status == domain.OrderStatusPendingPayment, nil
}

func gatewayError(op string, err error) error {
	if errors.Is(err, domain.ErrGatewayFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrGatewayFailure, op, err)
}
