package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway implements Gateway with Stripe payment intents.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, backends)}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(amount)),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create intent: %w", err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) UpdateIntentAmount(ctx context.Context, id string, amount decimal.Decimal) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount: stripe.Int64(ToMinorUnits(amount)),
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe update intent %s: %w", id, err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get intent %s: %w", id, err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Cancel(id, params); err != nil {
		return fmt.Errorf("stripe cancel intent %s: %w", id, err)
	}
	return nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		Amount:       FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
	}
}
