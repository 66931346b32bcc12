// Package payment adapts an external payment processor's intent API.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// IsUpdatable reports whether the intent amount may still be changed in place.
func (s IntentStatus) IsUpdatable() bool {
	switch s {
	case IntentRequiresPaymentMethod, IntentRequiresConfirmation, IntentRequiresAction:
		return true
	}
	return false
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       decimal.Decimal
	Currency     string
}

// Gateway is the payment processor as seen by the core. Amounts are in major
// currency units; implementations convert as their API requires.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error)
	UpdateIntentAmount(ctx context.Context, id string, amount decimal.Decimal) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) error
}

// ToMinorUnits converts a major-unit amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
