package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrIntentNotFound = errors.New("payment intent not found")

// FakeGateway keeps intents in memory. It backs local runs and tests.
type FakeGateway struct {
	mu       sync.Mutex
	intents  map[string]*Intent
	failNext error

	Creates int
	Updates int
	Cancels int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{intents: make(map[string]*Intent)}
}

// FailNext makes the next call return err.
func (f *FakeGateway) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

// SetStatus moves an intent as the processor would after client-side confirmation.
func (f *FakeGateway) SetStatus(id string, status IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[id]; ok {
		intent.Status = status
	}
}

// Intent returns a copy of the stored intent.
func (f *FakeGateway) Intent(id string) (Intent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return Intent{}, false
	}
	return *intent, true
}

func (f *FakeGateway) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *FakeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := "pi_" + uuid.NewString()
	intent := &Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%s", id, uuid.NewString()[:8]),
		Status:       IntentRequiresPaymentMethod,
		Amount:       amount,
		Currency:     currency,
	}
	f.intents[id] = intent
	f.Creates++

	cp := *intent
	return &cp, nil
}

func (f *FakeGateway) UpdateIntentAmount(_ context.Context, id string, amount decimal.Decimal) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	intent, ok := f.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if !intent.Status.IsUpdatable() {
		return nil, fmt.Errorf("intent %s cannot be updated in status %s", id, intent.Status)
	}
	intent.Amount = amount
	f.Updates++

	cp := *intent
	return &cp, nil
}

func (f *FakeGateway) GetIntent(_ context.Context, id string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	intent, ok := f.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (f *FakeGateway) CancelIntent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}

	intent, ok := f.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if intent.Status == IntentSucceeded {
		return fmt.Errorf("intent %s already succeeded", id)
	}
	intent.Status = IntentCanceled
	f.Cancels++
	return nil
}
