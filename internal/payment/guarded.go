package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
)

// GuardedGateway bounds every call with a timeout and a circuit breaker and
// reports every failure as domain.ErrGatewayFailure.
type GuardedGateway struct {
	next    Gateway
	timeout time.Duration
	intents *gobreaker.CircuitBreaker[*Intent]
	cancels *gobreaker.CircuitBreaker[struct{}]
}

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "payment-gateway",
		MaxRequests:      1,
		Interval:         time.Minute,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

func NewGuardedGateway(next Gateway, timeout time.Duration, cfg BreakerConfig) *GuardedGateway {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: healthyResponse,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
		},
	}

	return &GuardedGateway{
		next:    next,
		timeout: timeout,
		intents: gobreaker.NewCircuitBreaker[*Intent](settings),
		cancels: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

func (g *GuardedGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error) {
	return g.callIntent(ctx, "create intent", func(ctx context.Context) (*Intent, error) {
		return g.next.CreateIntent(ctx, amount, currency)
	})
}

func (g *GuardedGateway) UpdateIntentAmount(ctx context.Context, id string, amount decimal.Decimal) (*Intent, error) {
	return g.callIntent(ctx, "update intent", func(ctx context.Context) (*Intent, error) {
		return g.next.UpdateIntentAmount(ctx, id, amount)
	})
}

func (g *GuardedGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	return g.callIntent(ctx, "get intent", func(ctx context.Context) (*Intent, error) {
		return g.next.GetIntent(ctx, id)
	})
}

func (g *GuardedGateway) CancelIntent(ctx context.Context, id string) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.cancels.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.CancelIntent(callCtx, id)
	})
	return wrapGatewayErr("cancel intent", err)
}

func (g *GuardedGateway) callIntent(ctx context.Context, op string, fn func(ctx context.Context) (*Intent, error)) (*Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	intent, err := g.intents.Execute(func() (*Intent, error) {
		return fn(callCtx)
	})
	if err != nil {
		return nil, wrapGatewayErr(op, err)
	}
	return intent, nil
}

// healthyResponse reports whether err leaves the provider's health unquestioned:
// the provider answered and turned the request down. Only transport errors,
// timeouts, rate limiting and 5xx count against the breaker.
func healthyResponse(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrIntentNotFound) {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		return code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests
	}
	return false
}

func wrapGatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: circuit open", domain.ErrGatewayFailure, op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: timed out", domain.ErrGatewayFailure, op)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrGatewayFailure, op, err)
}
