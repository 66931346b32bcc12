// Package reaper expires orders that were never paid and gives their stock back.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 24 * time.Hour
	DefaultMaxAge   = 24 * time.Hour

	// bound on the gateway cancel and notification after an expiry commits
	followUpTimeout = 10 * time.Second
)

type CycleStats struct {
	Scanned int
	Expired int
	Failed  int
	Skipped int // paid, cancelled or removed while the cycle ran
}

type Reaper struct {
	orders   repository.OrderRepository
	gateway  payment.Gateway
	notifier notify.Sender
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func New(orders repository.OrderRepository, gateway payment.Gateway, notifier notify.Sender, interval, maxAge time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Reaper{
		orders:   orders,
		gateway:  gateway,
		notifier: notifier,
		interval: interval,
		maxAge:   maxAge,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a cycle immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Dur("max_age", r.maxAge).Msg("order reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.safeCycle(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info().Msg("order reaper stopped")
			return
		}
	}
}

func (r *Reaper) safeCycle(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("reaper cycle panicked")
		}
	}()

	stats, err := r.RunCycle(ctx)
	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.Int("scanned", stats.Scanned).
		Int("expired", stats.Expired).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Msg("reaper cycle finished")
}

// RunCycle expires every PendingPayment order older than the cutoff. One
// order failing does not stop the others; cancellation is honoured between orders.
func (r *Reaper) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	cutoff := r.now().Add(-r.maxAge)

	orders, err := r.orders.ListExpiredOrders(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list expired orders: %w", err)
	}
	stats.Scanned = len(orders)

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		err := r.expire(ctx, order, cutoff)
		switch {
		case err == nil:
			stats.Expired++
		case errors.Is(err, repository.ErrOrderNotExpirable), errors.Is(err, domain.ErrNotFound):
			stats.Skipped++
		default:
			stats.Failed++
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("failed to expire order, will retry next cycle")
		}
	}
	return stats, nil
}

func (r *Reaper) expire(ctx context.Context, order *domain.Order, cutoff time.Time) error {
	// stock restore and delete commit together
	expired, err := r.orders.ExpireOrder(ctx, order.ID, cutoff)
	if err != nil {
		return err
	}

	l := log.With().Str("order_id", expired.ID.String()).Str("buyer_id", expired.BuyerID).Logger()
	l.Info().Msg("expired unpaid order")

	// the order is gone; its follow-ups run even when the cycle is stopping
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()

	if expired.PaymentIntentID != "" {
		if err := r.gateway.CancelIntent(ctx, expired.PaymentIntentID); err != nil {
			l.Warn().Err(err).Str("intent_id", expired.PaymentIntentID).Msg("failed to cancel payment intent")
		}
	}

	notify.Send(ctx, r.notifier, domain.Notification{
		UserID:  expired.BuyerID,
		Subject: "order_expired",
		Message: fmt.Sprintf("Order %s was cancelled because payment was not completed in time.", expired.ID),
		OrderID: expired.ID.String(),
	})
	return nil
}
