// Package notify delivers buyer notifications without blocking the caller.
package notify

import (
	"context"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/rs/zerolog/log"
)

type Sender interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Send delivers n and only logs a failure. Notifications never fail the
// operation that triggered them.
func Send(ctx context.Context, sender Sender, n domain.Notification) {
	if sender == nil {
		return
	}
	if err := sender.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("user_id", n.UserID).Str("subject", n.Subject).Msg("notification not sent")
	}
}

// LogSender only logs notifications. Used when no broker is configured.
type LogSender struct{}

func (LogSender) Notify(_ context.Context, n domain.Notification) error {
	log.Info().
		Str("user_id", n.UserID).
		Str("order_id", n.OrderID).
		Str("subject", n.Subject).
		Msg(n.Message)
	return nil
}
