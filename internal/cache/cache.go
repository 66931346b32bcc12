package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/petmarket/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	// Set stores cart unless the cache already holds a higher Version for userID.
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

// Deduper remembers keys of completed work for a while so at-least-once
// deliveries are handled once. A key is only remembered after its work is done.
type Deduper interface {
	// Seen reports whether key was remembered and has not expired.
	Seen(ctx context.Context, key string) (bool, error)

	Remember(ctx context.Context, key string, ttl time.Duration) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop is used when no Redis is configured; every read is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Cart, error)     { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, string, *domain.Cart) error       { return nil }
func (Noop) Delete(context.Context, string) error                  { return nil }
func (Noop) Seen(context.Context, string) (bool, error)            { return false, nil }
func (Noop) Remember(context.Context, string, time.Duration) error { return nil }
