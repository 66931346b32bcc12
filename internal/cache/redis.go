package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

// setIfNotOlder writes the cart and its version unless a newer version is cached.
// KEYS: cart, version. ARGV: cart json, version, ttl ms.
var setIfNotOlder = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	key := cacheKey(userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}

	return &cart, nil
}

func (r RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	key := cacheKey(userID)
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jitter spreads expiry of carts cached at the same moment
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	keys := []string{key, versionKey(userID)}
	if err := setIfNotOlder.Run(ctx, r.client, keys, jsonCart, cart.Version, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete drops the cached cart but keeps its version, so a slower writer
// holding an older cart still cannot put it back.
func (r RedisCache) Delete(ctx context.Context, userID string) error {
	key := cacheKey(userID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func versionKey(userID string) string {
	return fmt.Sprintf("cart:%s:version", userID)
}

// RedisDeduper records processed webhook event ids.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupeKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) Remember(ctx context.Context, key string, ttl time.Duration) error {
	if err := d.client.Set(ctx, dedupeKey(key), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func dedupeKey(key string) string {
	return fmt.Sprintf("dedupe:%s", key)
}
