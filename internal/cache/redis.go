package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 15 * time.Minute
	keyPrefix  = "backoffice:cart:"
)

// RedisCache stores one JSON document per cart owner.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
}

type RedisOption func(*RedisCache)

// WithTTL sets how long an untouched cart stays cached. Each write adds up to a
// third of ttl on top so carts filled in the same burst expire apart.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisCache) {
		if ttl > 0 {
			r.ttl = ttl
			r.jitter = ttl / 3
		}
	}
}

func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	r := &RedisCache{client: client}
	WithTTL(DefaultTTL)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect opens a client for the cart cache and fails fast if redis is not up.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cart cache at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached cart of %s: %w", ownerID, err)
	}

	var c domain.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode cached cart of %s: %w", ownerID, err)
	}
	return &c, nil
}

func (r *RedisCache) Set(ctx context.Context, ownerID string, c *domain.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart of %s: %w", ownerID, err)
	}
	if err := r.client.Set(ctx, cacheKey(ownerID), data, r.expiry()).Err(); err != nil {
		return fmt.Errorf("cache cart of %s: %w", ownerID, err)
	}
	return nil
}

// Delete is idempotent; evicting an owner with nothing cached succeeds.
func (r *RedisCache) Delete(ctx context.Context, ownerID string) error {
	if err := r.client.Del(ctx, cacheKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("evict cart of %s: %w", ownerID, err)
	}
	return nil
}

func (r *RedisCache) expiry() time.Duration {
	if r.jitter <= 0 {
		return r.ttl
	}
	return r.ttl + rand.N(r.jitter+1)
}

func cacheKey(ownerID string) string {
	return keyPrefix + ownerID
}
