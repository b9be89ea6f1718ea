package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/backoffice/internal/domain"
)

// CartCache holds raw carts keyed by owner. Priced views are never cached, so a
// price change is visible on the next read.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	Set(ctx context.Context, ownerID string, cart *domain.Cart) error
	Delete(ctx context.Context, ownerID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCache is used when no Redis is configured; every read misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Cart, error) {
	return nil, ErrCacheMiss
}

func (NoopCache) Set(context.Context, string, *domain.Cart) error {
	return nil
}

func (NoopCache) Delete(context.Context, string) error {
	return nil
}
