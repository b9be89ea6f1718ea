// Package cart holds each owner's pending sale on the server. A cart records
// intent only: no stock is checked or held until checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/cache"
	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/keylock"
	"github.com/fjod/go_cart/backoffice/internal/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultCurrency = "USD"

// Catalog is the product lookup the cart needs for validation and pricing.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

type Service struct {
	repo        Repository
	cache       cache.CartCache
	catalog     Catalog
	sfg         singleflight.Group // Prevents cache stampede
	locks       *keylock.Locker[string]
	maxQuantity int64
	currency    string
}

type Option func(*Service)

func WithCache(c cache.CartCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithMaxQuantity caps a single cart line.
func WithMaxQuantity(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxQuantity = n
		}
	}
}

func WithCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
	}
}

func NewService(repo Repository, catalog Catalog, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		cache:       cache.NoopCache{},
		catalog:     catalog,
		locks:       keylock.New[string](),
		maxQuantity: 1_000_000_000,
		currency:    DefaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the owner's cart priced at current catalog prices. A missing
// cart is returned as an empty one.
func (s *Service) Get(ctx context.Context, ownerID string) (*domain.CartView, error) {
	c, err := s.load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, ownerID, c)
}

// AddItem adds quantity of the product, accumulating onto an existing line.
func (s *Service) AddItem(ctx context.Context, ownerID string, productID, quantity int64) (*domain.CartView, error) {
	if quantity < 1 || quantity > s.maxQuantity {
		return nil, fmt.Errorf("cart quantity %d: %w", quantity, domain.ErrInvalidQuantity)
	}
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, ownerID, func(c *domain.Cart) error {
		if i := c.IndexOf(productID); i >= 0 && c.Items[i].Quantity > s.maxQuantity-quantity {
			return fmt.Errorf("cart quantity for product %d would exceed %d: %w", productID, s.maxQuantity, domain.ErrInvalidQuantity)
		}
		return s.repo.AddItem(ctx, ownerID, domain.CartItem{ProductID: productID, Quantity: quantity})
	})
}

// UpdateItem sets the line quantity; zero removes the line.
func (s *Service) UpdateItem(ctx context.Context, ownerID string, productID, quantity int64) (*domain.CartView, error) {
	if quantity < 0 || quantity > s.maxQuantity {
		return nil, fmt.Errorf("cart quantity %d: %w", quantity, domain.ErrInvalidQuantity)
	}

	return s.mutate(ctx, ownerID, func(c *domain.Cart) error {
		if c.IndexOf(productID) < 0 {
			return domain.ErrItemNotFound
		}
		if quantity == 0 {
			return s.repo.RemoveItem(ctx, ownerID, productID)
		}
		return s.repo.UpdateItemQuantity(ctx, ownerID, productID, quantity)
	})
}

// RemoveItem drops the line if present.
func (s *Service) RemoveItem(ctx context.Context, ownerID string, productID int64) (*domain.CartView, error) {
	return s.mutate(ctx, ownerID, func(c *domain.Cart) error {
		if c.IndexOf(productID) < 0 {
			return nil
		}
		return s.repo.RemoveItem(ctx, ownerID, productID)
	})
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (s *Service) Clear(ctx context.Context, ownerID string) (*domain.CartView, error) {
	return s.mutate(ctx, ownerID, func(*domain.Cart) error {
		return s.deleteCart(ctx, ownerID)
	})
}

// Consume runs fn on the owner's cart while holding the owner's lock and
// clears the cart iff fn returns nil. fn sees the cart even when it is empty.
// A failed clear is logged and does not turn a successful fn into an error.
func (s *Service) Consume(ctx context.Context, ownerID string, fn func(c *domain.Cart) error) error {
	unlock, err := s.locks.Lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	c, err := s.fromRepo(ctx, ownerID)
	if err != nil {
		return err
	}

	if err := fn(c); err != nil {
		return err
	}

	// fn already committed, so a failed clear leaves a stale cart but the
	// result of fn stands
	if err := s.deleteCart(context.WithoutCancel(ctx), ownerID); err != nil {
		logger.FromContext(ctx).Error("failed to clear consumed cart", zap.String("owner_id", ownerID), zap.Error(err))
	}
	s.invalidateCache(ownerID)
	return nil
}

func (s *Service) mutate(ctx context.Context, ownerID string, fn func(c *domain.Cart) error) (*domain.CartView, error) {
	unlock, err := s.locks.Lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.fromRepo(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	errMutate := fn(c)
	s.invalidateCache(ownerID)
	if errMutate != nil {
		logger.FromContext(ctx).Debug("cart mutation rejected", zap.String("owner_id", ownerID), zap.Error(errMutate))
		return nil, errMutate
	}

	updated, err := s.fromRepo(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, ownerID, updated)
}

// load reads through the cache. Cache fills take the owner lock so they never
// race a mutation's invalidation.
func (s *Service) load(ctx context.Context, ownerID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		c, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx).Warn("cache get error", zap.String("owner_id", ownerID), zap.Error(err))
		}

		unlock, err := s.locks.Lock(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		c, err = s.fromRepo(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if errSet := s.cache.Set(ctx, ownerID, c); errSet != nil {
			logger.FromContext(ctx).Warn("cache set error", zap.String("owner_id", ownerID), zap.Error(errSet))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *Service) fromRepo(ctx context.Context, ownerID string) (*domain.Cart, error) {
	c, err := s.repo.GetCart(ctx, ownerID)
	if errors.Is(err, ErrCartNotFound) {
		now := time.Now().UTC()
		return &domain.Cart{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return c, nil
}

func (s *Service) deleteCart(ctx context.Context, ownerID string) error {
	if err := s.repo.DeleteCart(ctx, ownerID); err != nil && !errors.Is(err, ErrCartNotFound) {
		return err
	}
	return nil
}

func (s *Service) view(ctx context.Context, ownerID string, c *domain.Cart) (*domain.CartView, error) {
	v := &domain.CartView{
		OwnerID:   ownerID,
		Items:     make([]domain.CartLineView, 0, len(c.Items)),
		Subtotal:  decimal.Zero,
		Currency:  s.currency,
		UpdatedAt: c.UpdatedAt,
	}
	if c.IsEmpty() {
		return v, nil
	}

	products, err := s.catalog.GetProducts(ctx, c.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to price cart: %w", err)
	}

	for _, item := range c.Items {
		line := domain.CartLineView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: decimal.Zero,
			LineTotal: decimal.Zero,
		}
		if p, ok := products[item.ProductID]; ok {
			line.ProductName = p.Name
			line.UnitPrice = p.Price
			line.LineTotal = p.Price.Mul(decimal.NewFromInt(item.Quantity))
			line.Available = true
			v.Subtotal = v.Subtotal.Add(line.LineTotal)
		}
		v.Items = append(v.Items, line)
	}
	return v, nil
}

func (s *Service) invalidateCache(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		zap.L().Warn("cache invalidate error", zap.String("owner_id", ownerID), zap.Error(err))
	}
}
