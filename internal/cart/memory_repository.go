package cart

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
)

type memoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() Repository {
	return &memoryRepository{carts: make(map[string]*domain.Cart)}
}

func (m *memoryRepository) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.carts[ownerID]
	if !ok {
		return nil, ErrCartNotFound
	}
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp, nil
}

func (m *memoryRepository) AddItem(_ context.Context, ownerID string, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, ok := m.carts[ownerID]
	if !ok {
		c = &domain.Cart{OwnerID: ownerID, CreatedAt: now}
		m.carts[ownerID] = c
	}
	c.UpdatedAt = now

	if i := c.IndexOf(item.ProductID); i >= 0 {
		c.Items[i].Quantity += item.Quantity
		return nil
	}
	item.AddedAt = now
	c.Items = append(c.Items, item)
	return nil
}

func (m *memoryRepository) UpdateItemQuantity(_ context.Context, ownerID string, productID int64, quantity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[ownerID]
	if !ok {
		return domain.ErrItemNotFound
	}
	i := c.IndexOf(productID)
	if i < 0 {
		return domain.ErrItemNotFound
	}
	c.Items[i].Quantity = quantity
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memoryRepository) RemoveItem(_ context.Context, ownerID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[ownerID]
	if !ok {
		return domain.ErrItemNotFound
	}
	i := c.IndexOf(productID)
	if i < 0 {
		return domain.ErrItemNotFound
	}
	c.Items = slices.Delete(c.Items, i, i+1)
	c.UpdatedAt = time.Now()
	return nil
}

func (m *memoryRepository) DeleteCart(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.carts[ownerID]; !ok {
		return ErrCartNotFound
	}
	delete(m.carts, ownerID)
	return nil
}
