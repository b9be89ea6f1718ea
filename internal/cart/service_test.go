package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/go_cart/backoffice/internal/cache"
	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	err     error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, ownerID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[ownerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Set(_ context.Context, ownerID string, c *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[ownerID] = c
	return m.err
}

func (m *mockCache) Delete(_ context.Context, ownerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, ownerID)
	m.deletes++
	return m.err
}

func (m *mockCache) cached(ownerID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[ownerID]
	return ok
}

func setupService(t *testing.T, opts ...Option) (*Service, *store.MemoryStore) {
	catalog := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, catalog.UpsertProduct(ctx, domain.Product{ID: 1, Name: "Rice 5kg", Quantity: 10, Price: decimal.RequireFromString("12.50")}))
	require.NoError(t, catalog.UpsertProduct(ctx, domain.Product{ID: 2, Name: "Milk 1L", Quantity: 0, Price: decimal.RequireFromString("1.20")}))
	return NewService(NewMemoryRepository(), catalog, opts...), catalog
}

func TestService_Get_EmptyCart(t *testing.T) {
	svc, _ := setupService(t)

	view, err := svc.Get(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", view.OwnerID)
	assert.Empty(t, view.Items)
	assert.True(t, view.Subtotal.IsZero())
	assert.Equal(t, DefaultCurrency, view.Currency)
}

func TestService_AddItem_Accumulates(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "owner-1", 2, 5)
	require.NoError(t, err)
	view, err := svc.AddItem(ctx, "owner-1", 1, 3)
	require.NoError(t, err)

	require.Len(t, view.Items, 2)
	assert.Equal(t, int64(1), view.Items[0].ProductID)
	assert.Equal(t, int64(5), view.Items[0].Quantity)
	assert.Equal(t, "Rice 5kg", view.Items[0].ProductName)
	assert.True(t, view.Items[0].LineTotal.Equal(decimal.RequireFromString("62.50")))
	// no stock check on add
	assert.Equal(t, int64(5), view.Items[1].Quantity)
	assert.True(t, view.Subtotal.Equal(decimal.RequireFromString("68.50")))
}

func TestService_AddItem_Validation(t *testing.T) {
	svc, _ := setupService(t, WithMaxQuantity(10))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.AddItem(ctx, "owner-1", 1, -2)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.AddItem(ctx, "owner-1", 42, 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = svc.AddItem(ctx, "owner-1", 1, 8)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "owner-1", 1, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	view, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(8), view.Items[0].Quantity)
}

func TestService_UpdateItem(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.UpdateItem(ctx, "owner-1", 1, 3)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = svc.AddItem(ctx, "owner-1", 1, 2)
	require.NoError(t, err)

	view, err := svc.UpdateItem(ctx, "owner-1", 1, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), view.Items[0].Quantity)

	_, err = svc.UpdateItem(ctx, "owner-1", 1, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	view, err = svc.UpdateItem(ctx, "owner-1", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestService_RemoveAndClear_AreUnconditional(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.RemoveItem(ctx, "owner-1", 1)
	require.NoError(t, err)
	_, err = svc.Clear(ctx, "owner-1")
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "owner-1", 1, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "owner-1", 2, 1)
	require.NoError(t, err)

	view, err := svc.RemoveItem(ctx, "owner-1", 1)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(2), view.Items[0].ProductID)

	view, err = svc.Clear(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestService_Get_PricesAtCurrentPrice(t *testing.T) {
	svc, catalog := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 2)
	require.NoError(t, err)

	require.NoError(t, catalog.UpsertProduct(ctx, domain.Product{ID: 1, Name: "Rice 5kg", Price: decimal.RequireFromString("10")}))

	view, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, view.Subtotal.Equal(decimal.RequireFromString("20")))
}

type missingCatalog struct {
	*store.MemoryStore
	missing int64
}

func (m missingCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	products, err := m.MemoryStore.GetProducts(ctx, ids)
	delete(products, m.missing)
	return products, err
}

func TestService_Get_UnavailableProduct(t *testing.T) {
	_, catalog := setupService(t)
	svc := NewService(NewMemoryRepository(), missingCatalog{MemoryStore: catalog, missing: 2})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 1)
	require.NoError(t, err)
	view, err := svc.AddItem(ctx, "owner-1", 2, 4)
	require.NoError(t, err)

	require.Len(t, view.Items, 2)
	assert.False(t, view.Items[1].Available)
	assert.True(t, view.Items[1].UnitPrice.IsZero())
	assert.True(t, view.Subtotal.Equal(decimal.RequireFromString("12.50")))
}

func TestService_Cache_InvalidatedOnMutation(t *testing.T) {
	mc := newMockCache()
	svc, _ := setupService(t, WithCache(mc))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 1)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, mc.cached("owner-1"))

	view, err := svc.AddItem(ctx, "owner-1", 1, 1)
	require.NoError(t, err)
	assert.False(t, mc.cached("owner-1"))
	assert.Equal(t, int64(2), view.Items[0].Quantity)

	view, err = svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Items[0].Quantity)
}

func TestService_Cache_ErrorFallsBackToRepository(t *testing.T) {
	mc := newMockCache()
	svc, _ := setupService(t, WithCache(mc))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 3)
	require.NoError(t, err)

	mc.err = errors.New("redis down")
	view, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(3), view.Items[0].Quantity)
}

func TestService_Consume(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "owner-1", 1, 2)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = svc.Consume(ctx, "owner-1", func(c *domain.Cart) error {
		require.Len(t, c.Items, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	view, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1, "failed consume keeps the cart")

	err = svc.Consume(ctx, "owner-1", func(c *domain.Cart) error { return nil })
	require.NoError(t, err)

	view, err = svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	var seen *domain.Cart
	err = svc.Consume(ctx, "owner-1", func(c *domain.Cart) error {
		seen = c
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen.IsEmpty())
}

func TestService_ConcurrentAdds(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, "owner-1", 1, 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := svc.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(50), view.Items[0].Quantity)
}
