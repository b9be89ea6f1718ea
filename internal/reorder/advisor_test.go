package reorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/ledger"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func setupAdvisor(t *testing.T) (*Advisor, *store.MemoryStore) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	price := decimal.RequireFromString("1")

	require.NoError(t, s.UpsertSupplier(ctx, domain.Supplier{ID: 1, Name: "Zeta Dairy"}))
	require.NoError(t, s.UpsertSupplier(ctx, domain.Supplier{ID: 2, Name: "Acme Foods"}))

	products := []domain.Product{
		{ID: 10, Name: "Milk", Quantity: 0, MinStockLevel: 20, SupplierID: ptr(1), Price: price},
		{ID: 11, Name: "Butter", Quantity: 4, MinStockLevel: 5, SupplierID: ptr(1), Price: price, SuggestedOrderQuantity: ptr(24)},
		{ID: 12, Name: "Rice", Quantity: 2, MinStockLevel: 10, SupplierID: ptr(2), Price: price},
		{ID: 13, Name: "Beans", Quantity: 50, MinStockLevel: 10, SupplierID: ptr(2), Price: price},
		{ID: 14, Name: "Candles", Quantity: 1, MinStockLevel: 3, Price: price},
		{ID: 15, Name: "Matches", Quantity: 0, MinStockLevel: 2, SupplierID: ptr(99), Price: price},
		{ID: 16, Name: "Salt", Quantity: 5, MinStockLevel: 5, SupplierID: ptr(2), Price: price},
	}
	for _, p := range products {
		require.NoError(t, s.UpsertProduct(ctx, p))
	}
	return NewAdvisor(s), s
}

func TestShortageAndSuggestion(t *testing.T) {
	p := domain.Product{Quantity: 3, MinStockLevel: 10}
	assert.Equal(t, int64(7), Shortage(p))
	assert.Equal(t, int64(10), SuggestedOrderQuantity(p))

	p = domain.Product{Quantity: 30, MinStockLevel: 10}
	assert.Equal(t, int64(0), Shortage(p))

	p = domain.Product{Quantity: 0, MinStockLevel: 10, SuggestedOrderQuantity: ptr(4)}
	assert.Equal(t, int64(4), SuggestedOrderQuantity(p))
}

func TestLowStockItems_Membership(t *testing.T) {
	a, _ := setupAdvisor(t)

	items, err := a.LowStockItems(context.Background(), Filter{})
	require.NoError(t, err)

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	// shortage desc, then id: 10(20) 12(8) 14(2) 15(2) 11(1); 13 and 16 are not low
	assert.Equal(t, []int64{10, 12, 14, 15, 11}, ids)

	assert.True(t, items[0].OutOfStock)
	assert.Equal(t, "Zeta Dairy", items[0].SupplierName)
	assert.Equal(t, int64(24), items[4].SuggestedOrderQuantity)
	assert.Equal(t, UnknownSupplierName, items[3].SupplierName)
}

func TestLowStockItems_Filters(t *testing.T) {
	a, _ := setupAdvisor(t)
	ctx := context.Background()

	items, err := a.LowStockItems(ctx, Filter{SupplierID: ptr(1)})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(10), items[0].ProductID)

	items, err = a.LowStockItems(ctx, Filter{UnknownSupplierOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(14), items[0].ProductID)
	assert.Equal(t, int64(15), items[1].ProductID)
}

func TestLowStockItems_DanglingSupplierFilter(t *testing.T) {
	a, _ := setupAdvisor(t)
	ctx := context.Background()

	items, err := a.LowStockItems(ctx, Filter{SupplierID: ptr(99)})
	require.NoError(t, err)
	assert.Empty(t, items)

	dash, err := a.ReorderDashboard(ctx)
	require.NoError(t, err)
	for _, g := range dash.Groups {
		if g.SupplierID != nil && *g.SupplierID == 99 {
			t.Fatalf("dangling supplier 99 got its own group")
		}
	}
}

func TestLowStockItems_TracksLedger(t *testing.T) {
	a, s := setupAdvisor(t)
	ctx := context.Background()
	l := ledger.New(s)

	_, err := l.Restock(ctx, ledger.Request{ProductID: 12, Quantity: 8})
	require.NoError(t, err)
	_, err = l.Reduce(ctx, ledger.Request{ProductID: 16, Quantity: 1})
	require.NoError(t, err)

	items, err := a.LowStockItems(ctx, Filter{})
	require.NoError(t, err)

	byID := make(map[int64]LowStockItem)
	for _, it := range items {
		byID[it.ProductID] = it
	}
	assert.NotContains(t, byID, int64(12), "restocked to its minimum level")
	require.Contains(t, byID, int64(16))
	assert.Equal(t, int64(1), byID[16].Shortage)
	assert.Nil(t, byID[16].LastRestockedAt)

	_, err = l.Restock(ctx, ledger.Request{ProductID: 10, Quantity: 1})
	require.NoError(t, err)
	items, err = a.LowStockItems(ctx, Filter{SupplierID: ptr(1)})
	require.NoError(t, err)
	require.NotNil(t, items[0].LastRestockedAt)
	assert.WithinDuration(t, time.Now(), *items[0].LastRestockedAt, time.Minute)
}

func TestReorderDashboard_Grouping(t *testing.T) {
	a, _ := setupAdvisor(t)

	d, err := a.ReorderDashboard(context.Background())
	require.NoError(t, err)

	require.Len(t, d.Groups, 3)
	assert.Equal(t, "Acme Foods", d.Groups[0].SupplierName)
	assert.Equal(t, "Zeta Dairy", d.Groups[1].SupplierName)
	assert.Equal(t, UnknownSupplierName, d.Groups[2].SupplierName)
	assert.Nil(t, d.Groups[2].SupplierID)

	zeta := d.Groups[1]
	require.NotNil(t, zeta.SupplierID)
	assert.Equal(t, int64(1), *zeta.SupplierID)
	assert.Len(t, zeta.Products, 2)
	assert.Equal(t, int64(21), zeta.TotalShortage)
	assert.Equal(t, int64(20+24), zeta.TotalSuggested)

	// no supplier and a dangling supplier id share the unknown group
	assert.Len(t, d.Groups[2].Products, 2)

	assert.Equal(t, 5, d.TotalProducts)
	assert.Equal(t, 2, d.OutOfStock)
}

func TestReorderDashboard_Empty(t *testing.T) {
	a := NewAdvisor(store.NewMemoryStore())

	d, err := a.ReorderDashboard(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d.Groups)
	assert.Empty(t, d.Groups)
}

type failingSource struct{ *store.MemoryStore }

func (*failingSource) ListProducts(context.Context) ([]domain.Product, error) {
	return nil, errors.New("db down")
}

func TestLowStockItems_SourceError(t *testing.T) {
	a := NewAdvisor(&failingSource{store.NewMemoryStore()})

	_, err := a.LowStockItems(context.Background(), Filter{})
	assert.ErrorContains(t, err, "db down")
}
