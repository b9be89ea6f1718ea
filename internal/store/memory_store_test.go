package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *MemoryStore {
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.UpsertProduct(ctx, domain.Product{ID: 1, Name: "Rice 5kg", Quantity: 10, MinStockLevel: 5, Price: decimal.RequireFromString("12.50")}))
	require.NoError(t, store.UpsertProduct(ctx, domain.Product{ID: 2, Name: "Milk 1L", Quantity: 3, MinStockLevel: 10, Price: decimal.RequireFromString("1.20")}))
	return store
}

func TestMemoryStore_UpsertProduct_KeepsQuantity(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProduct(ctx, domain.Product{ID: 1, Name: "Rice 5kg premium", Quantity: 999, MinStockLevel: 6, Price: decimal.RequireFromString("13")}))

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rice 5kg premium", p.Name)
	assert.Equal(t, int64(10), p.Quantity)
	assert.Equal(t, int64(6), p.MinStockLevel)
}

func TestMemoryStore_UpsertProduct_RejectsNegative(t *testing.T) {
	store := setupStore(t)
	err := store.UpsertProduct(context.Background(), domain.Product{ID: 3, Quantity: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestMemoryStore_GetProduct_NotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.GetProduct(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestMemoryStore_GetProducts_SkipsUnknown(t *testing.T) {
	store := setupStore(t)
	products, err := store.GetProducts(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, "Milk 1L", products[2].Name)
}

func TestMemoryStore_InTx_CommitsMovement(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := &domain.StockMovement{ProductID: 1, Delta: 5, ResultingQuantity: 15, Source: domain.SourceManualRestock}
	err := store.InTx(ctx, []int64{1}, func(tx Tx) error {
		return tx.ApplyMovement(ctx, m, 10)
	})
	require.NoError(t, err)
	assert.NotZero(t, m.ID)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.Quantity)

	movements, err := store.Movements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, int64(5), movements[0].Delta)
	assert.False(t, movements[0].CreatedAt.IsZero())
}

func TestMemoryStore_InTx_RollbackOnError(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, []int64{1, 2}, func(tx Tx) error {
		require.NoError(t, tx.ApplyMovement(ctx, &domain.StockMovement{ProductID: 1, Delta: -1, ResultingQuantity: 9, Source: domain.SourceCheckout}, 10))
		require.NoError(t, tx.CreateOrder(ctx, &domain.Order{ID: uuid.New(), OwnerID: "o"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, _ := store.GetProduct(ctx, 1)
	assert.Equal(t, int64(10), p.Quantity)
	movements, _ := store.Movements(ctx, 1)
	assert.Empty(t, movements)
	orders, _ := store.ListOrdersByOwner(ctx, "o")
	assert.Empty(t, orders)
}

func TestMemoryStore_InTx_StagedWritesInvisibleUntilCommit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, []int64{1}, func(tx Tx) error {
		require.NoError(t, tx.ApplyMovement(ctx, &domain.StockMovement{ProductID: 1, Delta: -4, ResultingQuantity: 6}, 10))

		outside, err := store.GetProduct(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(10), outside.Quantity)

		inside, err := tx.ProductForUpdate(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(6), inside.Quantity)
		return nil
	})
	require.NoError(t, err)

	p, _ := store.GetProduct(ctx, 1)
	assert.Equal(t, int64(6), p.Quantity)
}

func TestMemoryStore_ApplyMovement_StalePrevious(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, []int64{1}, func(tx Tx) error {
		return tx.ApplyMovement(ctx, &domain.StockMovement{ProductID: 1, ResultingQuantity: 1}, 7)
	})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestMemoryStore_ProductForUpdate_NotLocked(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, []int64{1}, func(tx Tx) error {
		_, err := tx.ProductForUpdate(ctx, 2)
		return err
	})
	assert.ErrorIs(t, err, ErrNotLocked)
}

func TestMemoryStore_InTx_ExpiredContextDiscardsWrites(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := store.InTx(ctx, []int64{1}, func(tx Tx) error {
		if err := tx.ApplyMovement(ctx, &domain.StockMovement{ProductID: 1, Delta: -1, ResultingQuantity: 9}, 10); err != nil {
			return err
		}
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p, _ := store.GetProduct(context.Background(), 1)
	assert.Equal(t, int64(10), p.Quantity)
}

func TestMemoryStore_InTx_LockTimeout(t *testing.T) {
	store := setupStore(t)
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = store.InTx(context.Background(), []int64{1}, func(tx Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.InTx(ctx, []int64{1}, func(tx Tx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_LastRestocks(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	restockedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.InTx(ctx, []int64{1, 2}, func(tx Tx) error {
		if err := tx.ApplyMovement(ctx, &domain.StockMovement{ProductID: 1, Delta: 2, ResultingQuantity: 12, Source: domain.SourceBulkRestock, CreatedAt: restockedAt}, 10); err != nil {
			return err
		}
		return tx.ApplyMovement(ctx, &domain.StockMovement{ProductID: 2, Delta: -1, ResultingQuantity: 2, Source: domain.SourceManualReduce}, 3)
	}))

	last, err := store.LastRestocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, restockedAt, last[1])
	_, ok := last[2]
	assert.False(t, ok, "reductions are not restocks")
}

func TestMemoryStore_Orders(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	older := &domain.Order{ID: uuid.New(), OwnerID: "cashier-1", IdempotencyKey: "k1", CreatedAt: time.Now().Add(-time.Minute)}
	newer := &domain.Order{ID: uuid.New(), OwnerID: "cashier-1", CreatedAt: time.Now()}
	require.NoError(t, store.InTx(ctx, nil, func(tx Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, older))
		return tx.CreateOrder(ctx, newer)
	}))

	got, err := store.GetOrder(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "k1", got.IdempotencyKey)

	byKey, err := store.GetOrderByIdempotencyKey(ctx, "cashier-1", "k1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, byKey.ID)

	_, err = store.GetOrderByIdempotencyKey(ctx, "cashier-2", "k1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	list, err := store.ListOrdersByOwner(ctx, "cashier-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	_, err = store.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryStore_Outbox(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOutboxEvent(ctx, &domain.OutboxEvent{AggregateID: "a", EventType: domain.EventOrderCompleted, Payload: []byte(`{}`)}))
	require.NoError(t, store.AddOutboxEvent(ctx, &domain.OutboxEvent{AggregateID: "b", EventType: domain.EventOrderCompleted, Payload: []byte(`{}`)}))

	events, err := store.GetUnprocessedEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].AggregateID)

	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].AggregateID)

	assert.Error(t, store.MarkEventAsProcessed(ctx, 99))
}

func TestMemoryStore_Outbox_DropsProcessedEvents(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, store.AddOutboxEvent(ctx, &domain.OutboxEvent{AggregateID: "order", EventType: domain.EventOrderCompleted, Payload: []byte(`{}`)}))
	}
	events, err := store.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 100)

	// out of order, as concurrent publishers would
	for i := len(events) - 1; i >= 0; i -= 2 {
		require.NoError(t, store.MarkEventAsProcessed(ctx, events[i].ID))
	}
	assert.Len(t, store.events, 50)

	for i := 0; i < len(events); i += 2 {
		require.NoError(t, store.MarkEventAsProcessed(ctx, events[i].ID))
	}
	assert.Empty(t, store.events)
	assert.Error(t, store.MarkEventAsProcessed(ctx, events[0].ID), "processed events are gone")

	pending, err := store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
