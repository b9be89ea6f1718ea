package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/keylock"
	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory storage. Per-product locks
// serialize transactions on the same product; mu only guards the maps for the
// short time it takes to read or commit.
type MemoryStore struct {
	mu             sync.RWMutex
	products       map[int64]*domain.Product
	suppliers      map[int64]domain.Supplier
	movements      map[int64][]domain.StockMovement // productID -> movements in append order
	nextMovementID int64
	orders         map[uuid.UUID]*domain.Order
	events         []*domain.OutboxEvent // pending only, ascending id
	nextEventID    int64

	locks *keylock.Locker[int64]
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[int64]*domain.Product),
		suppliers: make(map[int64]domain.Supplier),
		movements: make(map[int64][]domain.StockMovement),
		orders:    make(map[uuid.UUID]*domain.Order),
		locks:     keylock.New[int64](),
		now:       time.Now,
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
	}
	return cloneProduct(p), nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = *cloneProduct(p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, *cloneProduct(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		result = append(result, sup)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpsertProduct inserts a product with its initial quantity, or updates the
// catalog fields of an existing one while keeping its quantity.
func (s *MemoryStore) UpsertProduct(_ context.Context, p domain.Product) error {
	if p.Quantity < 0 || p.MinStockLevel < 0 {
		return domain.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneProduct(&p)
	stored.UpdatedAt = s.now()
	if existing, ok := s.products[p.ID]; ok {
		stored.Quantity = existing.Quantity
	}
	s.products[p.ID] = stored
	return nil
}

func (s *MemoryStore) UpsertSupplier(_ context.Context, sup domain.Supplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppliers[sup.ID] = sup
	return nil
}

// InTx locks the products in ascending id order, stages every write made by fn
// and publishes them in one step. A context that expired while fn ran discards
// the staged writes.
func (s *MemoryStore) InTx(ctx context.Context, productIDs []int64, fn func(tx Tx) error) error {
	unlock, err := s.locks.LockAll(ctx, productIDs)
	if err != nil {
		return fmt.Errorf("failed to lock products: %w", err)
	}
	defer unlock()

	tx := &memoryTx{
		store:  s,
		locked: make(map[int64]bool, len(productIDs)),
		staged: make(map[int64]*domain.Product),
	}
	for _, id := range productIDs {
		tx.locked[id] = true
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, staged := range tx.staged {
		if p, ok := s.products[id]; ok {
			p.Quantity = staged.Quantity
			p.UpdatedAt = now
		}
	}
	for _, m := range tx.movements {
		s.nextMovementID++
		m.ID = s.nextMovementID
		s.movements[m.ProductID] = append(s.movements[m.ProductID], *m)
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = cloneOrder(o)
	}
	for _, e := range tx.events {
		s.appendEvent(e)
	}
}

func (s *MemoryStore) Movements(_ context.Context, productID int64) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrProductNotFound)
	}
	return slices.Clone(s.movements[productID]), nil
}

func (s *MemoryStore) LastRestocks(_ context.Context) (map[int64]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]time.Time)
	for productID, movements := range s.movements {
		for _, m := range movements {
			if m.Source.IsRestock() && m.CreatedAt.After(result[productID]) {
				result[productID] = m.CreatedAt
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetOrderByIdempotencyKey(_ context.Context, ownerID, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.OwnerID == ownerID && o.IdempotencyKey != "" && o.IdempotencyKey == key {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

// ListOrdersByOwner returns the owner's orders, newest first
func (s *MemoryStore) ListOrdersByOwner(_ context.Context, ownerID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) AddOutboxEvent(_ context.Context, event *domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEvent(event)
	return nil
}

func (s *MemoryStore) appendEvent(event *domain.OutboxEvent) {
	s.nextEventID++
	event.ID = s.nextEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	stored := *event
	stored.Payload = slices.Clone(event.Payload)
	s.events = append(s.events, &stored)
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := max(0, min(limit, len(s.events)))
	result := make([]*domain.OutboxEvent, 0, n)
	for _, e := range s.events[:n] {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// MarkEventAsProcessed drops the event; a processed event is never read again.
func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, found := slices.BinarySearchFunc(s.events, id, func(e *domain.OutboxEvent, id int64) int {
		return cmp.Compare(e.ID, id)
	})
	if !found {
		return fmt.Errorf("outbox event %d not found", id)
	}
	s.events = slices.Delete(s.events, i, i+1)
	return nil
}

// Close is a no-op; the store holds no external resources
func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	store     *MemoryStore
	locked    map[int64]bool
	staged    map[int64]*domain.Product
	movements []*domain.StockMovement
	orders    []*domain.Order
	events    []*domain.OutboxEvent
}

func (tx *memoryTx) ProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	if !tx.locked[id] {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotLocked)
	}
	if p, ok := tx.staged[id]; ok {
		return cloneProduct(p), nil
	}
	return tx.store.GetProduct(ctx, id)
}

func (tx *memoryTx) ApplyMovement(ctx context.Context, m *domain.StockMovement, previous int64) error {
	current, err := tx.ProductForUpdate(ctx, m.ProductID)
	if err != nil {
		return err
	}
	if current.Quantity != previous {
		return fmt.Errorf("product %d: %w", m.ProductID, ErrConcurrentUpdate)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = tx.store.now()
	}
	current.Quantity = m.ResultingQuantity
	tx.staged[m.ProductID] = current
	tx.movements = append(tx.movements, m)
	return nil
}

func (tx *memoryTx) CreateOrder(_ context.Context, order *domain.Order) error {
	tx.orders = append(tx.orders, order)
	return nil
}

func (tx *memoryTx) AddOutboxEvent(_ context.Context, event *domain.OutboxEvent) error {
	tx.events = append(tx.events, event)
	return nil
}

func cloneProduct(p *domain.Product) *domain.Product {
	cp := *p
	if p.SupplierID != nil {
		v := *p.SupplierID
		cp.SupplierID = &v
	}
	if p.SuggestedOrderQuantity != nil {
		v := *p.SuggestedOrderQuantity
		cp.SuggestedOrderQuantity = &v
	}
	return &cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	if o.Customer != nil {
		c := *o.Customer
		cp.Customer = &c
	}
	return &cp
}
