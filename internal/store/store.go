package store

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/google/uuid"
)

// Common errors returned by stores
var (
	ErrConcurrentUpdate = errors.New("stock changed outside the transaction")
	ErrNotLocked        = errors.New("product is not part of the transaction")
)

// Catalog is the read contract of product and supplier records.
// The upserts exist for seeding and catalog administration and never touch
// the quantity of an existing product.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// GetProducts returns the products that exist among ids, keyed by id
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	UpsertProduct(ctx context.Context, p domain.Product) error
	UpsertSupplier(ctx context.Context, s domain.Supplier) error
}

// Tx is the unit of work handed to InTx callbacks. Nothing written through it is
// visible to other callers until the callback returns nil.
type Tx interface {
	// ProductForUpdate reads a product that was locked when the transaction began
	ProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)

	// ApplyMovement sets the product quantity to m.ResultingQuantity provided it is
	// still previous, and appends m to the movement log. ID and CreatedAt are filled in.
	ApplyMovement(ctx context.Context, m *domain.StockMovement, previous int64) error

	CreateOrder(ctx context.Context, order *domain.Order) error
	AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
}

// Store is the stock ledger's persistence. Implementations must serialize
// transactions that share a product id and let the others run in parallel.
type Store interface {
	Catalog

	// InTx locks productIDs, runs fn and commits iff fn returns nil
	InTx(ctx context.Context, productIDs []int64, fn func(tx Tx) error) error

	Movements(ctx context.Context, productID int64) ([]domain.StockMovement, error)
	// LastRestocks returns the time of the latest restock movement per product
	LastRestocks(ctx context.Context) (map[int64]time.Time, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error)

	AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error

	Close() error
}
