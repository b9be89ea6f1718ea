// Package ledger is the authoritative record of on-hand stock. Every quantity
// change goes through here, is validated against the non-negativity rule and is
// appended to the movement log in the same transaction.
package ledger

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/logger"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"go.uber.org/zap"
)

// DefaultMaxQuantity is the ceiling for any single request and any resulting stock level.
const DefaultMaxQuantity int64 = 1_000_000_000

// Request is a single-product adjustment.
type Request struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

type Ledger struct {
	store       store.Store
	maxQuantity int64
}

type Option func(*Ledger)

// WithMaxQuantity overrides DefaultMaxQuantity. Non-positive values are ignored.
func WithMaxQuantity(n int64) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxQuantity = n
		}
	}
}

func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: s, maxQuantity: DefaultMaxQuantity}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restock adds stock received outside a batch.
func (l *Ledger) Restock(ctx context.Context, req Request) (*domain.Product, error) {
	return l.restock(ctx, req, domain.SourceManualRestock)
}

// BulkRestockItem is Restock as performed for one item of a bulk restock batch.
func (l *Ledger) BulkRestockItem(ctx context.Context, req Request) (*domain.Product, error) {
	return l.restock(ctx, req, domain.SourceBulkRestock)
}

func (l *Ledger) restock(ctx context.Context, req Request, source domain.MovementSource) (*domain.Product, error) {
	if err := l.checkPositive(req.Quantity); err != nil {
		return nil, err
	}
	return l.adjust(ctx, req, source, func(current int64) (int64, error) {
		if current > l.maxQuantity-req.Quantity {
			return 0, fmt.Errorf("stock of product %d would exceed %d: %w", req.ProductID, l.maxQuantity, domain.ErrInvalidQuantity)
		}
		return current + req.Quantity, nil
	})
}

// Reduce removes stock for reasons other than a sale (damage, shrinkage, returns to supplier).
func (l *Ledger) Reduce(ctx context.Context, req Request) (*domain.Product, error) {
	if err := l.checkPositive(req.Quantity); err != nil {
		return nil, err
	}
	return l.adjust(ctx, req, domain.SourceManualReduce, decrementBy(req.ProductID, req.Quantity))
}

// SetQuantity overwrites the stock level, e.g. after a physical count. The
// movement records the signed difference, zero included.
func (l *Ledger) SetQuantity(ctx context.Context, req Request) (*domain.Product, error) {
	if req.Quantity < 0 || req.Quantity > l.maxQuantity {
		return nil, fmt.Errorf("quantity %d must be between 0 and %d: %w", req.Quantity, l.maxQuantity, domain.ErrInvalidQuantity)
	}
	return l.adjust(ctx, req, domain.SourceSet, func(int64) (int64, error) {
		return req.Quantity, nil
	})
}

// DecrementForSale reduces stock for one order line inside the caller's
// transaction. The caller owns commit and rollback.
func (l *Ledger) DecrementForSale(ctx context.Context, tx store.Tx, productID, quantity int64, orderRef string) (*domain.Product, error) {
	if err := l.checkPositive(quantity); err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, productID, domain.SourceCheckout, "sale", orderRef, decrementBy(productID, quantity))
}

// Product returns the current state of a product.
func (l *Ledger) Product(ctx context.Context, productID int64) (*domain.Product, error) {
	return l.store.GetProduct(ctx, productID)
}

// Movements returns the product's movement log, oldest first.
func (l *Ledger) Movements(ctx context.Context, productID int64) ([]domain.StockMovement, error) {
	return l.store.Movements(ctx, productID)
}

func (l *Ledger) adjust(ctx context.Context, req Request, source domain.MovementSource, next func(current int64) (int64, error)) (*domain.Product, error) {
	var updated *domain.Product
	err := l.store.InTx(ctx, []int64{req.ProductID}, func(tx store.Tx) error {
		p, err := l.apply(ctx, tx, req.ProductID, source, req.Reason, "", next)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Debug("stock adjustment rejected",
			zap.Int64("product_id", req.ProductID),
			zap.String("source", source.String()),
			zap.Int64("quantity", req.Quantity),
			zap.Error(err))
		return nil, err
	}

	logger.FromContext(ctx).Info("stock adjusted",
		zap.Int64("product_id", updated.ID),
		zap.String("source", source.String()),
		zap.Int64("quantity", updated.Quantity))
	return updated, nil
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, productID int64, source domain.MovementSource, reason, ref string, next func(current int64) (int64, error)) (*domain.Product, error) {
	p, err := tx.ProductForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}

	quantity, err := next(p.Quantity)
	if err != nil {
		return nil, err
	}
	if quantity < 0 {
		// stock never goes negative, whatever next returns
		return nil, &domain.InsufficientStockError{ProductID: productID, Requested: p.Quantity - quantity, Available: p.Quantity}
	}

	m := &domain.StockMovement{
		ProductID:         productID,
		Delta:             quantity - p.Quantity,
		ResultingQuantity: quantity,
		Reason:            reason,
		Source:            source,
		Reference:         ref,
	}
	if err := tx.ApplyMovement(ctx, m, p.Quantity); err != nil {
		return nil, fmt.Errorf("failed to apply movement: %w", err)
	}

	p.Quantity = quantity
	p.UpdatedAt = m.CreatedAt
	return p, nil
}

func (l *Ledger) checkPositive(quantity int64) error {
	if quantity <= 0 || quantity > l.maxQuantity {
		return fmt.Errorf("quantity %d must be between 1 and %d: %w", quantity, l.maxQuantity, domain.ErrInvalidQuantity)
	}
	return nil
}

func decrementBy(productID, quantity int64) func(int64) (int64, error) {
	return func(current int64) (int64, error) {
		if quantity > current {
			return 0, &domain.InsufficientStockError{ProductID: productID, Requested: quantity, Available: current}
		}
		return current - quantity, nil
	}
}
