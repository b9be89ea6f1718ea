package cart

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/backoffice/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// Repository persists carts. Callers serialize mutations per owner; the
// implementations only need to keep each call atomic.
type Repository interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	// AddItem appends a line or adds to the quantity of an existing one
	AddItem(ctx context.Context, ownerID string, item domain.CartItem) error
	// UpdateItemQuantity returns domain.ErrItemNotFound when the line is absent
	UpdateItemQuantity(ctx context.Context, ownerID string, productID int64, quantity int64) error
	// RemoveItem returns domain.ErrItemNotFound when the line is absent
	RemoveItem(ctx context.Context, ownerID string, productID int64) error
	// DeleteCart returns ErrCartNotFound when there is nothing to delete
	DeleteCart(ctx context.Context, ownerID string) error
}
