package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
)

// sqlRepository stores carts in the carts and cart_items tables. Line order is
// kept in cart_items.position.
type sqlRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	c := &domain.Cart{OwnerID: ownerID}
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM carts WHERE owner_id = $1`, ownerID,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, quantity, added_at FROM cart_items WHERE owner_id = $1 ORDER BY position`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return c, nil
}

func (r *sqlRepository) AddItem(ctx context.Context, ownerID string, item domain.CartItem) (err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO carts (owner_id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET updated_at = excluded.updated_at`,
		ownerID, now)
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cart_items (owner_id, product_id, quantity, position, added_at)
		 VALUES ($1, $2, $3, (SELECT COALESCE(MAX(position), 0) + 1 FROM cart_items WHERE owner_id = $1), $4)
		 ON CONFLICT (owner_id, product_id) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity`,
		ownerID, item.ProductID, item.Quantity, now)
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *sqlRepository) UpdateItemQuantity(ctx context.Context, ownerID string, productID int64, quantity int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1 WHERE owner_id = $2 AND product_id = $3`,
		quantity, ownerID, productID)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	return r.touch(ctx, res, ownerID)
}

func (r *sqlRepository) RemoveItem(ctx context.Context, ownerID string, productID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE owner_id = $1 AND product_id = $2`,
		ownerID, productID)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return r.touch(ctx, res, ownerID)
}

// touch maps an untouched line to ErrItemNotFound and bumps the cart's updated_at otherwise.
func (r *sqlRepository) touch(ctx context.Context, res sql.Result, ownerID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrItemNotFound
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE carts SET updated_at = $1 WHERE owner_id = $2`, time.Now().UTC(), ownerID); err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}

func (r *sqlRepository) DeleteCart(ctx context.Context, ownerID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to delete cart items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		err = ErrCartNotFound
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
