// Package seed loads a small demo catalog for local runs.
package seed

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Catalog interface {
	UpsertSupplier(ctx context.Context, s domain.Supplier) error
	UpsertProduct(ctx context.Context, p domain.Product) error
}

func supplierID(id int64) *int64 { return &id }

var suppliers = []domain.Supplier{
	{ID: 1, Name: "Northwind Traders"},
	{ID: 2, Name: "Contoso Hardware"},
	{ID: 3, Name: "Fabrikam Foods"},
}

var products = []domain.Product{
	{ID: 1, Name: "Claw Hammer", Quantity: 25, MinStockLevel: 10, SupplierID: supplierID(2), Price: decimal.RequireFromString("14.99")},
	{ID: 2, Name: "Box of Wood Screws", Quantity: 4, MinStockLevel: 20, SupplierID: supplierID(2), Price: decimal.RequireFromString("6.49")},
	{ID: 3, Name: "Cordless Drill", Quantity: 0, MinStockLevel: 3, SupplierID: supplierID(2), Price: decimal.RequireFromString("89.00"), SuggestedOrderQuantity: supplierID(6)},
	{ID: 4, Name: "Ground Coffee 1kg", Quantity: 40, MinStockLevel: 15, SupplierID: supplierID(3), Price: decimal.RequireFromString("12.75")},
	{ID: 5, Name: "Green Tea 100 bags", Quantity: 8, MinStockLevel: 12, SupplierID: supplierID(3), Price: decimal.RequireFromString("4.20")},
	{ID: 6, Name: "Printer Paper A4", Quantity: 120, MinStockLevel: 50, SupplierID: supplierID(1), Price: decimal.RequireFromString("5.99")},
	{ID: 7, Name: "Ballpoint Pens 10 pack", Quantity: 2, MinStockLevel: 10, SupplierID: supplierID(1), Price: decimal.RequireFromString("3.50")},
	{ID: 8, Name: "Desk Lamp", Quantity: 1, MinStockLevel: 2, Price: decimal.RequireFromString("24.90")},
}

// Load upserts the demo suppliers and products. Running it again refreshes
// names and prices but keeps stock levels.
func Load(ctx context.Context, c Catalog) error {
	for _, s := range suppliers {
		if err := c.UpsertSupplier(ctx, s); err != nil {
			return fmt.Errorf("seed supplier %d: %w", s.ID, err)
		}
	}
	for _, p := range products {
		if err := c.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}
	zap.L().Info("demo catalog loaded", zap.Int("suppliers", len(suppliers)), zap.Int("products", len(products)))
	return nil
}
