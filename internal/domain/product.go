package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog record together with its authoritative stock level.
// Quantity is only ever changed through the stock ledger.
type Product struct {
	ID                     int64           `json:"id"`
	Name                   string          `json:"name"`
	Quantity               int64           `json:"quantity"`
	MinStockLevel          int64           `json:"min_stock_level"`
	SupplierID             *int64          `json:"supplier_id,omitempty"`
	Price                  decimal.Decimal `json:"price"`
	SuggestedOrderQuantity *int64          `json:"suggested_order_quantity,omitempty"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// IsLowStock reports whether the product is below its minimum level (out of stock included).
func (p Product) IsLowStock() bool {
	return p.Quantity < p.MinStockLevel
}

func (p Product) IsOutOfStock() bool {
	return p.Quantity == 0
}

// Supplier is the lookup record a product's SupplierID points at.
type Supplier struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
