package domain

import "time"

// MovementSource identifies which operation produced a stock movement
type MovementSource string

const (
	SourceManualRestock MovementSource = "manual-restock"
	SourceManualReduce  MovementSource = "manual-reduce"
	SourceSet           MovementSource = "set"
	SourceCheckout      MovementSource = "checkout"
	SourceBulkRestock   MovementSource = "bulk-restock"
)

// IsRestock reports whether the source adds stock from a supplier delivery.
func (s MovementSource) IsRestock() bool {
	return s == SourceManualRestock || s == SourceBulkRestock
}

func (s MovementSource) String() string {
	return string(s)
}

// StockMovement is an immutable ledger entry. Delta is signed and ResultingQuantity
// is the product quantity right after the change.
type StockMovement struct {
	ID                int64          `json:"id"`
	ProductID         int64          `json:"product_id"`
	Delta             int64          `json:"delta"`
	ResultingQuantity int64          `json:"resulting_quantity"`
	Reason            string         `json:"reason,omitempty"`
	Source            MovementSource `json:"source"`
	Reference         string         `json:"reference,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
