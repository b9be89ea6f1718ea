package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/ledger"
	"github.com/fjod/go_cart/backoffice/internal/reorder"
	"github.com/fjod/go_cart/backoffice/internal/restock"
)

type StockLedger interface {
	Product(ctx context.Context, productID int64) (*domain.Product, error)
	Movements(ctx context.Context, productID int64) ([]domain.StockMovement, error)
	Restock(ctx context.Context, req ledger.Request) (*domain.Product, error)
	Reduce(ctx context.Context, req ledger.Request) (*domain.Product, error)
	SetQuantity(ctx context.Context, req ledger.Request) (*domain.Product, error)
}

type BulkRestocker interface {
	Process(ctx context.Context, items []restock.Item) (*restock.Result, error)
}

type ReorderAdvisor interface {
	LowStockItems(ctx context.Context, f reorder.Filter) ([]reorder.LowStockItem, error)
	ReorderDashboard(ctx context.Context) (*reorder.Dashboard, error)
}

type InventoryHandler struct {
	ledger  StockLedger
	bulk    BulkRestocker
	advisor ReorderAdvisor
	timeout time.Duration
}

func NewInventoryHandler(l StockLedger, bulk BulkRestocker, advisor ReorderAdvisor, timeout time.Duration) *InventoryHandler {
	return &InventoryHandler{
		ledger:  l,
		bulk:    bulk,
		advisor: advisor,
		timeout: timeout,
	}
}

type AdjustRequestDTO struct {
	Quantity int64  `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

type BulkRestockRequestDTO struct {
	Items []restock.Item `json:"items"`
}

// GET /api/v1/products/{id}
func (h *InventoryHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := positiveIDParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.ledger.Product(ctx, productID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GET /api/v1/products/{id}/movements
func (h *InventoryHandler) GetMovements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := positiveIDParam(w, r, "id")
	if !ok {
		return
	}
	movements, err := h.ledger.Movements(ctx, productID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if movements == nil {
		movements = []domain.StockMovement{}
	}
	respondJSON(w, http.StatusOK, movements)
}

// POST /api/v1/products/{id}/restock
func (h *InventoryHandler) Restock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.Restock)
}

// POST /api/v1/products/{id}/reduce
func (h *InventoryHandler) Reduce(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.Reduce)
}

// PUT /api/v1/products/{id}/quantity
func (h *InventoryHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.ledger.SetQuantity)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.Request) (*domain.Product, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := positiveIDParam(w, r, "id")
	if !ok {
		return
	}
	var req AdjustRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := op(ctx, ledger.Request{ProductID: productID, Quantity: req.Quantity, Reason: req.Reason})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// POST /api/v1/inventory/bulk-restock
func (h *InventoryHandler) BulkRestock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req BulkRestockRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.bulk.Process(ctx, req.Items)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/inventory/low-stock?supplier_id=<id|unknown>
func (h *InventoryHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var f reorder.Filter
	switch raw := r.URL.Query().Get("supplier_id"); raw {
	case "":
	case "unknown":
		f.UnknownSupplierOnly = true
	default:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_supplier_id", "supplier_id must be a positive integer or \"unknown\"")
			return
		}
		f.SupplierID = &id
	}

	items, err := h.advisor.LowStockItems(ctx, f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []reorder.LowStockItem{}
	}
	respondJSON(w, http.StatusOK, items)
}

// GET /api/v1/inventory/reorder-dashboard
func (h *InventoryHandler) ReorderDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	dash, err := h.advisor.ReorderDashboard(ctx)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dash)
}
