package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/checkout"
	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CheckoutService interface {
	Checkout(ctx context.Context, ownerID string, req checkout.Request) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, ownerID string) ([]*domain.Order, error)
}

// CheckoutHandler serves checkout and the owner's order history. Its timeout
// should exceed the checkout service's own deadline so that one reports first.
type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
}

func NewCheckoutHandler(svc CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: svc,
		timeout:  timeout,
	}
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req checkout.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	order, err := h.checkout.Checkout(ctx, getOwnerIDFromContext(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// GET /api/v1/orders
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.checkout.ListOrders(ctx, getOwnerIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{id}
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order id must be a UUID")
		return
	}

	order, err := h.checkout.GetOrder(ctx, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	// other owners' orders are reported as missing
	if order.OwnerID != getOwnerIDFromContext(r.Context()) {
		handleServiceError(w, r, domain.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, order)
}
