package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Inventory *InventoryHandler
	Cart      *CartHandler
	Checkout  *CheckoutHandler
}

// NewRouter mounts the back office API. Inventory routes are not owner scoped;
// cart, checkout and order routes require the owner header.
func NewRouter(h Handlers, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products/{id}", func(r chi.Router) {
			r.Get("/", h.Inventory.GetProduct)
			r.Get("/movements", h.Inventory.GetMovements)
			r.Post("/restock", h.Inventory.Restock)
			r.Post("/reduce", h.Inventory.Reduce)
			r.Put("/quantity", h.Inventory.SetQuantity)
		})
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/bulk-restock", h.Inventory.BulkRestock)
			r.Get("/low-stock", h.Inventory.LowStock)
			r.Get("/reorder-dashboard", h.Inventory.ReorderDashboard)
		})

		r.Group(func(r chi.Router) {
			r.Use(OwnerMiddleware)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/items", h.Cart.AddItem)
				r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
				r.Delete("/items/{product_id}", h.Cart.RemoveItem)
			})
			r.Post("/checkout", h.Checkout.Checkout)
			r.Get("/orders", h.Checkout.ListOrders)
			r.Get("/orders/{id}", h.Checkout.GetOrder)
		})
	})

	return r
}
