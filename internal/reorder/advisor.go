// Package reorder derives low-stock and reorder views from the catalog and the
// movement log. It holds no state of its own, so every call reflects the
// ledger as it is now.
package reorder

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/shopspring/decimal"
)

const UnknownSupplierName = "Unknown Supplier"

// Source is the read side the advisor projects from.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	LastRestocks(ctx context.Context) (map[int64]time.Time, error)
}

type LowStockItem struct {
	ProductID              int64           `json:"product_id"`
	Name                   string          `json:"name"`
	Quantity               int64           `json:"quantity"`
	MinStockLevel          int64           `json:"min_stock_level"`
	SupplierID             *int64          `json:"supplier_id,omitempty"`
	SupplierName           string          `json:"supplier_name"`
	Price                  decimal.Decimal `json:"price"`
	Shortage               int64           `json:"shortage"`
	SuggestedOrderQuantity int64           `json:"suggested_order_quantity"`
	OutOfStock             bool            `json:"out_of_stock"`
	LastRestockedAt        *time.Time      `json:"last_restocked_at,omitempty"`

	knownSupplier bool
}

type Group struct {
	// SupplierID is nil for the unknown-supplier group
	SupplierID     *int64         `json:"supplier_id"`
	SupplierName   string         `json:"supplier_name"`
	Products       []LowStockItem `json:"products"`
	TotalShortage  int64          `json:"total_shortage"`
	TotalSuggested int64          `json:"total_suggested"`
}

type Dashboard struct {
	Groups        []Group   `json:"groups"`
	TotalProducts int       `json:"total_products"`
	OutOfStock    int       `json:"out_of_stock"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Filter narrows LowStockItems. The zero value matches everything.
type Filter struct {
	SupplierID          *int64
	UnknownSupplierOnly bool
}

type Advisor struct {
	source Source
	now    func() time.Time
}

func NewAdvisor(source Source) *Advisor {
	return &Advisor{source: source, now: func() time.Time { return time.Now().UTC() }}
}

// Shortage is how far the product is below its minimum level, never negative.
func Shortage(p domain.Product) int64 {
	return max(0, p.MinStockLevel-p.Quantity)
}

// SuggestedOrderQuantity prefers the product's configured suggestion and
// otherwise orders enough to cover the shortage, at least one minimum level.
func SuggestedOrderQuantity(p domain.Product) int64 {
	if p.SuggestedOrderQuantity != nil {
		return *p.SuggestedOrderQuantity
	}
	return max(Shortage(p), p.MinStockLevel)
}

// LowStockItems returns every product with quantity below its minimum level,
// out-of-stock included, largest shortage first.
func (a *Advisor) LowStockItems(ctx context.Context, f Filter) ([]LowStockItem, error) {
	products, err := a.source.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	suppliers, err := a.source.ListSuppliers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	restocks, err := a.source.LastRestocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read restock history: %w", err)
	}

	names := make(map[int64]string, len(suppliers))
	for _, s := range suppliers {
		names[s.ID] = s.Name
	}

	items := []LowStockItem{}
	for _, p := range products {
		if !p.IsLowStock() {
			continue
		}
		supplierName, known := UnknownSupplierName, false
		if p.SupplierID != nil {
			if name, ok := names[*p.SupplierID]; ok {
				supplierName, known = name, true
			}
		}
		if f.UnknownSupplierOnly && known {
			continue
		}
		// a dangling supplier id belongs to the unknown group, not to that id
		if f.SupplierID != nil && (!known || *p.SupplierID != *f.SupplierID) {
			continue
		}

		item := LowStockItem{
			ProductID:              p.ID,
			Name:                   p.Name,
			Quantity:               p.Quantity,
			MinStockLevel:          p.MinStockLevel,
			SupplierID:             p.SupplierID,
			SupplierName:           supplierName,
			Price:                  p.Price,
			Shortage:               Shortage(p),
			SuggestedOrderQuantity: SuggestedOrderQuantity(p),
			OutOfStock:             p.IsOutOfStock(),
			knownSupplier:          known,
		}
		if at, ok := restocks[p.ID]; ok {
			item.LastRestockedAt = &at
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b LowStockItem) int {
		if c := cmp.Compare(b.Shortage, a.Shortage); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return items, nil
}

// ReorderDashboard groups the low-stock items by supplier. Products without a
// supplier, or whose supplier no longer exists, share the unknown group, which
// always comes last.
func (a *Advisor) ReorderDashboard(ctx context.Context) (*Dashboard, error) {
	items, err := a.LowStockItems(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	var (
		groups  []*Group
		unknown *Group
		byID    = make(map[int64]*Group)
	)
	for _, item := range items {
		var g *Group
		if !item.knownSupplier {
			if unknown == nil {
				unknown = &Group{SupplierName: UnknownSupplierName}
			}
			g = unknown
		} else {
			g = byID[*item.SupplierID]
			if g == nil {
				id := *item.SupplierID
				g = &Group{SupplierID: &id, SupplierName: item.SupplierName}
				byID[id] = g
				groups = append(groups, g)
			}
		}
		g.Products = append(g.Products, item)
		g.TotalShortage += item.Shortage
		g.TotalSuggested += item.SuggestedOrderQuantity
	}

	slices.SortFunc(groups, func(a, b *Group) int {
		if c := cmp.Compare(a.SupplierName, b.SupplierName); c != 0 {
			return c
		}
		return cmp.Compare(*a.SupplierID, *b.SupplierID)
	})
	if unknown != nil {
		groups = append(groups, unknown)
	}

	d := &Dashboard{Groups: make([]Group, 0, len(groups)), GeneratedAt: a.now()}
	for _, g := range groups {
		d.Groups = append(d.Groups, *g)
		d.TotalProducts += len(g.Products)
		for _, p := range g.Products {
			if p.OutOfStock {
				d.OutOfStock++
			}
		}
	}
	return d, nil
}
