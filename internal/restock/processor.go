// Package restock applies a batch of independent restocks. Unlike checkout a
// batch is not atomic: each item succeeds or fails on its own.
package restock

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/ledger"
	"github.com/fjod/go_cart/backoffice/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers  = 8
	DefaultMaxItems = 500
)

type Item struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

type Success struct {
	Index     int             `json:"index"`
	ProductID int64           `json:"product_id"`
	Added     int64           `json:"added"`
	Product   *domain.Product `json:"product"`
}

type Failure struct {
	Index     int    `json:"index"`
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// Result lists outcomes in input order.
type Result struct {
	Successful []Success `json:"successful"`
	Failed     []Failure `json:"failed"`
}

// Restocker is the ledger operation a batch item runs.
type Restocker interface {
	BulkRestockItem(ctx context.Context, req ledger.Request) (*domain.Product, error)
}

type Processor struct {
	ledger   Restocker
	workers  int
	maxItems int
}

type Option func(*Processor)

func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithMaxItems(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxItems = n
		}
	}
}

func NewProcessor(l Restocker, opts ...Option) *Processor {
	p := &Processor{ledger: l, workers: DefaultWorkers, maxItems: DefaultMaxItems}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome struct {
	product *domain.Product
	err     error
}

// Process restocks every item on a bounded pool of workers. It only fails for
// a batch that is empty or too large; item errors are reported in the result.
func (p *Processor) Process(ctx context.Context, items []Item) (*Result, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if len(items) > p.maxItems {
		return nil, fmt.Errorf("%d items, at most %d allowed: %w", len(items), p.maxItems, domain.ErrBatchTooLarge)
	}

	outcomes := make([]outcome, len(items))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, item := range items {
		g.Go(func() error {
			product, err := p.ledger.BulkRestockItem(ctx, ledger.Request{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Reason:    item.Reason,
			})
			outcomes[i] = outcome{product: product, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Successful: []Success{}, Failed: []Failure{}}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, Failure{
				Index:     i,
				ProductID: items[i].ProductID,
				Code:      domain.ErrorCode(o.err),
				Error:     o.err.Error(),
			})
			continue
		}
		result.Successful = append(result.Successful, Success{
			Index:     i,
			ProductID: items[i].ProductID,
			Added:     items[i].Quantity,
			Product:   o.product,
		})
	}

	logger.FromContext(ctx).Info("bulk restock processed",
		zap.Int("items", len(items)),
		zap.Int("successful", len(result.Successful)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}
