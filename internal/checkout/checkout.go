// Package checkout turns an owner's cart into an order in one all-or-nothing
// step against the stock ledger.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/logger"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

// errReplay stops Consume from clearing the cart when an idempotency key
// matched an earlier order.
var errReplay = errors.New("checkout replayed")

type Request struct {
	PaymentMethod  string               `json:"payment_method"`
	Customer       *domain.CustomerInfo `json:"customer_info,omitempty"`
	Tax            decimal.Decimal      `json:"tax"`
	Discount       decimal.Decimal      `json:"discount"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// Carts hands out an owner's cart for the duration of fn and clears it iff fn succeeds.
type Carts interface {
	Consume(ctx context.Context, ownerID string, fn func(c *domain.Cart) error) error
}

// Ledger decrements stock inside a transaction owned by the caller.
type Ledger interface {
	DecrementForSale(ctx context.Context, tx store.Tx, productID, quantity int64, orderRef string) (*domain.Product, error)
}

type Service struct {
	store    store.Store
	carts    Carts
	ledger   Ledger
	timeout  time.Duration
	currency string
	now      func() time.Time
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
	}
}

func NewService(st store.Store, carts Carts, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		carts:    carts,
		ledger:   ledger,
		timeout:  DefaultTimeout,
		currency: "USD",
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type orderCompletedLine struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	LineTotal string `json:"line_total"`
}

type orderCompletedEvent struct {
	OrderID     string               `json:"order_id"`
	OwnerID     string               `json:"owner_id"`
	Items       []orderCompletedLine `json:"items"`
	TotalAmount string               `json:"total_amount"`
	Currency    string               `json:"currency"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Checkout validates every cart line against current stock, then decrements
// all of them and records the order in one transaction. Any failure leaves
// stock, orders and the cart untouched.
func (s *Service) Checkout(ctx context.Context, ownerID string, req Request) (*domain.Order, error) {
	if req.Tax.IsNegative() || req.Discount.IsNegative() {
		return nil, fmt.Errorf("tax and discount must not be negative: %w", domain.ErrInvalidAmount)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var order *domain.Order
	err := s.carts.Consume(ctx, ownerID, func(c *domain.Cart) error {
		if req.IdempotencyKey != "" {
			existing, err := s.store.GetOrderByIdempotencyKey(ctx, ownerID, req.IdempotencyKey)
			if err == nil {
				order = existing
				return errReplay
			}
			if !errors.Is(err, domain.ErrOrderNotFound) {
				return err
			}
		}
		if c.IsEmpty() {
			return domain.ErrEmptyCart
		}

		placed, err := s.placeOrder(ctx, ownerID, c, req)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})

	log := logger.FromContext(ctx).With(zap.String("owner_id", ownerID))
	if errors.Is(err, errReplay) {
		log.Info("checkout replayed", zap.String("order_id", order.ID.String()))
		return order, nil
	}
	if err != nil {
		err = timeoutError(ctx, err)
		log.Info("checkout failed", zap.String("code", domain.ErrorCode(err)), zap.Error(err))
		return nil, err
	}

	log.Info("checkout completed",
		zap.String("order_id", order.ID.String()),
		zap.Int("lines", len(order.Lines)),
		zap.String("total", order.Total.StringFixed(2)))
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, ownerID string, c *domain.Cart, req Request) (*domain.Order, error) {
	order := &domain.Order{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Status:         domain.OrderStatusCompleted,
		Tax:            req.Tax,
		Discount:       req.Discount,
		Currency:       s.currency,
		PaymentMethod:  req.PaymentMethod,
		Customer:       req.Customer,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.now(),
	}

	err := s.store.InTx(ctx, c.ProductIDs(), func(tx store.Tx) error {
		// every line is checked before anything is written
		products := make([]*domain.Product, len(c.Items))
		subtotal := decimal.Zero
		for i, item := range c.Items {
			p, err := tx.ProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if p.Quantity < item.Quantity {
				return &domain.InsufficientStockError{ProductID: p.ID, Requested: item.Quantity, Available: p.Quantity}
			}
			products[i] = p
			subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(item.Quantity)))
		}

		order.Subtotal = subtotal
		order.Total = subtotal.Add(req.Tax).Sub(req.Discount)
		if order.Total.IsNegative() {
			return fmt.Errorf("discount exceeds subtotal plus tax: %w", domain.ErrInvalidAmount)
		}

		order.Lines = make([]domain.OrderLine, 0, len(c.Items))
		for i, item := range c.Items {
			if _, err := s.ledger.DecrementForSale(ctx, tx, item.ProductID, item.Quantity, order.ID.String()); err != nil {
				return err
			}
			p := products[i]
			order.Lines = append(order.Lines, domain.OrderLine{
				ProductID:   p.ID,
				ProductName: p.Name,
				UnitPrice:   p.Price,
				Quantity:    item.Quantity,
				LineTotal:   p.Price.Mul(decimal.NewFromInt(item.Quantity)),
			})
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		payload, err := json.Marshal(completedEvent(order))
		if err != nil {
			return fmt.Errorf("failed to marshal order payload: %w", err)
		}
		return tx.AddOutboxEvent(ctx, &domain.OutboxEvent{
			AggregateID: order.ID.String(),
			EventType:   domain.EventOrderCompleted,
			Payload:     payload,
			CreatedAt:   order.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func completedEvent(o *domain.Order) orderCompletedEvent {
	ev := orderCompletedEvent{
		OrderID:     o.ID.String(),
		OwnerID:     o.OwnerID,
		Items:       make([]orderCompletedLine, 0, len(o.Lines)),
		TotalAmount: o.Total.StringFixed(2),
		Currency:    o.Currency,
		CompletedAt: o.CreatedAt,
	}
	for _, l := range o.Lines {
		ev.Items = append(ev.Items, orderCompletedLine{ProductID: l.ProductID, Quantity: l.Quantity, LineTotal: l.LineTotal.StringFixed(2)})
	}
	return ev
}

// timeoutError reports infrastructure failures caused by the checkout deadline
// as ErrCheckoutTimeout. Domain rejections are returned unchanged.
func timeoutError(ctx context.Context, err error) error {
	if domain.ErrorCode(err) != "internal_error" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrCheckoutTimeout, err)
	}
	return err
}

// GetOrder returns a recorded order.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns the owner's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	orders, err := s.store.ListOrdersByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	return orders, nil
}
