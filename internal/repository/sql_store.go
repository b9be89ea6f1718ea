package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/domain"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements store.Store on postgres or sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the handle for collaborators that share the schema, such as the SQL cart repository.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

const productColumns = `id, name, quantity, min_stock_level, supplier_id, price, suggested_order_quantity, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var (
		p         domain.Product
		supplier  sql.NullInt64
		suggested sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Quantity, &p.MinStockLevel, &supplier, &p.Price, &suggested, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if supplier.Valid {
		p.SupplierID = &supplier.Int64
	}
	if suggested.Valid {
		p.SuggestedOrderQuantity = &suggested.Int64
	}
	return &p, nil
}

func getProduct(ctx context.Context, q queryer, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, s.db, id)
}

func (s *SQLStore) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		result[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

func (s *SQLStore) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM suppliers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []domain.Supplier
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return suppliers, nil
}

// UpsertProduct inserts a product with its initial quantity, or updates the
// catalog fields of an existing one while keeping its quantity.
func (s *SQLStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.Quantity < 0 || p.MinStockLevel < 0 {
		return domain.ErrInvalidQuantity
	}

	query := `INSERT INTO products (` + productColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (id) DO UPDATE SET
	              name = excluded.name,
	              min_stock_level = excluded.min_stock_level,
	              supplier_id = excluded.supplier_id,
	              price = excluded.price,
	              suggested_order_quantity = excluded.suggested_order_quantity,
	              updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Quantity,
		p.MinStockLevel,
		nullInt64(p.SupplierID),
		p.Price,
		nullInt64(p.SuggestedOrderQuantity),
		s.now())
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertSupplier(ctx context.Context, sup domain.Supplier) error {
	query := `INSERT INTO suppliers (id, name) VALUES ($1, $2)
	          ON CONFLICT (id) DO UPDATE SET name = excluded.name`

	if _, err := s.db.ExecContext(ctx, query, sup.ID, sup.Name); err != nil {
		return fmt.Errorf("upsert supplier: %w", err)
	}
	return nil
}

// InTx runs fn in a database transaction. On postgres the product rows are
// locked up front in ascending id order; sqlite has a single connection so
// transactions never overlap.
func (s *SQLStore) InTx(ctx context.Context, productIDs []int64, fn func(tx store.Tx) error) (err error) {
	ids := slices.Clone(productIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.dialect == DialectPostgres && len(ids) > 0 {
		if err := lockProducts(ctx, tx, ids); err != nil {
			return err
		}
	}

	sqlTx := &sqlTx{tx: tx, store: s, locked: make(map[int64]bool, len(ids))}
	for _, id := range ids {
		sqlTx.locked[id] = true
	}

	if err := fn(sqlTx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func lockProducts(ctx context.Context, tx *sql.Tx, ids []int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to lock products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to lock products: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock products: %w", err)
	}
	return nil
}

func (s *SQLStore) Movements(ctx context.Context, productID int64) ([]domain.StockMovement, error) {
	query := `SELECT id, product_id, delta, resulting_quantity, reason, source, reference, created_at
	          FROM stock_movements WHERE product_id = $1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.ResultingQuantity, &m.Reason, &m.Source, &m.Reference, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return movements, nil
}

func (s *SQLStore) LastRestocks(ctx context.Context) (map[int64]time.Time, error) {
	query := `SELECT product_id, created_at FROM stock_movements WHERE source IN ($1, $2)`

	rows, err := s.db.QueryContext(ctx, query, domain.SourceManualRestock, domain.SourceBulkRestock)
	if err != nil {
		return nil, fmt.Errorf("failed to query restocks: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]time.Time)
	for rows.Next() {
		var (
			productID int64
			at        time.Time
		)
		if err := rows.Scan(&productID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan restock: %w", err)
		}
		if at.After(result[productID]) {
			result[productID] = at
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

const orderColumns = `id, owner_id, status, subtotal, tax, discount, total, currency, payment_method,
	customer_name, customer_phone, customer_email, idempotency_key, created_at`

func (s *SQLStore) scanOrder(ctx context.Context, row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o                  domain.Order
		name, phone, email sql.NullString
		idempotencyKey     sql.NullString
	)
	err := row.Scan(
		&o.ID,
		&o.OwnerID,
		&o.Status,
		&o.Subtotal,
		&o.Tax,
		&o.Discount,
		&o.Total,
		&o.Currency,
		&o.PaymentMethod,
		&name,
		&phone,
		&email,
		&idempotencyKey,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name.Valid || phone.Valid || email.Valid {
		o.Customer = &domain.CustomerInfo{Name: name.String, Phone: phone.String, Email: email.String}
	}
	o.IdempotencyKey = idempotencyKey.String

	lines, err := s.orderLines(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return &o, nil
}

func (s *SQLStore) orderLines(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLine, error) {
	query := `SELECT product_id, product_name, unit_price, quantity, line_total
	          FROM order_items WHERE order_id = $1 ORDER BY line_no`

	rows, err := s.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := s.scanOrder(ctx, s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (s *SQLStore) GetOrderByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1 AND idempotency_key = $2`

	order, err := s.scanOrder(ctx, s.db.QueryRowContext(ctx, query, ownerID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	return order, nil
}

func (s *SQLStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	query := `SELECT id FROM orders WHERE owner_id = $1 ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query orders by owner: %w", err)
	}
	ids, err := scanOrderIDs(rows)
	if err != nil {
		return nil, err
	}

	// ids are collected first: sqlite has one connection and cannot nest queries
	orders := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func scanOrderIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

func insertOutboxEvent(ctx context.Context, q queryer, event *domain.OutboxEvent, now time.Time) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	query := `INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4) RETURNING id`

	err := q.QueryRowContext(ctx, query,
		event.AggregateID,
		event.EventType,
		string(event.Payload),
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (s *SQLStore) AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	return insertOutboxEvent(ctx, s.db, event, s.now())
}

func (s *SQLStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e       domain.OutboxEvent
			payload string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (s *SQLStore) MarkEventAsProcessed(ctx context.Context, id int64) error {
	query := `UPDATE outbox_events SET processed_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, s.now(), id); err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx     *sql.Tx
	store  *SQLStore
	locked map[int64]bool
}

func (t *sqlTx) ProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	if !t.locked[id] {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotLocked)
	}
	return getProduct(ctx, t.tx, id)
}

func (t *sqlTx) ApplyMovement(ctx context.Context, m *domain.StockMovement, previous int64) error {
	if !t.locked[m.ProductID] {
		return fmt.Errorf("product %d: %w", m.ProductID, store.ErrNotLocked)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.store.now()
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET quantity = $1, updated_at = $2 WHERE id = $3 AND quantity = $4`,
		m.ResultingQuantity, m.CreatedAt, m.ProductID, previous)
	if err != nil {
		return fmt.Errorf("update product quantity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product quantity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", m.ProductID, store.ErrConcurrentUpdate)
	}

	query := `INSERT INTO stock_movements (product_id, delta, resulting_quantity, reason, source, reference, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err = t.tx.QueryRowContext(ctx, query,
		m.ProductID,
		m.Delta,
		m.ResultingQuantity,
		m.Reason,
		m.Source,
		m.Reference,
		m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (t *sqlTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = t.store.now()
	}

	var name, phone, email sql.NullString
	if order.Customer != nil {
		name = nullString(order.Customer.Name)
		phone = nullString(order.Customer.Phone)
		email = nullString(order.Customer.Email)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := t.tx.ExecContext(ctx, query,
		order.ID,
		order.OwnerID,
		order.Status,
		order.Subtotal,
		order.Tax,
		order.Discount,
		order.Total,
		order.Currency,
		order.PaymentMethod,
		name,
		phone,
		email,
		nullString(order.IdempotencyKey),
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (order_id, line_no, product_id, product_name, unit_price, quantity, line_total)
	              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for i, l := range order.Lines {
		_, err := t.tx.ExecContext(ctx, itemQuery, order.ID, i+1, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity, l.LineTotal)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) AddOutboxEvent(ctx context.Context, event *domain.OutboxEvent) error {
	return insertOutboxEvent(ctx, t.tx, event, t.store.now())
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ store.Store = (*SQLStore)(nil)
