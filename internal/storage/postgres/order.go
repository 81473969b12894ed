package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	orderColumns = `id, user_id, total, discount, coupon_code, status, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT NULLIF($3::int, 0)`

	// Items are joined with the current catalog row for display; the
	// stored price stays the snapshot taken at checkout.
	getOrderItemsSQL = `SELECT oi.order_id, oi.product_id, oi.quantity, oi.price,
		p.name, p.category, p.price, p.stock
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.line`

	setOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

var orderItemColumns = []string{"order_id", "line", "product_id", "quantity", "price"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderSQL, id)
}

func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, f.UserID, string(f.Status), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := loadItems(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func getOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}

	items, err := loadItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]order.OrderItem, error) {
	rows, err := q.Query(ctx, getOrderItemsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]order.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      order.OrderItem
			p       product.Product
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.Price,
			&p.Name, &p.Category, &p.Price, &p.Stock); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		p.ID = it.ProductID
		it.Product = &p
		items[orderID] = append(items[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting order items: %w", err)
	}
	return items, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Total, &o.Discount, &o.CouponCode, &status, &o.CreatedAt, &o.UpdatedAt)
	o.Status = order.Status(status)
	return o, err
}

type txOrders struct {
	q querier
}

func (t txOrders) Create(ctx context.Context, o *order.Order) error {
	if _, err := t.q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Total, o.Discount, o.CouponCode, string(o.Status), o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("creating order %s: %w", o.ID, err)
	}

	lines := make([][]any, len(o.Items))
	for i, it := range o.Items {
		lines[i] = []any{o.ID, i + 1, it.ProductID, it.Quantity, it.Price}
	}
	if _, err := t.q.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(lines)); err != nil {
		return fmt.Errorf("creating items of order %s: %w", o.ID, err)
	}
	return nil
}

func (t txOrders) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, t.q, lockOrderSQL, id)
}

func (t txOrders) SetStatus(ctx context.Context, id string, status order.Status) error {
	tag, err := t.q.Exec(ctx, setOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("setting status of order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}
