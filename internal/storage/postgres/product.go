package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, name, category, price, stock`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	lockProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	setStockSQL = `UPDATE products SET stock = $2, updated_at = now()
		WHERE id = $1 RETURNING ` + productColumns

	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2 RETURNING stock`

	incrementStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 RETURNING stock`

	getStockSQL = `SELECT stock FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, category, price, stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			updated_at = now()`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	return getProduct(ctx, r.pool, getProductSQL, id)
}

func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, nil
}

func (r *ProductRepository) SetStock(ctx context.Context, id string, stock int) (*product.Product, error) {
	if stock < 0 {
		return nil, product.ErrNegativeStock
	}
	return getProduct(ctx, r.pool, setStockSQL, id, stock)
}

// Upsert inserts p or overwrites the catalog record with the same id.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if p.Stock < 0 {
		return product.ErrNegativeStock
	}
	if _, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category, p.Price, p.Stock); err != nil {
		return fmt.Errorf("upserting product %s: %w", p.ID, err)
	}
	return nil
}

func getProduct(ctx context.Context, q querier, sql string, args ...any) (*product.Product, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting product %v: %w", args[0], err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %v: %w", args[0], err)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Stock)
	return p, err
}

type txProducts struct {
	q querier
}

func (t txProducts) GetForUpdate(ctx context.Context, id string) (*product.Product, error) {
	return getProduct(ctx, t.q, lockProductSQL, id)
}

// DecrementStock relies on the stock guard in the UPDATE itself, so it is
// safe even without a prior GetForUpdate.
func (t txProducts) DecrementStock(ctx context.Context, id string, qty int) (int, error) {
	var left int
	err := t.q.QueryRow(ctx, decrementStockSQL, id, qty).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrementing stock of %s: %w", id, err)
	}

	var available int
	if err := t.q.QueryRow(ctx, getStockSQL, id).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("reading stock of %s: %w", id, err)
	}
	return 0, &product.InsufficientStockError{ProductID: id, Available: available}
}

func (t txProducts) IncrementStock(ctx context.Context, id string, qty int) (int, error) {
	var stock int
	if err := t.q.QueryRow(ctx, incrementStockSQL, id, qty).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("incrementing stock of %s: %w", id, err)
	}
	return stock, nil
}
