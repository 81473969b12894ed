package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrNegativeStock is returned when a stock value below zero is requested.
	ErrNegativeStock = errors.New("stock must not be negative")
)

// InsufficientStockError is returned when a decrement would take stock below
// zero. Available carries the stock observed at the time of the attempt.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available", e.ProductID, e.Available)
}

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
}

// Repository defines catalog operations that run outside of a checkout
// transaction.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// SetStock overwrites the stock level. Used by catalog management only.
	SetStock(ctx context.Context, id string, stock int) (*Product, error)
}

// TxRepository is the stock accessor bound to an open transaction. Reads and
// writes through it share the transaction's lock scope.
type TxRepository interface {
	// GetForUpdate fetches the product and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Product, error)
	// DecrementStock subtracts qty only if the result stays non-negative and
	// returns the remaining stock. It returns *InsufficientStockError otherwise.
	DecrementStock(ctx context.Context, id string, qty int) (int, error)
	// IncrementStock returns qty units to the product.
	IncrementStock(ctx context.Context, id string, qty int) (int, error)
}
