package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrUnknownStatus is returned when parsing a value outside the status set.
	ErrUnknownStatus = errors.New("unknown order status")
)

// ParseStatus converts s into a Status, rejecting values outside the set.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
	}
}

// Order is a persisted purchase created by a successful checkout.
type Order struct {
	ID         string
	UserID     string
	Items      []OrderItem
	Total      decimal.Decimal
	Discount   decimal.Decimal
	CouponCode string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem is a single line of an order. Price is the unit price captured at
// order time and never re-read from the catalog.
type OrderItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
	// Product is the current catalog record, populated on reads for display.
	Product *product.Product
}

// Filter narrows List results. Zero values mean no restriction.
type Filter struct {
	UserID string
	Status Status
	Limit  int
}

// Repository defines order reads outside of a transaction.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
}

// TxRepository is the order accessor bound to an open transaction.
type TxRepository interface {
	// Create persists the order row and all of its items.
	Create(ctx context.Context, o *Order) error
	// GetForUpdate fetches the order with its items and locks the order row.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	SetStatus(ctx context.Context, id string, status Status) error
}
