// Package txn defines the unit-of-work boundary shared by checkout and the
// order lifecycle.
package txn

import (
	"context"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/event"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Tx exposes repositories bound to a single open transaction.
type Tx interface {
	Products() product.TxRepository
	Coupons() coupon.TxRepository
	Orders() order.TxRepository
	Events() event.TxRepository
}

// Manager runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise, including when ctx is cancelled.
type Manager interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
