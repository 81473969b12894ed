package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/event"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/txn"
)

var _ txn.Manager = (*TxManager)(nil)

// TxManager opens read-committed transactions on the pool. Row locks taken
// through the Tx repositories are held until commit or rollback.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager returns a TxManager that uses the given pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// InTx runs fn in a transaction. pgx rolls back when fn fails or ctx ends
// before commit.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context, tx txn.Tx) error) error {
	return pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	})
}

type pgTx struct {
	q querier
}

func (t *pgTx) Products() product.TxRepository { return txProducts{q: t.q} }
func (t *pgTx) Coupons() coupon.TxRepository   { return txCoupons{q: t.q} }
func (t *pgTx) Orders() order.TxRepository     { return txOrders{q: t.q} }
func (t *pgTx) Events() event.TxRepository     { return txEvents{q: t.q} }
