// Package memory is an in-process storage backend. Transactions are
// serialized by a single lock and work on a copy of the data that replaces
// the live state only on commit.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/event"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/txn"
)

type redemption struct {
	couponID int64
	userID   string
	orderID  string
}

type state struct {
	products    map[string]product.Product
	coupons     map[int64]coupon.Coupon
	couponSeq   int64
	redemptions []redemption
	orders      map[string]order.Order
	events      []event.Event
	published   map[string]bool
}

func newState() *state {
	return &state{
		products:  make(map[string]product.Product),
		coupons:   make(map[int64]coupon.Coupon),
		orders:    make(map[string]order.Order),
		published: make(map[string]bool),
	}
}

// clone copies the containers. Values are replaced, never mutated in place,
// so sharing their nested slices and pointers is safe.
func (s *state) clone() *state {
	return &state{
		products:    maps.Clone(s.products),
		coupons:     maps.Clone(s.coupons),
		couponSeq:   s.couponSeq,
		redemptions: slices.Clone(s.redemptions),
		orders:      maps.Clone(s.orders),
		events:      slices.Clone(s.events),
		published:   maps.Clone(s.published),
	}
}

// Store holds every entity in memory.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

var _ txn.Manager = (*Store)(nil)

// InTx runs fn against a private copy of the data and publishes the copy
// when fn succeeds and ctx is still live.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx txn.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Products returns the catalog repository.
func (s *Store) Products() *ProductRepository { return &ProductRepository{s: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *CouponRepository { return &CouponRepository{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Events returns the outbox repository.
func (s *Store) Events() *EventRepository { return &EventRepository{s: s} }

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

type tx struct {
	st *state
}

func (t *tx) Products() product.TxRepository { return txProducts{st: t.st} }
func (t *tx) Coupons() coupon.TxRepository   { return txCoupons{st: t.st} }
func (t *tx) Orders() order.TxRepository     { return txOrders{st: t.st} }
func (t *tx) Events() event.TxRepository     { return txEvents{st: t.st} }
