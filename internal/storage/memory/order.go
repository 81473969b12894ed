package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront/internal/domain/order"
)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	s *Store
}

var _ order.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	var (
		o  order.Order
		ok bool
	)
	r.s.read(func(st *state) {
		o, ok = st.orders[id]
		if ok {
			o = hydrate(st, o)
		}
	})
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

// List returns matching orders, newest first.
func (r *OrderRepository) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	var out []order.Order
	r.s.read(func(st *state) {
		for _, o := range st.orders {
			if f.UserID != "" && o.UserID != f.UserID {
				continue
			}
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			out = append(out, hydrate(st, o))
		}
	})
	slices.SortFunc(out, func(a, b order.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// hydrate attaches current catalog records to the lines of o. Stored prices
// are left untouched.
func hydrate(st *state, o order.Order) order.Order {
	items := make([]order.OrderItem, len(o.Items))
	for i, it := range o.Items {
		if p, ok := st.products[it.ProductID]; ok {
			it.Product = &p
		}
		items[i] = it
	}
	o.Items = items
	return o
}

type txOrders struct {
	st *state
}

func (t txOrders) Create(_ context.Context, o *order.Order) error {
	stored := *o
	stored.Items = make([]order.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Product = nil
		stored.Items[i] = it
	}
	t.st.orders[o.ID] = stored
	return nil
}

func (t txOrders) GetForUpdate(_ context.Context, id string) (*order.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (t txOrders) SetStatus(_ context.Context, id string, status order.Status) error {
	o, ok := t.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	t.st.orders[id] = o
	return nil
}
