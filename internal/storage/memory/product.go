package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/storefront/internal/domain/product"
)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	s *Store
}

var _ product.Repository = (*ProductRepository)(nil)

// Put inserts or replaces a catalog record.
func (r *ProductRepository) Put(p product.Product) error {
	if p.Stock < 0 {
		return product.ErrNegativeStock
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.state.products[p.ID] = p
	return nil
}

func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	r.s.read(func(st *state) {
		out = make([]product.Product, 0, len(st.products))
		for _, p := range st.products {
			out = append(out, p)
		}
	})
	slices.SortFunc(out, func(a, b product.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	var (
		p  product.Product
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.products[id] })
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	r.s.read(func(st *state) {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out = append(out, p)
			}
		}
	})
	return out, nil
}

func (r *ProductRepository) SetStock(_ context.Context, id string, stock int) (*product.Product, error) {
	if stock < 0 {
		return nil, product.ErrNegativeStock
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.state.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	p.Stock = stock
	r.s.state.products[id] = p
	return &p, nil
}

type txProducts struct {
	st *state
}

func (t txProducts) GetForUpdate(_ context.Context, id string) (*product.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (t txProducts) DecrementStock(_ context.Context, id string, qty int) (int, error) {
	p, ok := t.st.products[id]
	if !ok {
		return 0, product.ErrNotFound
	}
	if p.Stock < qty {
		return 0, &product.InsufficientStockError{ProductID: id, Available: p.Stock}
	}
	p.Stock -= qty
	t.st.products[id] = p
	return p.Stock, nil
}

func (t txProducts) IncrementStock(_ context.Context, id string, qty int) (int, error) {
	p, ok := t.st.products[id]
	if !ok {
		return 0, product.ErrNotFound
	}
	p.Stock += qty
	t.st.products[id] = p
	return p.Stock, nil
}
