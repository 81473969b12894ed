// Package cart keeps a per-user list of products to buy. Prices are always
// read live from the catalog; the cart only feeds checkout.
package cart

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// ErrEmpty is returned when checking out a cart without items.
var ErrEmpty = errors.New("cart is empty")

// Item is a cart line priced from the current catalog record.
type Item struct {
	ProductID string
	Quantity  int
	Product   *product.Product
}

// Cart is the current content of a user's cart.
type Cart struct {
	UserID string
	Items  []Item
	Total  decimal.Decimal
}

// Store persists cart quantities keyed by user and product.
type Store interface {
	Items(ctx context.Context, userID string) (map[string]int, error)
	Add(ctx context.Context, userID, productID string, qty int) (int, error)
	Set(ctx context.Context, userID, productID string, qty int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// Checkouter places orders.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
}

// Service manages carts and converts them into orders.
type Service struct {
	store    Store
	products product.Repository
	checkout Checkouter
}

// NewService creates a cart Service.
func NewService(store Store, products product.Repository, c Checkouter) *Service {
	return &Service{store: store, products: products, checkout: c}
}

// Get returns the cart of userID. Lines whose product no longer exists are
// left out.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	qty, err := s.store.Items(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	c := &Cart{UserID: userID, Total: decimal.Zero}
	if len(qty) == 0 {
		return c, nil
	}

	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load cart products")
	}
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		c.Items = append(c.Items, Item{ProductID: id, Quantity: qty[id], Product: p})
		c.Total = c.Total.Add(p.Price.Mul(decimal.NewFromInt(int64(qty[id]))))
	}
	c.Total = c.Total.Round(2)
	return c, nil
}

// AddItem adds qty units of a product, keeping the line within live stock.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, &checkout.InvalidQuantityError{ProductID: productID, Quantity: qty}
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.Items(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if current[productID]+qty > p.Stock {
		return nil, &product.InsufficientStockError{ProductID: productID, Available: p.Stock}
	}
	if _, err := s.store.Add(ctx, userID, productID, qty); err != nil {
		return nil, errors.Wrap(err, "add cart item")
	}
	return s.Get(ctx, userID)
}

// SetItem replaces the quantity of a line.
func (s *Service) SetItem(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, &checkout.InvalidQuantityError{ProductID: productID, Quantity: qty}
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if qty > p.Stock {
		return nil, &product.InsufficientStockError{ProductID: productID, Available: p.Stock}
	}
	if err := s.store.Set(ctx, userID, productID, qty); err != nil {
		return nil, errors.Wrap(err, "set cart item")
	}
	return s.Get(ctx, userID)
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	if err := s.store.Remove(ctx, userID, productID); err != nil {
		return nil, errors.Wrap(err, "remove cart item")
	}
	return s.Get(ctx, userID)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// Checkout places an order for the cart content. Clearing the cart afterwards
// is best effort: a failure is logged and the order is still returned.
func (s *Service) Checkout(ctx context.Context, userID, couponCode string) (*order.Order, error) {
	qty, err := s.store.Items(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(qty) == 0 {
		return nil, ErrEmpty
	}

	req := checkout.Request{UserID: userID, CouponCode: couponCode}
	for id, n := range qty {
		req.Items = append(req.Items, checkout.Item{ProductID: id, Quantity: n})
	}
	slices.SortFunc(req.Items, func(a, b checkout.Item) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	o, err := s.checkout.Checkout(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.Clear(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Clear cart after checkout",
			zap.String("user_id", userID),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	return o, nil
}
