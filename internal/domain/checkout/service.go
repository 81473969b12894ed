package checkout

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/event"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/txn"
)

// Item is one requested line of a checkout.
type Item struct {
	ProductID string
	Quantity  int
}

// Request holds the input for a checkout.
type Request struct {
	UserID     string
	Items      []Item
	CouponCode string
}

// Service converts requested line items into a persisted order. Stock
// verification, stock decrement, coupon redemption, and order persistence
// commit or roll back together.
type Service struct {
	tm     txn.Manager
	orders order.Repository
	now    func() time.Time

	tracer   trace.Tracer
	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(
	tm txn.Manager,
	orders order.Repository,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Service, error) {
	meter := mp.Meter("storefront/checkout")
	placed, err := meter.Int64Counter("storefront.checkout.orders",
		metric.WithDescription("Orders created by checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	rejected, err := meter.Int64Counter("storefront.checkout.rejections",
		metric.WithDescription("Checkouts aborted, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	return &Service{
		tm:       tm,
		orders:   orders,
		now:      time.Now,
		tracer:   tp.Tracer("storefront/checkout"),
		placed:   placed,
		rejected: rejected,
	}, nil
}

// Checkout places an order for req. On success the returned order is the
// committed record with items hydrated from the catalog.
func (s *Service) Checkout(ctx context.Context, req Request) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.Int("checkout.items", len(req.Items)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectionReason(rerr))))
		}
		span.End()
	}()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
	}

	o := &order.Order{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Status:     order.StatusPending,
		CouponCode: coupon.NormalizeCode(req.CouponCode),
	}
	if err := s.tm.InTx(ctx, func(ctx context.Context, tx txn.Tx) error {
		return s.place(ctx, tx, o, req.Items)
	}); err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1)
	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("coupon", o.CouponCode),
	)

	committed, err := s.orders.GetByID(ctx, o.ID)
	if err != nil {
		// Committed already, so the in-memory copy is still accurate.
		lg.Warn("Reload placed order", zap.String("order_id", o.ID), zap.Error(err))
		return o, nil
	}
	return committed, nil
}

func (s *Service) place(ctx context.Context, tx txn.Tx, o *order.Order, items []Item) error {
	locked, err := lockProducts(ctx, tx.Products(), items)
	if err != nil {
		return err
	}

	subtotal := decimal.Zero
	var categories []string
	o.Items = make([]order.OrderItem, 0, len(items))
	for _, it := range items {
		p := locked[it.ProductID]
		if p.Stock < it.Quantity {
			return &product.InsufficientStockError{ProductID: p.ID, Available: p.Stock}
		}
		left, err := tx.Products().DecrementStock(ctx, p.ID, it.Quantity)
		if err != nil {
			return errors.Wrapf(err, "decrement stock of %s", p.ID)
		}
		p.Stock = left

		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		snapshot := *p
		o.Items = append(o.Items, order.OrderItem{
			ProductID: p.ID,
			Quantity:  it.Quantity,
			Price:     p.Price,
			Product:   &snapshot,
		})
		if !slices.Contains(categories, p.Category) {
			categories = append(categories, p.Category)
		}
	}

	var redeemed *coupon.Coupon
	o.Discount = decimal.Zero
	if o.CouponCode != "" {
		c, discount, err := s.redeem(ctx, tx.Coupons(), o, subtotal, categories)
		if err != nil {
			return err
		}
		redeemed, o.Discount = c, discount
	}
	o.Total = subtotal.Sub(o.Discount).Round(2)

	now := s.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	if err := tx.Orders().Create(ctx, o); err != nil {
		return errors.Wrap(err, "create order")
	}
	if redeemed != nil {
		if err := tx.Coupons().RecordRedemption(ctx, redeemed.ID, o.UserID, o.ID); err != nil {
			return errors.Wrap(err, "record redemption")
		}
	}

	ev, err := event.ForOrder(event.TypeOrderCreated, o)
	if err != nil {
		return err
	}
	if err := tx.Events().Append(ctx, ev); err != nil {
		return errors.Wrap(err, "append event")
	}
	return nil
}

// lockProducts locks every distinct product of items in ascending id order,
// so concurrent multi-item checkouts acquire row locks in the same sequence.
func lockProducts(ctx context.Context, repo product.TxRepository, items []Item) (map[string]*product.Product, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locked := make(map[string]*product.Product, len(ids))
	for _, id := range ids {
		p, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{ProductID: id}
			}
			return nil, errors.Wrapf(err, "lock product %s", id)
		}
		locked[id] = p
	}
	return locked, nil
}

// redeem evaluates the coupon named by o against the accumulated subtotal and
// consumes one use of it.
func (s *Service) redeem(
	ctx context.Context,
	repo coupon.TxRepository,
	o *order.Order,
	subtotal decimal.Decimal,
	categories []string,
) (*coupon.Coupon, decimal.Decimal, error) {
	c, err := repo.GetForUpdate(ctx, o.CouponCode)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, decimal.Zero, coupon.ErrNotFound
		}
		return nil, decimal.Zero, errors.Wrap(err, "lock coupon")
	}

	v := coupon.Evaluate(c, subtotal, categories, s.now())
	if err := v.Err(c.Code); err != nil {
		return nil, decimal.Zero, err
	}
	if c.PerUserLimit != nil {
		used, err := repo.CountRedemptions(ctx, c.ID, o.UserID)
		if err != nil {
			return nil, decimal.Zero, errors.Wrap(err, "count redemptions")
		}
		if err := coupon.CheckUserLimit(c, used); err != nil {
			return nil, decimal.Zero, err
		}
	}
	if err := repo.IncrementUsage(ctx, c.ID); err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "increment coupon usage")
	}
	return c, v.Discount, nil
}

func rejectionReason(err error) string {
	var (
		stockErr    *product.InsufficientStockError
		notFoundErr *ProductNotFoundError
		couponErr   *coupon.RejectedError
		qtyErr      *InvalidQuantityError
	)
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &notFoundErr):
		return "product_not_found"
	case errors.As(err, &couponErr):
		return string(couponErr.Reason)
	case errors.Is(err, coupon.ErrNotFound):
		return "coupon_not_found"
	case errors.As(err, &qtyErr), errors.Is(err, ErrEmptyItems):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
