// Package lifecycle implements order reads and status transitions after
// checkout.
package lifecycle

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/event"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/txn"
)

var (
	// ErrForbidden is returned when the requester may not access the order.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned for status changes the order cannot take.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service manages orders after they are placed.
//
// Administrators may set any status at any time, except that cancelled is
// absorbing. Cancelling returns every line's quantity to stock in the same
// transaction and is only possible before the order ships.
type Service struct {
	tm     txn.Manager
	orders order.Repository
}

// NewService creates a lifecycle Service.
func NewService(tm txn.Manager, orders order.Repository) *Service {
	return &Service{tm: tm, orders: orders}
}

// Get returns the order if requester owns it or is an administrator.
func (s *Service) Get(ctx context.Context, requester auth.Identity, id string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(requester, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// List returns orders matching f. Non-administrators only see their own.
func (s *Service) List(ctx context.Context, requester auth.Identity, f order.Filter) ([]order.Order, error) {
	if !requester.IsAdmin() {
		if f.UserID != "" && f.UserID != requester.Subject {
			return nil, ErrForbidden
		}
		f.UserID = requester.Subject
	}
	return s.orders.List(ctx, f)
}

// UpdateStatus overwrites the status of an order. Administrators only.
func (s *Service) UpdateStatus(ctx context.Context, requester auth.Identity, id string, status order.Status) (*order.Order, error) {
	if !requester.IsAdmin() {
		return nil, ErrForbidden
	}
	if status == order.StatusCancelled {
		return s.Cancel(ctx, requester, id)
	}

	var from order.Status
	if err := s.tm.InTx(ctx, func(ctx context.Context, tx txn.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == order.StatusCancelled {
			return errors.Wrapf(ErrInvalidTransition, "order %s is cancelled", id)
		}
		from = o.Status
		if err := tx.Orders().SetStatus(ctx, id, status); err != nil {
			return errors.Wrap(err, "set status")
		}
		o.Status = status
		return appendEvent(ctx, tx, event.TypeOrderStatusChanged, o)
	}); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("by", requester.Subject),
	)
	return s.orders.GetByID(ctx, id)
}

// Cancel cancels an order owned by requester, or any order for an
// administrator, and restocks its lines.
func (s *Service) Cancel(ctx context.Context, requester auth.Identity, id string) (*order.Order, error) {
	if err := s.tm.InTx(ctx, func(ctx context.Context, tx txn.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canAccess(requester, o) {
			return ErrForbidden
		}
		switch o.Status {
		case order.StatusPending, order.StatusProcessing:
		default:
			return errors.Wrapf(ErrInvalidTransition, "cannot cancel %s order", o.Status)
		}

		for _, it := range o.Items {
			if _, err := tx.Products().IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				return errors.Wrapf(err, "restock %s", it.ProductID)
			}
		}
		if err := tx.Orders().SetStatus(ctx, id, order.StatusCancelled); err != nil {
			return errors.Wrap(err, "set status")
		}
		o.Status = order.StatusCancelled
		return appendEvent(ctx, tx, event.TypeOrderCancelled, o)
	}); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", id),
		zap.String("by", requester.Subject),
	)
	return s.orders.GetByID(ctx, id)
}

func canAccess(requester auth.Identity, o *order.Order) bool {
	return requester.IsAdmin() || o.UserID == requester.Subject
}

func appendEvent(ctx context.Context, tx txn.Tx, typ string, o *order.Order) error {
	ev, err := event.ForOrder(typ, o)
	if err != nil {
		return err
	}
	if err := tx.Events().Append(ctx, ev); err != nil {
		return errors.Wrap(err, "append event")
	}
	return nil
}
