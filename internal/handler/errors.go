package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var errUnauthorized = errors.New("authentication required")

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// apiError is the client-facing form of an error.
type apiError struct {
	status  int
	message string
	details func(e *jx.Encoder)
}

// classify maps domain errors to status classes. Anything unknown is an
// opaque internal error.
func classify(err error) apiError {
	var (
		bre      *badRequestError
		stockErr *product.InsufficientStockError
		pnfErr   *checkout.ProductNotFoundError
		qtyErr   *checkout.InvalidQuantityError
		rejected *coupon.RejectedError
		invalid  *coupon.InvalidError
	)
	switch {
	case errors.As(err, &bre):
		return apiError{status: http.StatusBadRequest, message: bre.msg}
	case errors.Is(err, errUnauthorized):
		return apiError{status: http.StatusUnauthorized, message: err.Error()}
	case errors.Is(err, lifecycle.ErrForbidden):
		return apiError{status: http.StatusForbidden, message: "forbidden"}
	case errors.As(err, &stockErr):
		return apiError{
			status:  http.StatusBadRequest,
			message: stockErr.Error(),
			details: func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(stockErr.ProductID) })
				e.Field("available", func(e *jx.Encoder) { e.Int(stockErr.Available) })
			},
		}
	case errors.As(err, &pnfErr):
		return apiError{
			status:  http.StatusNotFound,
			message: pnfErr.Error(),
			details: func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(pnfErr.ProductID) })
			},
		}
	case errors.As(err, &rejected):
		status := http.StatusBadRequest
		if rejected.Exhausted() {
			status = http.StatusConflict
		}
		return apiError{
			status:  status,
			message: rejected.Error(),
			details: func(e *jx.Encoder) {
				e.Field("reason", func(e *jx.Encoder) { e.Str(string(rejected.Reason)) })
				if rejected.Reason == coupon.ReasonBelowMinimum {
					e.Field("minPurchase", func(e *jx.Encoder) { money(e, rejected.MinPurchase) })
				}
			},
		}
	case errors.As(err, &invalid):
		return apiError{
			status:  http.StatusBadRequest,
			message: invalid.Error(),
			details: func(e *jx.Encoder) {
				e.Field("field", func(e *jx.Encoder) { e.Str(invalid.Field) })
			},
		}
	case errors.As(err, &qtyErr),
		errors.Is(err, checkout.ErrEmptyItems),
		errors.Is(err, cart.ErrEmpty),
		errors.Is(err, order.ErrUnknownStatus),
		errors.Is(err, product.ErrNegativeStock):
		return apiError{status: http.StatusBadRequest, message: err.Error()}
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound):
		return apiError{status: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		return apiError{status: http.StatusConflict, message: err.Error()}
	default:
		return apiError{status: http.StatusInternalServerError, message: "internal error"}
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	if ae.status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, ae.status, ae.message, ae.details)
}

func writeError(w http.ResponseWriter, status int, msg string, details func(e *jx.Encoder)) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		if details != nil {
			details(e)
		}
		e.ObjEnd()
	})
}
