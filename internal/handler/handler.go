// Package handler exposes the storefront over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Products  product.Repository
	Coupons   coupon.Repository
	Previewer *coupon.Previewer
	Checkout  *checkout.Service
	Orders    *lifecycle.Service
	Carts     *cart.Service
	Tokens    Verifier
}

// Handler serves the /api routes.
type Handler struct {
	products  product.Repository
	coupons   coupon.Repository
	previewer *coupon.Previewer
	checkout  *checkout.Service
	orders    *lifecycle.Service
	carts     *cart.Service
	tokens    Verifier
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		products:  d.Products,
		coupons:   d.Coupons,
		previewer: d.Previewer,
		checkout:  d.Checkout,
		orders:    d.Orders,
		carts:     d.Carts,
		tokens:    d.Tokens,
	}
}

// Routes returns the API router. Mount it under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/product", h.handle(h.listProducts))
	r.Get("/product/{id}", h.handle(h.getProduct))

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/order", h.handle(h.placeOrder))
		r.Get("/order", h.handle(h.listOrders))
		r.Get("/order/{id}", h.handle(h.getOrder))
		r.Delete("/order/{id}", h.handle(h.cancelOrder))

		r.Post("/coupon/validate", h.handle(h.previewCoupon))

		r.Get("/cart", h.handle(h.getCart))
		r.Delete("/cart", h.handle(h.clearCart))
		r.Post("/cart/items", h.handle(h.addCartItem))
		r.Put("/cart/items/{productId}", h.handle(h.setCartItem))
		r.Delete("/cart/items/{productId}", h.handle(h.removeCartItem))
		r.Post("/cart/checkout", h.handle(h.checkoutCart))

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Put("/product/{id}/stock", h.handle(h.setStock))
			r.Patch("/order/{id}/status", h.handle(h.updateOrderStatus))
			r.Get("/coupon", h.handle(h.listCoupons))
			r.Post("/coupon", h.handle(h.createCoupon))
			r.Get("/coupon/{id}", h.handle(h.getCoupon))
			r.Put("/coupon/{id}", h.handle(h.updateCoupon))
			r.Delete("/coupon/{id}", h.handle(h.deleteCoupon))
		})
	})
	return r
}

// RouteFinder resolves request paths to the chi route patterns of root.
func RouteFinder(root chi.Routes) httpmiddleware.RouteFunc {
	return func(r *http.Request) string {
		rctx := chi.NewRouteContext()
		if !root.Match(rctx, r.Method, r.URL.Path) {
			return ""
		}
		return rctx.RoutePattern()
	}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h *Handler) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			h.fail(w, r, err)
		}
	}
}
