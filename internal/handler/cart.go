package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
)

func writeCart(w http.ResponseWriter, c *cart.Cart) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("userId", func(e *jx.Encoder) { e.Str(c.UserID) })
			e.Field("items", func(e *jx.Encoder) {
				e.ArrStart()
				for _, it := range c.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("product", func(e *jx.Encoder) { encodeProduct(e, it.Product) })
					})
				}
				e.ArrEnd()
			})
			e.Field("total", func(e *jx.Encoder) { money(e, c.Total) })
		})
	})
}

func decodeCartItem(w http.ResponseWriter, r *http.Request) (productID string, qty int, err error) {
	err = decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = d.Str()
		case "quantity":
			qty, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return productID, qty, err
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) error {
	c, err := h.carts.Get(r.Context(), identity(r).Subject)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) error {
	if err := h.carts.Clear(r.Context(), identity(r).Subject); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) error {
	productID, qty, err := decodeCartItem(w, r)
	if err != nil {
		return err
	}
	if productID == "" {
		return badRequest("productId is required")
	}
	c, err := h.carts.AddItem(r.Context(), identity(r).Subject, productID, qty)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request) error {
	_, qty, err := decodeCartItem(w, r)
	if err != nil {
		return err
	}
	c, err := h.carts.SetItem(r.Context(), identity(r).Subject, chi.URLParam(r, "productId"), qty)
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) error {
	c, err := h.carts.RemoveItem(r.Context(), identity(r).Subject, chi.URLParam(r, "productId"))
	if err != nil {
		return err
	}
	writeCart(w, c)
	return nil
}

func (h *Handler) checkoutCart(w http.ResponseWriter, r *http.Request) error {
	var code string
	if r.ContentLength != 0 {
		if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
			if key != "couponCode" || d.Next() == jx.Null {
				return d.Skip()
			}
			v, err := d.Str()
			code = v
			return err
		}); err != nil {
			return err
		}
	}
	o, err := h.carts.Checkout(r.Context(), identity(r).Subject, code)
	if err != nil {
		return err
	}
	writeOrder(w, http.StatusCreated, o)
	return nil
}
