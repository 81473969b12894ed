package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
)

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("couponCode", func(e *jx.Encoder) {
			if o.CouponCode == "" {
				e.Null()
				return
			}
			e.Str(o.CouponCode)
		})
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
					if it.Product != nil {
						e.Field("product", func(e *jx.Encoder) { encodeProduct(e, it.Product) })
					}
				})
			}
			e.ArrEnd()
		})
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
	})
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) error {
	req := checkout.Request{UserID: identity(r).Subject}
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var it checkout.Item
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "productId":
						v, err := d.Str()
						it.ProductID = v
						return err
					case "quantity":
						v, err := d.Int()
						it.Quantity = v
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				if it.ProductID == "" {
					return badRequest("items[%d].productId is required", len(req.Items))
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "couponCode":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			req.CouponCode = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return err
	}

	o, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		return err
	}
	writeOrder(w, http.StatusCreated, o)
	return nil
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	f := order.Filter{UserID: q.Get("userId")}
	if s := q.Get("status"); s != "" {
		st, err := order.ParseStatus(s)
		if err != nil {
			return err
		}
		f.Status = st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return badRequest("limit must be a non-negative integer")
		}
		f.Limit = n
	}

	orders, err := h.orders.List(r.Context(), identity(r), f)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) error {
	o, err := h.orders.Get(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeOrder(w, http.StatusOK, o)
	return nil
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) error {
	var raw string
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		raw = v
		return err
	}); err != nil {
		return err
	}
	status, err := order.ParseStatus(raw)
	if err != nil {
		return err
	}

	o, err := h.orders.UpdateStatus(r.Context(), identity(r), chi.URLParam(r, "id"), status)
	if err != nil {
		return err
	}
	writeOrder(w, http.StatusOK, o)
	return nil
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) error {
	o, err := h.orders.Cancel(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeOrder(w, http.StatusOK, o)
	return nil
}
